package network

// Handler receives framed packets from the server. Buffers are still
// encrypted; decoding and decryption belong to the handler.
//
// Calls for one connection are made sequentially in arrival order. Calls for
// different connections may run concurrently.
type Handler interface {
	OnPingReceived(endpoint string)
	OnMessageReceived(keyBuf, messageBuf []byte)
	OnSignatureReceived(buf []byte)
	OnDiscoveryReceived(keyBuf, discoveryBuf []byte)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields ignore the event.
type HandlerFuncs struct {
	Ping      func(endpoint string)
	Message   func(keyBuf, messageBuf []byte)
	Signature func(buf []byte)
	Discovery func(keyBuf, discoveryBuf []byte)
}

func (h HandlerFuncs) OnPingReceived(endpoint string) {
	if h.Ping != nil {
		h.Ping(endpoint)
	}
}

func (h HandlerFuncs) OnMessageReceived(keyBuf, messageBuf []byte) {
	if h.Message != nil {
		h.Message(keyBuf, messageBuf)
	}
}

func (h HandlerFuncs) OnSignatureReceived(buf []byte) {
	if h.Signature != nil {
		h.Signature(buf)
	}
}

func (h HandlerFuncs) OnDiscoveryReceived(keyBuf, discoveryBuf []byte) {
	if h.Discovery != nil {
		h.Discovery(keyBuf, discoveryBuf)
	}
}
