package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/ZentaChain/zentalk-peer/pkg/api"
	"github.com/ZentaChain/zentalk-peer/pkg/crypto"
	"github.com/ZentaChain/zentalk-peer/pkg/logging"
	"github.com/ZentaChain/zentalk-peer/pkg/node"
	"github.com/ZentaChain/zentalk-peer/pkg/peers"
	"github.com/ZentaChain/zentalk-peer/pkg/storage"
)

// secretEnv names the environment variable holding the vault secret
const secretEnv = "ZENTALK_SECRET"

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	vaultPath  = flag.String("vault", "", "Vault path (overrides config)")
	keyPath    = flag.String("key", "", "PEM private key to use when creating a new vault")
	exportPub  = flag.String("export-pub", "", "Write the public key PEM to this path and exit")
	exportKey  = flag.String("export-key", "", "Write the private key PEM to this path and exit")
	port       = flag.Int("port", 0, "Peer port (overrides stored preferences)")
	apiAddr    = flag.String("api", "", "Enable the control API on this address")
	verbose    = flag.Bool("verbose", false, "Debug logging")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "zentalk-peer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}
	applyFlags(&cfg)

	log := logging.New(logging.Options{
		Verbose:    cfg.Log.Verbose,
		JSON:       cfg.Log.JSON,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer log.Close()

	secret := os.Getenv(secretEnv)
	if secret == "" {
		return fmt.Errorf("%s is not set", secretEnv)
	}

	vault, closeVault, err := openVault(cfg.Vault)
	if err != nil {
		return err
	}
	defer closeVault()

	store, err := unlock(vault, secret, cfg, log)
	if err != nil {
		return err
	}

	if *exportPub != "" || *exportKey != "" {
		return exportKeys(store.PrivateKey(), *exportPub, *exportKey)
	}

	if *port > 0 {
		prefs := store.Preferences()
		prefs.Port = *port
		store.SetPreferences(prefs)
	}
	bootstrap(store, cfg, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	n, err := node.New(store, node.Options{
		Log:        log.WithComponent("node"),
		Registerer: registry,
		Observer:   observer(log),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		return err
	}
	log.LogInformation(fmt.Sprintf("public key %s", store.LocalPublicKey()))

	group, groupCtx := errgroup.WithContext(ctx)
	if cfg.API.Enabled {
		apiCfg := api.DefaultConfig()
		apiCfg.Addr = cfg.API.Addr
		apiCfg.RateLimit = cfg.API.RateLimit
		apiCfg.EnableCORS = cfg.API.CORS
		apiCfg.Gatherer = registry

		server := api.NewServer(n, apiCfg, log.WithComponent("api"))
		group.Go(func() error { return server.Start(groupCtx) })
	}

	<-groupCtx.Done()
	log.LogInformation("shutting down")

	errs := multierr.Combine(group.Wait(), n.Close())
	if err := vault.Save(store, secret); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("save vault: %w", err))
	} else {
		log.LogInformation("vault saved")
	}
	return errs
}

func applyFlags(cfg *Config) {
	if *vaultPath != "" {
		cfg.Vault.Path = *vaultPath
	}
	if *apiAddr != "" {
		cfg.API.Enabled = true
		cfg.API.Addr = *apiAddr
	}
	if *verbose {
		cfg.Log.Verbose = true
	}
}

func openVault(cfg VaultConfig) (storage.Vault, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, nil, err
	}

	if cfg.Kind == "sqlite" {
		v, err := storage.NewSQLiteVault(cfg.Path, cfg.Iterations)
		if err != nil {
			return nil, nil, err
		}
		return v, v.Close, nil
	}
	return storage.NewFileVault(cfg.Path, cfg.Iterations), func() error { return nil }, nil
}

// unlock opens the vault, creating a new identity when it is empty
func unlock(vault storage.Vault, secret string, cfg Config, log *logging.Logger) (*peers.Store, error) {
	store, err := vault.Load(secret)
	if err == nil {
		log.LogInformation(fmt.Sprintf("vault unlocked: %d peers, %d endpoints", len(store.Peers()), len(store.Endpoints())))
		return store, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("unlock vault: %w", err)
	}

	priv, err := loadOrGenerateKey(*keyPath, cfg.KeyBits, log)
	if err != nil {
		return nil, err
	}

	prefs := peers.DefaultPreferences()
	if cfg.Preferences != nil {
		prefs = *cfg.Preferences
	}
	prefs.Verbose = prefs.Verbose || cfg.Log.Verbose

	store, err = peers.NewStore(priv, prefs)
	if err != nil {
		return nil, err
	}
	if err := vault.Save(store, secret); err != nil {
		return nil, fmt.Errorf("create vault: %w", err)
	}
	log.LogInformation("created new vault")
	return store, nil
}

func loadOrGenerateKey(path string, bits int, log *logging.Logger) (*rsa.PrivateKey, error) {
	if path != "" {
		pemData, err := crypto.LoadKeyFromFile(path)
		if err != nil {
			return nil, err
		}
		log.LogInformation(fmt.Sprintf("imported private key from %s", path))
		return crypto.ImportPrivateKeyPEM(pemData)
	}

	if bits == 0 {
		bits = crypto.DefaultKeyBits
	}
	log.LogInformation(fmt.Sprintf("generating RSA-%d key pair", bits))
	return crypto.GenerateRSAKeyPairSize(bits)
}

// exportKeys writes the PEM forms of the local key pair; an empty path skips
// that half
func exportKeys(priv *rsa.PrivateKey, pubPath, privPath string) error {
	if pubPath != "" {
		pemData, err := crypto.ExportPublicKeyPEM(&priv.PublicKey)
		if err != nil {
			return err
		}
		if err := crypto.SaveKeyToFile(pubPath, pemData); err != nil {
			return err
		}
	}
	if privPath != "" {
		pemData, err := crypto.ExportPrivateKeyPEM(priv)
		if err != nil {
			return err
		}
		if err := crypto.SaveKeyToFile(privPath, pemData); err != nil {
			return err
		}
	}
	return nil
}

// bootstrap adds endpoints and peers listed in the config file
func bootstrap(store *peers.Store, cfg Config, log logging.Sink) {
	for _, endpoint := range cfg.Endpoints {
		if _, err := store.AddEndpoint(endpoint); err != nil {
			log.LogWarning(fmt.Sprintf("skipping configured endpoint %q", endpoint), err)
		}
	}
	for _, key := range cfg.Peers {
		if _, _, err := store.AddPeer(key); err != nil {
			log.LogWarning("skipping configured peer", err)
		}
	}
}

func observer(log *logging.Logger) node.Observer {
	events := log.WithComponent("events")
	return node.Observer{
		OnMessage: func(from peers.RemotePeer, text string) {
			events.LogInformation(fmt.Sprintf("message from %s: %s", from.DisplayName(), text))
		},
		OnSignature: func(from peers.RemotePeer) {
			events.LogInformation(fmt.Sprintf("%s issued us a token", from.DisplayName()))
		},
		OnDiscovery: func(from peers.RemotePeer, endpoints, keys []string) {
			events.Debugf("discovery from %s: %d endpoints, %d keys", from.DisplayName(), len(endpoints), len(keys))
		},
		OnRejected: func(err error) {
			events.LogWarning("rejected packet", err)
		},
	}
}
