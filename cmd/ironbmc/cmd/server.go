package cmd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironbmc/accounts"
	"github.com/jmcleod/ironbmc/api"
	"github.com/jmcleod/ironbmc/internal/util"
	"github.com/jmcleod/ironbmc/locks"
	"github.com/jmcleod/ironbmc/persistence"
	boltstorage "github.com/jmcleod/ironbmc/persistence/bolt"
	"github.com/jmcleod/ironbmc/session"
)

// serverConfig is populated from the environment; flags override.
type serverConfig struct {
	Port          int           `env:"IRONBMC_PORT" envDefault:"8443"`
	DataDir       string        `env:"IRONBMC_DATA_DIR" envDefault:"./ironbmc-data"`
	TLSCert       string        `env:"IRONBMC_TLS_CERT"`
	TLSKey        string        `env:"IRONBMC_TLS_KEY"`
	ClientCAFile  string        `env:"IRONBMC_CLIENT_CA"`
	AdminPassword string        `env:"IRONBMC_ADMIN_PASSWORD"`
	FlushInterval time.Duration `env:"IRONBMC_FLUSH_INTERVAL" envDefault:"10s"`
}

var (
	flagPort    int
	flagDataDir string
	flagTLSCert string
	flagTLSKey  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the management controller web service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := env.ParseAs[serverConfig]()
		if err != nil {
			return fmt.Errorf("parsing environment: %w", err)
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = flagPort
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.DataDir = flagDataDir
		}
		if cmd.Flags().Changed("tls-cert") {
			cfg.TLSCert = flagTLSCert
		}
		if cmd.Flags().Changed("tls-key") {
			cfg.TLSKey = flagTLSKey
		}
		return runServer(cfg)
	},
}

func runServer(cfg serverConfig) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	backend, err := boltstorage.Open(filepath.Join(cfg.DataDir, "state.db"))
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer backend.Close()

	// A buffered, coalescing signal: the store fires it when the mutual TLS
	// toggle flips and the listener must be rebuilt.
	reloadTransport := make(chan struct{}, 1)
	lockReg := locks.NewRegistry()
	store := session.NewStore(
		session.WithLogger(logger),
		session.WithLockReleaser(lockReg),
		session.WithTransportReload(func() {
			select {
			case reloadTransport <- struct{}{}:
			default:
			}
		}),
	)

	adapter := persistence.NewAdapter(backend, logger)
	if err := adapter.Load(store); err != nil {
		return fmt.Errorf("restoring persisted state: %w", err)
	}
	// Loading persisted config may have flipped the TLS toggle relative to
	// the defaults; the listener built below already reflects it.
	select {
	case <-reloadTransport:
	default:
	}

	registry := accounts.NewRegistry()
	if err := bootstrapAdmin(registry, cfg.AdminPassword); err != nil {
		return err
	}

	a := api.New(store, registry,
		api.WithLogger(logger),
		api.WithLockRegistry(lockReg),
	)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Mount("/api/v1", a.Router())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		adapter.Run(ctx, store, cfg.FlushInterval)
	}()

	cert, err := serverCertificate(cfg, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Starting server on port %d (data: %s)...\n", cfg.Port, cfg.DataDir)

	// The serve loop restarts the listener whenever the mutual TLS toggle
	// changes, applying the new client certificate policy.
	for {
		tlsConfig, err := transportConfig(cfg, cert, store.AuthMethodsConfig().TLS)
		if err != nil {
			return err
		}
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
				return
			}
			serveErr <- nil
		}()

		select {
		case err := <-serveErr:
			stop()
			<-flusherDone
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-reloadTransport:
			logger.Info("mutual TLS toggle changed, recreating listener")
			shutdownServer(server)
		case <-ctx.Done():
			fmt.Println("Shutting down...")
			shutdownServer(server)
			<-flusherDone
			return nil
		}
	}
}

func shutdownServer(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// bootstrapAdmin provisions the initial administrator. A configured password
// is taken as-is; otherwise a random one is generated and printed once, and
// the account is gated to change it at first login.
func bootstrapAdmin(registry *accounts.Registry, configured string) error {
	password := configured
	if password == "" {
		generated, err := session.GenerateToken(session.TokenSize)
		if err != nil {
			return fmt.Errorf("generating initial admin password: %w", err)
		}
		password = generated
		fmt.Printf("Initial admin password (change at first login): %s\n", password)
	}
	return registry.Create("admin",
		memguard.NewBufferFromBytes([]byte(password)),
		api.RoleAdministrator,
		[]string{"redfish"},
		configured == "",
	)
}

func serverCertificate(cfg serverConfig, logger *slog.Logger) (tls.Certificate, error) {
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("loading TLS key pair: %w", err)
		}
		return cert, nil
	}
	cert, err := util.GenerateSelfSignedCert()
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating self-signed certificate: %w", err)
	}
	logger.Warn("no TLS key pair configured, using a self-signed runtime certificate")
	return cert, nil
}

func transportConfig(cfg serverConfig, cert tls.Certificate, mutualTLS bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if !mutualTLS {
		return tlsConfig, nil
	}

	tlsConfig.ClientAuth = tls.RequestClientCert
	if cfg.ClientCAFile != "" {
		pem, err := os.ReadFile(cfg.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("reading client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("client CA file %s contains no certificates", cfg.ClientCAFile)
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return tlsConfig, nil
}

func init() {
	serverCmd.Flags().IntVar(&flagPort, "port", 8443, "Port to listen on")
	serverCmd.Flags().StringVar(&flagDataDir, "data-dir", "./ironbmc-data", "Directory for persistent state")
	serverCmd.Flags().StringVar(&flagTLSCert, "tls-cert", "", "Path to TLS certificate (PEM)")
	serverCmd.Flags().StringVar(&flagTLSKey, "tls-key", "", "Path to TLS private key (PEM)")
	rootCmd.AddCommand(serverCmd)
}
