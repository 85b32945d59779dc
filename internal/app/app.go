package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lucia/internal/config"
	"github.com/dokzlo13/lucia/internal/discovery"
	"github.com/dokzlo13/lucia/internal/pairing"
)

// ErrInvalidRequest is returned for command input that cannot be sent to the bridge.
var ErrInvalidRequest = errors.New("invalid request")

// App is the command container: it owns the configuration, the history
// store and the user-facing output of a single CLI invocation.
type App struct {
	cfg        *config.Config
	configPath string
	out        io.Writer
	services   *Services

	discoverer  *discovery.Discoverer
	pairingOpts []pairing.Option
}

// Option configures an App.
type Option func(*App)

// WithOutput redirects user-facing output (default stdout).
func WithOutput(w io.Writer) Option {
	return func(a *App) {
		a.out = w
	}
}

// WithDiscoverer replaces the mDNS discoverer.
func WithDiscoverer(d *discovery.Discoverer) Option {
	return func(a *App) {
		a.discoverer = d
	}
}

// WithPairingOptions passes extra options to the pairing orchestrator.
func WithPairingOptions(opts ...pairing.Option) Option {
	return func(a *App) {
		a.pairingOpts = append(a.pairingOpts, opts...)
	}
}

// New creates an App for cfg, which was loaded from configPath.
func New(cfg *config.Config, configPath string, opts ...Option) *App {
	a := &App{
		cfg:        cfg,
		configPath: configPath,
		out:        os.Stdout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.discoverer == nil {
		a.discoverer = discovery.New()
	}
	a.services = NewServices(cfg)
	return a
}

// RunID identifies this invocation in the command history.
func (a *App) RunID() string {
	return a.services.RunID
}

// Close releases all resources.
func (a *App) Close() {
	a.services.Close()
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
