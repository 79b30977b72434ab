package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	flowinadapter "flowsync/internal/modules/flow/adapter/in"
	flowservice "flowsync/internal/modules/flow/service"
	flowusecase "flowsync/internal/modules/flow/usecase"
	relayinadapter "flowsync/internal/modules/relay/adapter/in"
	relayoutadapter "flowsync/internal/modules/relay/adapter/out"
	relayout "flowsync/internal/modules/relay/port/out"
	relayservice "flowsync/internal/modules/relay/service"
	relayusecase "flowsync/internal/modules/relay/usecase"
	transportoutadapter "flowsync/internal/modules/transport/adapter/out"
	transportout "flowsync/internal/modules/transport/port/out"
	transportservice "flowsync/internal/modules/transport/service"
	"flowsync/internal/platform/clock"
	"flowsync/internal/platform/config"
	"flowsync/internal/platform/id"
	"flowsync/internal/platform/logging"
	"flowsync/internal/platform/wsconn"
	uiapp "flowsync/internal/ui/app"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
	discoverWindow  = 3 * time.Second
)

type App struct {
	FlowCLI  flowinadapter.CLIHandler
	RelayCLI relayinadapter.CLIHandler

	cfg       config.Config
	logger    *logging.Golog
	registry  *transportservice.Registry
	canvas    flowservice.CanvasOptions
	store     transportout.SnapshotStore
	authority relayout.TokenAuthority
	announcer relayoutadapter.ZeroconfAnnouncer
	closers   []func()
}

// New wires adapters into services and use cases. Every command shares one App; relay
// networking only starts in ServeRelay.
func New(cfg config.Config) (*App, error) {
	return NewWithOutput(cfg, os.Stderr)
}

func NewWithOutput(cfg config.Config, logOut io.Writer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logOut, level)
	clk := clock.SystemClock{}

	app := &App{
		cfg:       cfg,
		logger:    logger,
		announcer: relayoutadapter.NewZeroconfAnnouncer(discoverWindow),
	}

	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	app.store = store
	app.closers = append(app.closers, closeStore)

	if cfg.Relay.JWTSecret != "" {
		authority, err := relayoutadapter.NewJWTAuthority(cfg.Relay.JWTSecret, clk.Now)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("new token authority: %w", err)
		}
		app.authority = authority
	}

	offline := cfg.Client.RelayURL == ""
	var dialer transportout.Dialer = transportoutadapter.OfflineDialer{}
	if !offline {
		dialer = transportoutadapter.NewWebsocketDialer(cfg.Client.RelayURL, cfg.Client.Token, wsconn.DefaultSettings())
	}
	// Without a relay the local store is the only place edits survive.
	var clientStore transportout.SnapshotStore
	if offline || cfg.Client.PersistLocal {
		clientStore = store
	}
	app.registry = transportservice.NewRegistry(dialer, clientStore, transportservice.Settings{
		RawUpdates:       cfg.Client.RawUpdates,
		HandshakeTimeout: cfg.Client.HandshakeTimeout,
		MinBackoff:       cfg.Client.MinBackoff,
		MaxBackoff:       cfg.Client.MaxBackoff,
	}, logger.With("session"))
	app.closers = append(app.closers, app.registry.Close)

	app.canvas = flowservice.CanvasOptions{
		Clock:           clk,
		IDs:             id.NewULID(),
		CursorIdle:      cfg.Canvas.CursorIdle,
		HistoryDebounce: cfg.Canvas.HistoryDebounce,
		HistoryDepth:    cfg.Canvas.HistoryDepth,
		Logger:          logger.With("flow"),
	}
	app.FlowCLI = flowinadapter.NewCLIHandler(flowusecase.NewInteractor(app.registry, flowusecase.Options{
		Canvas: app.canvas,
		NoWait: offline,
	}))

	// Inspection commands run without clients, so this hub never holds a room.
	inspect := relayusecase.NewInteractor(
		relayservice.NewHub(store, nil, relayservice.Settings{}, logger.With("relay")),
		store,
		app.authority,
		app.announcer,
	)
	app.RelayCLI = relayinadapter.NewCLIHandler(inspect)
	return app, nil
}

// openStore selects the snapshot backend. The returned closer is never nil.
func openStore(cfg config.StoreConfig) (transportout.SnapshotStore, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "", config.StoreNone:
		return nil, noop, nil
	case config.StoreFile:
		return transportoutadapter.NewFileSnapshotStore(filepath.Join(cfg.Path, "snapshots")), noop, nil
	case config.StoreBolt:
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, noop, fmt.Errorf("create store dir: %w", err)
		}
		store, err := transportoutadapter.NewBoltSnapshotStore(filepath.Join(cfg.Path, "snapshots.db"))
		if err != nil {
			return nil, noop, fmt.Errorf("open bolt store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case config.StoreSQLite:
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, noop, fmt.Errorf("create store dir: %w", err)
		}
		store, err := transportoutadapter.NewSQLiteSnapshotStore(filepath.Join(cfg.Path, "snapshots.sqlite"))
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case config.StorePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		store, err := transportoutadapter.NewPostgresSnapshotStore(ctx, transportoutadapter.PostgresOptions{ConnString: cfg.DSN})
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres store: %w", err)
		}
		return store, store.Close, nil
	case config.StoreRedis:
		store := transportoutadapter.NewRedisSnapshotStore(transportoutadapter.RedisOptions{Addr: cfg.Addr, Prefix: cfg.Prefix})
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Close releases every session and backend connection, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ServeRelay runs the relay until ctx is done, then drains clients and persists every
// open room before returning.
func ServeRelay(ctx context.Context, app *App) error {
	cfg := app.cfg.Relay
	logger := app.logger.With("relay")

	var broker relayout.Broker
	if cfg.BrokerRedis != "" {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		redisBroker, err := relayoutadapter.NewRedisBroker(connectCtx, relayoutadapter.RedisBrokerOptions{
			Addr:   cfg.BrokerRedis,
			Prefix: app.cfg.Store.Prefix,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		defer func() { _ = redisBroker.Close() }()
		broker = redisBroker
	}

	hub := relayservice.NewHub(app.store, broker, relayservice.Settings{PersistEvery: cfg.PersistEvery}, logger)
	handler := relayinadapter.NewHTTPHandler(
		relayusecase.NewInteractor(hub, app.store, app.authority, app.announcer),
		wsconn.DefaultSettings(),
		logger,
	)

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	server := &http.Server{Handler: handler.Router(), ReadHeaderTimeout: 10 * time.Second}

	runCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(runCtx)

	if cfg.MDNS {
		port := listener.Addr().(*net.TCPAddr).Port
		stop, err := app.announcer.Announce(hub.Instance(), port)
		if err != nil {
			logger.Warn("mdns announce: %v", err)
		} else {
			defer stop()
			logger.Info("announced as %s on port %d", hub.Instance(), port)
		}
	}

	if app.authority == nil {
		logger.Warn("no jwt secret configured; every room is open")
	}
	logger.Info("listening on %s", listener.Addr())

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			hub.Close()
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.Close()
	hub.Flush()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("relay stopped")
	return nil
}

// RunWatchTUI opens the live room view. Watching and palette edits share one session,
// so edits never wait on a handshake of their own.
func RunWatchTUI(app *App, room, peerName string) error {
	live := flowinadapter.NewCLIHandler(flowusecase.NewInteractor(app.registry, flowusecase.Options{
		Canvas:   app.canvas,
		NoWait:   true,
		PeerName: peerName,
	}))
	model := uiapp.NewModel(room, live, live)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err := program.Run()
	return err
}
