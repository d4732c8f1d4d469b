package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/logging"
	"github.com/urfave/negroni/v3"

	"rendezvous/internal/certs"
	"rendezvous/internal/config"
	"rendezvous/internal/keepalive"
	"rendezvous/internal/localip"
	"rendezvous/internal/opsapi"
	"rendezvous/internal/persistence"
	"rendezvous/internal/recovery"
	"rendezvous/internal/registry"
	"rendezvous/internal/signaling"
	"rendezvous/internal/stund"
	"rendezvous/internal/transport"
	"rendezvous/internal/turnd"
)

// sweepInterval is how often the TURN server reaps expired allocations.
const sweepInterval = 30 * time.Second

// App wires together the signaling HTTP(S) server, the STUN/TURN UDP
// listeners, and the persistence sink that backs inference results.
type App struct {
	cfg *config.Config
	log logging.LeveledLogger

	httpServer *http.Server
	stunServer *stund.Server
	turnServer *turnd.Server
	store      *persistence.Store

	manager  *signaling.Manager
	registry *registry.Registry
}

// New builds an App from configuration but does not start listening.
func New() (*App, error) {
	cfg := config.Load()
	log := createLogger(cfg)

	store, err := persistence.Open(cfg.DatabaseURL, cfg.JSONLPath, log)
	if err != nil {
		return nil, fmt.Errorf("app: open persistence store: %w", err)
	}

	manager := signaling.NewManager(store, log)
	reg := registry.New()

	stunServer, err := stund.New(cfg.STUNAddr, log)
	if err != nil {
		return nil, fmt.Errorf("app: start stun listener: %w", err)
	}
	turnServer, err := turnd.New(cfg.TURNAddr, log)
	if err != nil {
		return nil, fmt.Errorf("app: start turn listener: %w", err)
	}

	if cfg.TLSEnabled {
		if err := certs.EnsureSelfSigned(cfg.TLSCertPath, cfg.TLSKeyPath, localip.AllHosts()); err != nil {
			return nil, fmt.Errorf("app: ensure tls cert: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/", &transport.Handler{
		Manager:  manager,
		Registry: reg,
		Store:    store,
		Logger:   log,
		Keepalive: keepalive.Config{
			PingInterval:  cfg.KeepalivePingInt,
			PongWaitTime:  cfg.KeepalivePongWait,
			WriteDeadline: cfg.WriteDeadline,
		},
	})

	// Serves the sender/viewer demo page, grounded in the teacher's
	// indexHandler (there template-rendered; here plain files, since the
	// client discovers its WebSocket URL from window.location itself).
	mux.Handle("/", http.FileServer(http.Dir("web")))

	ops := &opsapi.Handlers{
		Logger:  log,
		Manager: manager,
		IceServers: []opsapi.IceServer{
			{URLs: []string{"stun:localhost" + cfg.STUNAddr}},
			{URLs: []string{"turn:localhost" + cfg.TURNAddr}},
		},
	}
	ops.RegisterRoutes(mux)

	n := negroni.New()
	n.Use(negroni.NewLogger())
	n.UseFunc(func(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		recovery.RecoveryMiddleware(log, next).ServeHTTP(w, r)
	})
	n.UseHandler(mux)

	httpServer := &http.Server{
		Addr:         cfg.SignalingAddr,
		Handler:      n,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("app: load tls key pair: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	return &App{
		cfg:        cfg,
		log:        log,
		httpServer: httpServer,
		stunServer: stunServer,
		turnServer: turnServer,
		store:      store,
		manager:    manager,
		registry:   reg,
	}, nil
}

// Run starts every listener and blocks until a shutdown signal arrives or
// one of the listeners fails.
func (a *App) Run() error {
	serverErrors := make(chan error, 3)

	go func() {
		a.log.Infof("🔗 signaling server listening on %s (tls=%v)", a.cfg.SignalingAddr, a.cfg.TLSEnabled)
		if a.cfg.TLSEnabled {
			serverErrors <- a.httpServer.ListenAndServeTLS(a.cfg.TLSCertPath, a.cfg.TLSKeyPath)
		} else {
			serverErrors <- a.httpServer.ListenAndServe()
		}
	}()

	go func() {
		a.log.Infof("🧊 stun server listening on %s", a.cfg.STUNAddr)
		serverErrors <- a.stunServer.Serve()
	}()

	go func() {
		a.log.Infof("🔀 turn server listening on %s", a.cfg.TURNAddr)
		serverErrors <- a.turnServer.Serve()
	}()

	sweepDone := make(chan struct{})
	go a.sweepTURNAllocations(sweepDone)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.log.Infof("received signal: %v, initiating graceful shutdown", sig)
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			a.log.Errorf("listener error: %v", err)
			close(sweepDone)
			return err
		}
	}

	close(sweepDone)
	return a.shutdown()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.log.Infof("shutting down signaling server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.log.Errorf("http server shutdown error: %v", err)
	}

	recovery.SafeCloser(a.log, a.stunServer.Conn().Close, "stun listener")
	recovery.SafeCloser(a.log, a.turnServer.Conn().Close, "turn listener")

	if a.store != nil {
		recovery.SafeCloser(a.log, a.store.Close, "persistence store")
	}

	a.log.Infof("✅ shutdown complete")
	return nil
}

// sweepTURNAllocations reaps expired TURN allocations on a fixed interval,
// the same ticker-driven background pattern the teacher uses for keyframe
// dispatch.
func (a *App) sweepTURNAllocations(done <-chan struct{}) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := a.turnServer.SweepExpired(time.Now()); n > 0 {
				a.log.Debugf("turn: swept %d expired allocations", n)
			}
		case <-done:
			return
		}
	}
}

func createLogger(cfg *config.Config) logging.LeveledLogger {
	loggerFactory := logging.NewDefaultLoggerFactory()

	switch cfg.LogLevel {
	case "debug":
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	case "info":
		loggerFactory.DefaultLogLevel = logging.LogLevelInfo
	case "warn":
		loggerFactory.DefaultLogLevel = logging.LogLevelWarn
	case "error":
		loggerFactory.DefaultLogLevel = logging.LogLevelError
	default:
		loggerFactory.DefaultLogLevel = logging.LogLevelInfo
	}

	return loggerFactory.NewLogger("rendezvous")
}
