package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenHarnessCore/internal/api/rest"
	"github.com/KevinKickass/OpenHarnessCore/internal/api/websocket"
	"github.com/KevinKickass/OpenHarnessCore/internal/boards"
	"github.com/KevinKickass/OpenHarnessCore/internal/config"
	"github.com/KevinKickass/OpenHarnessCore/internal/director"
	"github.com/KevinKickass/OpenHarnessCore/internal/discovery"
	"github.com/KevinKickass/OpenHarnessCore/internal/interfaces"
	"github.com/KevinKickass/OpenHarnessCore/internal/pinout"
	"github.com/KevinKickass/OpenHarnessCore/internal/reporting"
	"github.com/KevinKickass/OpenHarnessCore/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const restShutdownTimeout = 5 * time.Second

// LifecycleManager owns every long-running component and wires them together.
type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	reporter   *reporting.Reporter
	pinout     *pinout.FileSource
	boards     *boards.Manager
	director   *director.Director
	supervisor *discovery.Supervisor
	hub        *websocket.Hub
	db         *storage.PostgresClient
	results    *storage.ResultStore
	restServer *rest.Server

	cancel      context.CancelFunc
	group       *errgroup.Group
	unsubscribe func()

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    error

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager builds the component graph. db may be nil, in which
// case no result history is kept.
func NewLifecycleManager(cfg *config.Config, db *storage.PostgresClient, logger *zap.Logger) (*LifecycleManager, error) {
	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		db:           db,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	lm.reporter = reporting.NewReporter(logger.Named("report"), reporting.DefaultWindow)

	src, err := pinout.NewFileSource(cfg.Pinout.Path, logger.Named("pinout"))
	if err != nil {
		return nil, err
	}
	lm.pinout = src

	opts := boards.Options{
		Pinout:   src,
		Reporter: lm.reporter,
	}
	if db != nil {
		lm.results = storage.NewResultStore(db, logger.Named("results"))
		opts.Recorder = lm.results
	}
	lm.boards = boards.NewManager(cfg.BoardsConfig(), opts, logger.Named("boards"))

	lm.director = director.New(cfg.DirectorConfig(), lm.boards.HandleMessage, lm.reporter, logger.Named("director"))
	lm.supervisor = discovery.NewSupervisor(cfg.DiscoveryConfig(), lm.director, lm.reporter, logger.Named("discovery"))

	lm.hub = websocket.NewHub(logger.Named("ws"), lm.boards)
	lm.reporter.SetNotifier(lm.hub)
	lm.director.SetStateListener(func(st director.Status) {
		lm.hub.Broadcast(websocket.NewMessage(websocket.MessageTypeDirectorState, st))
	})

	return lm, nil
}

func (lm *LifecycleManager) Config() *config.Config       { return lm.config }
func (lm *LifecycleManager) Director() *director.Director { return lm.director }
func (lm *LifecycleManager) Boards() *boards.Manager      { return lm.boards }

func (lm *LifecycleManager) Results() *storage.ResultStore {
	return lm.results
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

// Start launches background components, begins dialing controllers and
// opens the REST API.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenHarnessCore")

	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	lm.group = g

	g.Go(func() error {
		lm.hub.Run(gctx)
		return nil
	})

	events, unsubscribe := lm.boards.Subscribe()
	lm.unsubscribe = unsubscribe
	g.Go(func() error {
		lm.hub.Forward(gctx, events)
		return nil
	})

	g.Go(func() error {
		return lm.director.Run(gctx)
	})

	if lm.results != nil {
		g.Go(func() error {
			lm.results.Run(gctx)
			return nil
		})
	}

	if err := lm.boards.ReloadPinout(gctx); err != nil && !errors.Is(err, pinout.ErrNoSource) {
		lm.logger.Warn("Starting without pinout", zap.Error(err))
	}

	lm.watchLinks(gctx, g)

	lm.restServer = rest.NewServer(lm.config.Server.HTTPPort, lm, lm.logger.Named("rest"), lm.hub)
	if err := lm.restServer.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("tcp_links", len(lm.config.Links.TCP)),
		zap.Int("serial_links", len(lm.config.Links.Serial)),
		zap.Bool("mdns", lm.config.Links.MDNS.Enabled),
		zap.Bool("result_history", lm.results != nil))

	return nil
}

func (lm *LifecycleManager) watchLinks(ctx context.Context, g *errgroup.Group) {
	links := lm.config.Links
	for _, addr := range links.TCP {
		lm.supervisor.Watch(ctx, discovery.TCPEndpoint(addr, lm.config.Transport.DialTimeout))
	}
	for _, sc := range links.Serial {
		lm.supervisor.Watch(ctx, discovery.SerialEndpoint(sc))
	}

	if !links.MDNS.Enabled {
		return
	}
	browser := discovery.NewMDNSBrowser(links.MDNS.Service, lm.config.Transport.DialTimeout, lm.supervisor, lm.logger.Named("mdns"))
	g.Go(func() error {
		// Static links keep working without mDNS.
		if err := browser.Run(ctx); err != nil {
			lm.logger.Error("mDNS discovery stopped", zap.Error(err))
		}
		return nil
	})
}

// Shutdown stops the REST API, every controller link and the background
// components. It is safe to call more than once.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	if lm.restServer != nil {
		restCtx, cancel := context.WithTimeout(ctx, restShutdownTimeout)
		if err := lm.restServer.Shutdown(restCtx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
		cancel()
	}

	if lm.cancel != nil {
		lm.cancel()
	}

	done := make(chan error, 1)
	go func() {
		lm.supervisor.Wait()
		var err error
		if lm.group != nil {
			err = lm.group.Wait()
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		errs = append(errs, fmt.Errorf("shutdown timeout exceeded"))
	}

	if lm.unsubscribe != nil {
		lm.unsubscribe()
	}
	if lm.db != nil {
		lm.db.Close()
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state change", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.currentState = StateError
	lm.lastError = err
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	return interfaces.SystemStatus{
		State:        state.String(),
		Director:     lm.director.Status(),
		BoardCount:   len(lm.boards.Addresses()),
		StoreEnabled: lm.results != nil,
		Clients:      lm.hub.GetClientCount(),
	}
}
