package director

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"github.com/KevinKickass/OpenHarnessCore/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSettlePeriod = 10 * time.Second

	intakeBuffer = 16
)

var (
	ErrNotSettled         = errors.New("controller discovery has not settled")
	ErrControllerNotFound = errors.New("controller not found")
)

// BroadcastError lists the controllers that did not report success.
type BroadcastError struct {
	Operation string
	Failures  map[string]session.Outcome
}

func (e *BroadcastError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %s", id, e.Failures[id]))
	}
	return fmt.Sprintf("%s failed on %d controller(s): %s", e.Operation, len(ids), strings.Join(parts, ", "))
}

type Reporter interface {
	Report(message string)
}

type Config struct {
	SettlePeriod time.Duration
	VoltageLevel protocol.VoltageLevel
	Session      session.Config
}

// Director turns incoming links into controller sessions, decides when
// discovery has settled and fans commands out to every session.
type Director struct {
	cfg      Config
	logger   *zap.Logger
	handler  session.MessageHandler
	reporter Reporter

	intake chan session.Link
	gone   chan string

	mu              sync.RWMutex
	sessions        map[string]*session.Session
	state           State
	settled         bool
	lastStateChange time.Time
	onStateChange   func(Status)
}

func New(cfg Config, handler session.MessageHandler, reporter Reporter, logger *zap.Logger) *Director {
	if cfg.SettlePeriod <= 0 {
		cfg.SettlePeriod = DefaultSettlePeriod
	}
	return &Director{
		cfg:             cfg,
		logger:          logger,
		handler:         handler,
		reporter:        reporter,
		intake:          make(chan session.Link, intakeBuffer),
		gone:            make(chan string, intakeBuffer),
		sessions:        make(map[string]*session.Session),
		state:           StateSearching,
		lastStateChange: time.Now(),
	}
}

// SetStateListener registers a callback invoked after every state change.
func (d *Director) SetStateListener(fn func(Status)) {
	d.mu.Lock()
	d.onStateChange = fn
	d.mu.Unlock()
}

// Attach hands a freshly opened link to the director.
func (d *Director) Attach(ctx context.Context, link session.Link) error {
	select {
	case d.intake <- link:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type initResult struct {
	round int
}

// Run drives discovery until ctx is cancelled, then closes every session.
func (d *Director) Run(ctx context.Context) error {
	d.logger.Info("Director started", zap.Duration("settle_period", d.cfg.SettlePeriod))

	settle := time.NewTimer(d.cfg.SettlePeriod)
	defer settle.Stop()

	initDone := make(chan initResult, 1)
	round := 0

	for {
		select {
		case <-ctx.Done():
			d.closeAll()
			d.logger.Info("Director stopped")
			return nil

		case link := <-d.intake:
			d.addSession(ctx, link)
			round++
			if !d.setState(StateSearching, false) {
				d.notify()
			}
			if !settle.Stop() {
				select {
				case <-settle.C:
				default:
				}
			}
			settle.Reset(d.cfg.SettlePeriod)

		case id := <-d.gone:
			d.removeSession(id)

		case <-settle.C:
			round++
			d.setState(StateInitializing, true)
			go func(round int) {
				d.initialize(ctx)
				select {
				case initDone <- initResult{round: round}:
				case <-ctx.Done():
				}
			}(round)

		case res := <-initDone:
			if res.round == round {
				d.setState(StateOperating, true)
			}
		}
	}
}

func (d *Director) addSession(ctx context.Context, link session.Link) {
	s := session.New(link, d.cfg.Session, d.handler, d.logger)
	id := s.ID.String()

	d.mu.Lock()
	d.sessions[id] = s
	count := len(d.sessions)
	d.mu.Unlock()

	d.logger.Info("Controller attached",
		zap.String("controller", id),
		zap.String("link", link.Name()),
		zap.Int("controllers", count))

	go func() {
		select {
		case <-s.Done():
			select {
			case d.gone <- id:
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}()
}

func (d *Director) removeSession(id string) {
	d.mu.Lock()
	s, ok := d.sessions[id]
	delete(d.sessions, id)
	d.mu.Unlock()

	if !ok {
		return
	}
	d.logger.Warn("Controller detached", zap.String("controller", id), zap.String("link", s.LinkName()))
	if d.reporter != nil {
		d.reporter.Report(fmt.Sprintf("Controller on %s disconnected", s.LinkName()))
	}
	d.notify()
}

func (d *Director) closeAll() {
	d.mu.Lock()
	sessions := d.sessions
	d.sessions = make(map[string]*session.Session)
	d.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// initialize enumerates boards on every controller and applies the
// configured voltage level. Board lists reach the aggregator through the
// message handler.
func (d *Director) initialize(ctx context.Context) {
	if err := d.RefreshBoards(ctx); err != nil {
		d.logger.Error("Board enumeration failed", zap.Error(err))
		d.report(err)
	}
	if err := d.SetVoltageLevel(ctx, d.cfg.VoltageLevel); err != nil {
		d.logger.Error("Applying voltage level failed", zap.Error(err))
		d.report(err)
	}
}

func (d *Director) report(err error) {
	if d.reporter == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrNotSettled) {
		return
	}
	d.reporter.Report(err.Error())
}

func (d *Director) setState(state State, settled bool) bool {
	d.mu.Lock()
	previous := d.state
	changed := previous != state || d.settled != settled
	d.state = state
	d.settled = settled
	if changed {
		d.lastStateChange = time.Now()
	}
	d.mu.Unlock()

	if !changed {
		return false
	}
	d.logger.Info("Director state changed",
		zap.String("state", string(state)),
		zap.String("previous_state", string(previous)),
		zap.Bool("settled", settled))
	d.notify()
	return true
}

func (d *Director) notify() {
	d.mu.RLock()
	fn := d.onStateChange
	d.mu.RUnlock()

	if fn != nil {
		fn(d.Status())
	}
}

func (d *Director) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := Status{
		State:           d.state,
		Settled:         d.settled,
		LastStateChange: d.lastStateChange,
		Controllers:     make([]ControllerStatus, 0, len(d.sessions)),
	}
	for id, s := range d.sessions {
		st.Controllers = append(st.Controllers, ControllerStatus{
			ID:    id,
			Link:  s.LinkName(),
			State: string(s.State()),
		})
	}
	sort.Slice(st.Controllers, func(i, j int) bool { return st.Controllers[i].Link < st.Controllers[j].Link })
	return st
}

func (d *Director) Settled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settled
}

func (d *Director) Session(id string) (*session.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	return s, ok
}

// Broadcast runs fn on every session concurrently. It only runs once
// discovery has settled and succeeds only if every session reports Success.
func (d *Director) Broadcast(ctx context.Context, operation string, fn func(context.Context, *session.Session) session.Outcome) error {
	d.mu.RLock()
	if !d.settled {
		d.mu.RUnlock()
		return ErrNotSettled
	}
	targets := make(map[string]*session.Session, len(d.sessions))
	for id, s := range d.sessions {
		targets[id] = s
	}
	d.mu.RUnlock()

	var (
		mu       sync.Mutex
		failures = make(map[string]session.Outcome)
	)

	// No shared cancellation: every session finishes its own transaction so
	// only controllers that really failed are listed.
	var g errgroup.Group
	for id, s := range targets {
		g.Go(func() error {
			outcome := fn(ctx, s)
			if outcome == session.Success {
				return nil
			}
			mu.Lock()
			failures[id] = outcome
			mu.Unlock()
			return fmt.Errorf("%s on %s: %s", operation, id, outcome)
		})
	}

	if err := g.Wait(); err != nil {
		berr := &BroadcastError{Operation: operation, Failures: failures}
		d.logger.Warn("Broadcast failed",
			zap.String("operation", operation),
			zap.Any("failures", failures))
		return berr
	}

	d.logger.Debug("Broadcast completed",
		zap.String("operation", operation),
		zap.Int("controllers", len(targets)))
	return nil
}

func (d *Director) SetVoltageLevel(ctx context.Context, level protocol.VoltageLevel) error {
	return d.Broadcast(ctx, "set voltage level", func(ctx context.Context, s *session.Session) session.Outcome {
		return s.SetVoltageLevel(ctx, level)
	})
}

func (d *Director) RefreshBoards(ctx context.Context) error {
	return d.Broadcast(ctx, "get boards online", func(ctx context.Context, s *session.Session) session.Outcome {
		outcome, _ := s.GetBoardsOnline(ctx)
		return outcome
	})
}

func (d *Director) CheckHardware(ctx context.Context) error {
	return d.Broadcast(ctx, "check hardware", func(ctx context.Context, s *session.Session) session.Outcome {
		return s.CheckHardware(ctx)
	})
}

// CheckAll starts a whole-controller check on every session. Results stream
// in through the message handler.
func (d *Director) CheckAll(ctx context.Context, kind protocol.Kind, sequential bool) error {
	return d.Broadcast(ctx, "check "+kind.String(), func(ctx context.Context, s *session.Session) session.Outcome {
		return s.Check(ctx, kind, nil, sequential)
	})
}

// CheckPin runs a single-pin check on the controller that owns the pin.
func (d *Director) CheckPin(ctx context.Context, controllerID string, kind protocol.Kind, pin protocol.PinRef) (session.Outcome, error) {
	s, ok := d.Session(controllerID)
	if !ok {
		return session.CommunicationFailure, fmt.Errorf("%w: %s", ErrControllerNotFound, controllerID)
	}
	return s.Check(ctx, kind, &pin, false), nil
}
