package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// Capacity of the control channels between loops.
	controlQueueSize = 10

	DefaultAckTimeout = 200 * time.Millisecond
)

var errTimeout = errors.New("timeout")

// Link is the framed byte transport a session runs on.
type Link interface {
	Name() string
	Send(payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Done() <-chan struct{}
	Close() error
}

// MessageHandler receives every result-form message decoded on the link.
type MessageHandler func(controllerID string, msg protocol.Message)

type Config struct {
	AckTimeout           time.Duration
	VoltageResultTimeout time.Duration
	BoardsResultTimeout  time.Duration
	CheckResultTimeout   time.Duration
}

// Session is the state machine for one connected controller. At most one
// transaction waits for a response at a time.
type Session struct {
	ID      uuid.UUID
	link    Link
	cfg     Config
	handler MessageHandler
	logger  *zap.Logger
	decoder *protocol.Decoder

	outbound  chan protocol.Command
	responses chan protocol.Message

	txMu     sync.Mutex
	awaiting atomic.Bool

	stateMu sync.RWMutex
	state   State

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

func New(link Link, cfg Config, handler MessageHandler, logger *zap.Logger) *Session {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}

	id := uuid.New()
	logger = logger.With(
		zap.String("controller", id.String()),
		zap.String("link", link.Name()))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        id,
		link:      link,
		cfg:       cfg,
		handler:   handler,
		logger:    logger,
		decoder:   protocol.NewDecoder(logger),
		outbound:  make(chan protocol.Command, controlQueueSize),
		responses: make(chan protocol.Message, controlQueueSize),
		state:     StateIdle,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	s.wg.Add(2)
	go s.receiveLoop()
	go s.sendLoop()

	go func() {
		select {
		case <-link.Done():
			s.cancel()
		case <-ctx.Done():
		}
	}()
	go func() {
		s.wg.Wait()
		close(s.done)
	}()

	logger.Info("Controller session started")
	return s
}

func (s *Session) LinkName() string {
	return s.link.Name()
}

func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// Done is closed when the session has stopped, either by Close or because
// its link went away.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.link.Close(); err != nil {
			s.logger.Warn("Link close failed", zap.Error(err))
		}
	})
	<-s.done
	s.logger.Info("Controller session stopped")
	return nil
}

// SetVoltageLevel switches the output rail and waits for the change.
func (s *Session) SetVoltageLevel(ctx context.Context, level protocol.VoltageLevel) Outcome {
	outcome, _ := s.Transact(ctx, protocol.SetVoltageLevel(level), s.cfg.VoltageResultTimeout)
	return outcome
}

// GetBoardsOnline asks the controller which board addresses answer.
func (s *Session) GetBoardsOnline(ctx context.Context) (Outcome, []uint8) {
	outcome, msg := s.Transact(ctx, protocol.GetBoardsOnline(), s.cfg.BoardsResultTimeout)
	if outcome != Success || msg == nil || !msg.Result {
		return outcome, nil
	}
	return outcome, msg.Boards
}

func (s *Session) CheckHardware(ctx context.Context) Outcome {
	outcome, _ := s.Transact(ctx, protocol.CheckHardware(), s.cfg.BoardsResultTimeout)
	return outcome
}

// Check starts a connectivity check. A single-pin check waits for its
// result; a whole-controller check only waits for the acknowledgement and
// results stream to the handler.
func (s *Session) Check(ctx context.Context, kind protocol.Kind, pin *protocol.PinRef, sequential bool) Outcome {
	cmd, err := protocol.CheckPins(kind, pin, sequential)
	if err != nil {
		s.logger.Error("Invalid check command", zap.Error(err))
		return CommunicationFailure
	}

	var resultTimeout time.Duration
	if pin != nil {
		resultTimeout = s.cfg.CheckResultTimeout
	}
	outcome, _ := s.Transact(ctx, cmd, resultTimeout)
	return outcome
}

// Transact sends cmd, waits for its acknowledgement and, when resultTimeout
// is positive, for its result. It returns the last message received.
func (s *Session) Transact(ctx context.Context, cmd protocol.Command, resultTimeout time.Duration) (Outcome, *protocol.Message) {
	if _, err := cmd.Encode(); err != nil {
		s.logger.Error("Refusing to send invalid command", zap.Error(err))
		return CommunicationFailure, nil
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.drain()
	s.awaiting.Store(true)
	defer func() {
		s.awaiting.Store(false)
		s.setState(StateIdle)
	}()

	s.setState(StateAwaitingAcknowledge)
	select {
	case s.outbound <- cmd:
	case <-s.ctx.Done():
		return CommunicationFailure, nil
	case <-ctx.Done():
		return CommunicationFailure, nil
	}

	ack, err := s.await(ctx, s.cfg.AckTimeout)
	if err != nil {
		return s.failure(cmd, err, AckTimeout), nil
	}

	outcome, complete := classifyAck(cmd, ack)
	if outcome != Success || complete || resultTimeout <= 0 {
		s.logOutcome(cmd, outcome)
		return outcome, &ack
	}

	s.setState(StateAwaitingResult)
	result, err := s.await(ctx, resultTimeout)
	if err != nil {
		return s.failure(cmd, err, PerformanceTimeout), &ack
	}

	outcome = classifyResult(cmd, result)
	s.logOutcome(cmd, outcome)
	return outcome, &result
}

func (s *Session) await(ctx context.Context, timeout time.Duration) (protocol.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-s.responses:
		return msg, nil
	case <-timer.C:
		return protocol.Message{}, errTimeout
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case <-s.ctx.Done():
		return protocol.Message{}, context.Canceled
	}
}

func (s *Session) failure(cmd protocol.Command, err error, onTimeout Outcome) Outcome {
	outcome := CommunicationFailure
	if errors.Is(err, errTimeout) {
		outcome = onTimeout
	}
	s.logOutcome(cmd, outcome)
	return outcome
}

// drain discards responses that arrived after an earlier transaction gave
// up, so they are never read as the answer to the next command.
func (s *Session) drain() {
	for {
		select {
		case msg := <-s.responses:
			s.logger.Debug("Discarding late response",
				zap.String("kind", msg.Kind.String()),
				zap.String("argument", msg.Argument))
		default:
			return
		}
	}
}

func (s *Session) logOutcome(cmd protocol.Command, outcome Outcome) {
	if outcome == Success {
		s.logger.Debug("Command completed", zap.String("command", cmd.String()))
		return
	}
	s.logger.Warn("Command failed",
		zap.String("command", cmd.String()),
		zap.String("outcome", outcome.String()))
}

func classifyAck(cmd protocol.Command, msg protocol.Message) (Outcome, bool) {
	if msg.Kind != cmd.ResponseKind() {
		return CommunicationFailure, true
	}
	if msg.Result {
		return classifyResult(cmd, msg), true
	}
	if msg.Argument != cmd.Argument() {
		return ProtocolNack, true
	}
	return Success, false
}

func classifyResult(cmd protocol.Command, msg protocol.Message) Outcome {
	if msg.Kind != cmd.ResponseKind() || !msg.Result {
		return CommunicationFailure
	}

	switch cmd.Type {
	case protocol.CommandSetVoltageLevel:
		if msg.Level != cmd.Level {
			return PerformanceFailure
		}
	case protocol.CommandCheckConnectivity, protocol.CommandCheckResistances, protocol.CommandCheckVoltages:
		if cmd.Pin != nil && (msg.Pin == nil || *msg.Pin != *cmd.Pin) {
			return CommunicationFailure
		}
	}
	return Success
}

func (s *Session) receiveLoop() {
	defer s.wg.Done()
	defer s.cancel()

	for {
		payload, err := s.link.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("Link receive ended", zap.Error(err))
			}
			return
		}

		for _, msg := range s.decoder.Feed(payload) {
			s.dispatch(msg)
		}
	}
}

// dispatch hands results to the handler before waking the waiting
// transaction, so callers observe the ingested state once Transact returns.
func (s *Session) dispatch(msg protocol.Message) {
	if msg.Result && s.handler != nil {
		s.handler(s.ID.String(), msg)
	}

	if s.awaiting.Load() {
		select {
		case s.responses <- msg:
		default:
			s.logger.Warn("Response queue full, dropping message",
				zap.String("kind", msg.Kind.String()))
		}
	}
}

func (s *Session) sendLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.outbound:
			line, err := cmd.Encode()
			if err != nil {
				s.logger.Error("Failed to encode command", zap.Error(err))
				continue
			}
			if err := s.link.Send(line); err != nil {
				s.logger.Warn("Failed to send command",
					zap.String("command", cmd.String()),
					zap.Error(err))
			}
		}
	}
}
