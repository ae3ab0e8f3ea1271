package boards

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/KevinKickass/OpenHarnessCore/internal/pinout"
	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"go.uber.org/zap"
)

var (
	ErrPinNotFound   = errors.New("pin not found")
	ErrBoardNotFound = errors.New("board not found")
)

// Reporter receives human readable failures for the operator.
type Reporter interface {
	Report(message string)
}

// ResultRecorder persists committed pin results. Record must not block.
type ResultRecorder interface {
	Record(controllerID string, pin PinSnapshot)
}

type Config struct {
	Thresholds    Thresholds
	ListThreshold float64
}

func DefaultConfig() Config {
	return Config{
		Thresholds:    DefaultThresholds(),
		ListThreshold: DefaultListThreshold,
	}
}

type Options struct {
	Pinout   pinout.Source
	Reporter Reporter
	Recorder ResultRecorder
}

// Manager owns every board and pin and aggregates controller results into
// the connectivity graph.
type Manager struct {
	cfg    Config
	opts   Options
	logger *zap.Logger
	ids    *IDAllocator
	events eventBus

	mu         sync.RWMutex
	boards     map[uint8]*IoBoard
	params     map[uint8]InternalParameters
	generation uint64
	interp     *pinout.Interpretation
}

func NewManager(cfg Config, opts Options, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		ids:    NewIDAllocator(),
		boards: make(map[uint8]*IoBoard),
		params: make(map[uint8]InternalParameters),
	}
}

// Subscribe returns a channel of aggregator events and a function that
// cancels the subscription.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.subscribe()
}

func (m *Manager) report(message string) {
	if m.opts.Reporter != nil {
		m.opts.Reporter.Report(message)
	}
}

// HandleMessage ingests one result-form message from a controller session.
func (m *Manager) HandleMessage(controllerID string, msg protocol.Message) {
	logger := m.logger.With(
		zap.String("controller", controllerID),
		zap.String("kind", msg.Kind.String()))

	switch {
	case msg.Kind == protocol.KindHardware:
		if msg.Argument != "" {
			logger.Info("Hardware check reported", zap.Any("boards", msg.Boards))
			return
		}
		m.ReplaceBoards(context.Background(), controllerID, msg.Boards)

	case msg.Kind.IsConnectivity():
		if msg.Pin == nil {
			logger.Warn("Connectivity result without master pin", zap.String("argument", msg.Argument))
			return
		}
		if err := m.UpdateConnectionsForPin(controllerID, *msg.Pin, ObservationsFromMessage(msg)); err != nil {
			logger.Error("Failed to ingest connectivity result", zap.Error(err))
			m.report(fmt.Sprintf("Measurement for pin %s dropped: %v", msg.Pin, err))
		}

	case msg.Kind == protocol.KindVoltageLevel:
		m.SetVoltageLevel(controllerID, msg.Level)

	default:
		logger.Debug("Ignoring message")
	}
}

// ReplaceBoards discards every board owned by controllerID and builds fresh
// boards for addrs, then reapplies the pinout.
func (m *Manager) ReplaceBoards(ctx context.Context, controllerID string, addrs []uint8) {
	m.mu.Lock()
	for addr, b := range m.boards {
		if b.ControllerID == controllerID {
			delete(m.boards, addr)
		}
	}

	for _, addr := range addrs {
		if err := protocol.ValidateBoardAddress(int(addr)); err != nil {
			m.logger.Warn("Skipping invalid board address", zap.Error(err))
			continue
		}
		if old, ok := m.boards[addr]; ok {
			m.logger.Warn("Board address reported by two controllers",
				zap.Uint8("board", addr),
				zap.String("previous", old.ControllerID),
				zap.String("controller", controllerID))
		}

		m.generation++
		group := PinGroup{ID: m.ids.GroupID(boardGroupKey(addr))}
		b := newBoard(addr, controllerID, m.generation, group, m.ids)
		if p, ok := m.params[addr]; ok {
			b.applyParameters(p)
		}
		m.boards[addr] = b
	}
	m.mu.Unlock()

	m.logger.Info("Boards replaced",
		zap.String("controller", controllerID),
		zap.Any("boards", addrs))

	if err := m.ReloadPinout(ctx); err != nil && !errors.Is(err, pinout.ErrNoSource) {
		m.logger.Warn("Pinout reload after board enumeration failed", zap.Error(err))
	}

	m.events.publish(Event{Type: EventBoardsUpdated, ControllerID: controllerID, Boards: m.Addresses()})
}

func boardGroupKey(addr uint8) string {
	return "board:" + strconv.Itoa(int(addr))
}

func groupKey(name string) string {
	return "group:" + name
}

// ReloadPinout fetches the pinout from the configured source and applies it.
// When the source fails the last good pinout is applied again so fresh
// boards still get their names.
func (m *Manager) ReloadPinout(ctx context.Context) error {
	if m.opts.Pinout == nil {
		m.reapply()
		return pinout.ErrNoSource
	}

	interp, err := m.opts.Pinout.Load(ctx)
	if err != nil {
		if !errors.Is(err, pinout.ErrNoSource) {
			m.report(fmt.Sprintf("Pinout could not be loaded: %v", err))
		}
		m.reapply()
		return err
	}

	m.ApplyPinout(interp)
	return nil
}

func (m *Manager) reapply() {
	m.mu.RLock()
	interp := m.interp
	m.mu.RUnlock()

	if interp != nil {
		m.ApplyPinout(interp)
	}
}

// ApplyPinout clears all pin and group names, applies the group mapping and
// then the expected connections.
func (m *Manager) ApplyPinout(interp *pinout.Interpretation) {
	if interp == nil {
		interp = &pinout.Interpretation{}
	}

	m.mu.Lock()
	m.interp = interp

	for _, b := range m.boards {
		for _, pin := range b.Pins {
			pin.Descriptor.ClearPinAndGroupNames()
		}
	}

	applied := 0
	for _, g := range interp.Groups {
		group := PinGroup{ID: m.ids.GroupID(groupKey(g.Name)), Name: g.Name}
		for _, pm := range g.Pins {
			ref, err := pm.Ref()
			if err != nil {
				m.logger.Warn("Invalid pin mapping", zap.String("group", g.Name), zap.Error(err))
				continue
			}
			pin := m.pinLocked(ref)
			if pin == nil {
				continue
			}
			gr := group
			pin.Descriptor.Name = pm.Label
			pin.Descriptor.Group = &gr
			applied++
		}
	}

	m.applyExpectedLocked(interp.ExpectedConnections)
	m.mu.Unlock()

	m.logger.Debug("Pinout applied", zap.Int("pins", applied))
}

// ApplyExpectedConnections replaces every pin's expectation. Expectations are
// symmetric; endpoints that do not resolve are skipped.
func (m *Manager) ApplyExpectedConnections(expected []pinout.ExpectedConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyExpectedLocked(expected)
}

func (m *Manager) applyExpectedLocked(expected []pinout.ExpectedConnection) {
	for _, b := range m.boards {
		for _, pin := range b.Pins {
			pin.expected = nil
		}
	}

	for _, ec := range expected {
		from := m.resolveLocked(ec.ForPin)
		if from == nil {
			m.logger.Debug("Expected connection source not resolved",
				zap.String("group", ec.ForPin.Group), zap.String("pin", ec.ForPin.Pin))
			continue
		}
		if from.expected == nil {
			from.expected = []protocol.PinRef{}
		}

		for _, label := range ec.IsConnectedTo {
			to := m.resolveLocked(label)
			if to == nil {
				m.logger.Debug("Expected connection target not resolved",
					zap.String("group", label.Group), zap.String("pin", label.Pin))
				continue
			}
			if to == from {
				continue
			}
			from.addExpected(to.Ref())
			to.addExpected(from.Ref())
		}
	}

	for _, b := range m.boards {
		for _, pin := range b.Pins {
			pin.recompute()
		}
	}
}

// resolveLocked finds a pin by its pinout names, falling back to reading the
// labels as a literal board address and index.
func (m *Manager) resolveLocked(label pinout.Label) *Pin {
	for _, addr := range m.addressesLocked() {
		for _, pin := range m.boards[addr].Pins {
			d := pin.Descriptor
			if d.Name == label.Pin && d.Group != nil && d.Group.Name == label.Group {
				return pin
			}
		}
	}

	board, err := strconv.Atoi(label.Group)
	if err != nil {
		return nil
	}
	index, err := strconv.Atoi(label.Pin)
	if err != nil {
		return nil
	}
	ref, err := protocol.NewPinRef(board, index)
	if err != nil {
		return nil
	}
	return m.pinLocked(ref)
}

// UpdateConnectionsForPin commits a new set of observed connections for
// master. A target that is not a known pin aborts the whole update.
func (m *Manager) UpdateConnectionsForPin(controllerID string, master protocol.PinRef, observed []Observation) error {
	m.mu.Lock()
	pin := m.pinLocked(master)
	if pin == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: master %s", ErrPinNotFound, master)
	}

	level := protocol.VoltageLow
	if b := m.boardLocked(pin.board); b != nil {
		level = b.Level
	}
	cal := pin.Calibration.effective(level)

	conns := make([]Connection, 0, len(observed))
	for _, o := range observed {
		if m.pinLocked(o.Target) == nil {
			m.mu.Unlock()
			return fmt.Errorf("%w: target %s of %s", ErrPinNotFound, o.Target, master)
		}
		if findConnection(conns, o.Target) != nil {
			continue
		}

		c := o.toConnection(cal)
		prev := findConnection(pin.connections, c.Target)
		c.FirstOccurrence = prev == nil
		c.ChangedFromPrevious = c.DifferentFrom(prev, m.cfg.Thresholds)
		conns = append(conns, c)
	}

	pin.connectionsChanged = CheckIfConnectionsListIsDifferent(pin.connections, conns, m.cfg.ListThreshold)
	pin.SetConnections(conns)
	snap := pin.snapshot()
	m.mu.Unlock()

	m.events.publish(Event{Type: EventPinUpdated, ControllerID: controllerID, Pin: &snap})
	if m.opts.Recorder != nil {
		m.opts.Recorder.Record(controllerID, snap)
	}
	return nil
}

// SetVoltageLevel records the output level applied by a controller so raw
// conversions use the matching output voltage.
func (m *Manager) SetVoltageLevel(controllerID string, level protocol.VoltageLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.boards {
		if b.ControllerID == controllerID {
			b.setLevel(level)
		}
	}
}

// SetParameters stores calibration for a board address. It applies now if
// the board is online and again whenever the board is re-enumerated.
func (m *Manager) SetParameters(addr uint8, p InternalParameters) error {
	if err := protocol.ValidateBoardAddress(int(addr)); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("board %d: %w", addr, err)
	}

	m.mu.Lock()
	m.params[addr] = p
	if b, ok := m.boards[addr]; ok {
		b.applyParameters(p)
	}
	m.mu.Unlock()

	m.events.publish(Event{Type: EventBoardsUpdated, Boards: m.Addresses()})
	return nil
}

func (m *Manager) pinLocked(ref protocol.PinRef) *Pin {
	b, ok := m.boards[ref.Board]
	if !ok || int(ref.Index) >= len(b.Pins) {
		return nil
	}
	return b.Pins[ref.Index]
}

// boardLocked resolves a pin's board handle. It returns nil once the board
// generation the pin belonged to has been replaced.
func (m *Manager) boardLocked(ref boardRef) *IoBoard {
	b, ok := m.boards[ref.address]
	if !ok || b.Generation != ref.generation {
		return nil
	}
	return b
}

func (m *Manager) boardOf(p *Pin) *IoBoard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.boardLocked(p.board)
}

func (m *Manager) addressesLocked() []uint8 {
	addrs := make([]uint8, 0, len(m.boards))
	for addr := range m.boards {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

func (m *Manager) Addresses() []uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.addressesLocked()
}

// ControllerOf returns the controller that reported a board address.
func (m *Manager) ControllerOf(addr uint8) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.boards[addr]
	if !ok {
		return "", false
	}
	return b.ControllerID, true
}

type BoardSnapshot struct {
	Address      uint8                 `json:"address"`
	ControllerID string                `json:"controller_id"`
	Generation   uint64                `json:"generation"`
	Level        protocol.VoltageLevel `json:"level"`
	Params       *InternalParameters   `json:"params,omitempty"`
	Pins         []PinSnapshot         `json:"pins"`
}

// Snapshot copies every board in address order.
func (m *Manager) Snapshot() []BoardSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]BoardSnapshot, 0, len(m.boards))
	for _, addr := range m.addressesLocked() {
		out = append(out, m.boards[addr].snapshot())
	}
	return out
}

func (m *Manager) Board(addr uint8) (BoardSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.boards[addr]
	if !ok {
		return BoardSnapshot{}, fmt.Errorf("%w: %d", ErrBoardNotFound, addr)
	}
	return b.snapshot(), nil
}

func (m *Manager) Pin(ref protocol.PinRef) (PinSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pin := m.pinLocked(ref)
	if pin == nil {
		return PinSnapshot{}, fmt.Errorf("%w: %s", ErrPinNotFound, ref)
	}
	return pin.snapshot(), nil
}

func (b *IoBoard) snapshot() BoardSnapshot {
	s := BoardSnapshot{
		Address:      b.Address,
		ControllerID: b.ControllerID,
		Generation:   b.Generation,
		Level:        b.Level,
		Pins:         make([]PinSnapshot, 0, len(b.Pins)),
	}
	if b.Params != nil {
		p := *b.Params
		s.Params = &p
	}
	for _, pin := range b.Pins {
		s.Pins = append(s.Pins, pin.snapshot())
	}
	return s
}
