package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/OpenHarnessCore/internal/boards"
	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"go.uber.org/zap"
)

const (
	queueSize     = 1024
	batchSize     = 64
	flushInterval = 500 * time.Millisecond
	flushTimeout  = 5 * time.Second
)

type resultWriter interface {
	InsertResults(ctx context.Context, results []PinResult) error
	History(ctx context.Context, ref protocol.PinRef, limit int) ([]PinResult, error)
}

// ResultStore records pin results in the background. Record never blocks
// the ingestion path; results are dropped when the queue is full.
type ResultStore struct {
	writer  resultWriter
	logger  *zap.Logger
	queue   chan PinResult
	now     func() time.Time
	dropped atomic.Uint64
}

func NewResultStore(writer resultWriter, logger *zap.Logger) *ResultStore {
	return &ResultStore{
		writer: writer,
		logger: logger,
		queue:  make(chan PinResult, queueSize),
		now:    time.Now,
	}
}

// Record implements boards.ResultRecorder.
func (s *ResultStore) Record(controllerID string, pin boards.PinSnapshot) {
	select {
	case s.queue <- NewPinResult(controllerID, pin, s.now()):
	default:
		if s.dropped.Add(1) == 1 {
			s.logger.Warn("Result queue full, dropping pin results")
		}
	}
}

// Dropped reports how many results were discarded because the queue was full.
func (s *ResultStore) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *ResultStore) History(ctx context.Context, ref protocol.PinRef, limit int) ([]PinResult, error) {
	return s.writer.History(ctx, ref, limit)
}

// Run writes queued results in batches until ctx is done, then flushes
// what is left.
func (s *ResultStore) Run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	pending := make([]PinResult, 0, batchSize)
	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case r := <-s.queue:
					pending = append(pending, r)
				default:
					break drain
				}
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			s.flush(flushCtx, pending)
			cancel()
			return

		case r := <-s.queue:
			pending = append(pending, r)
			if len(pending) >= batchSize {
				pending = s.flush(ctx, pending)
			}

		case <-ticker.C:
			pending = s.flush(ctx, pending)
		}
	}
}

func (s *ResultStore) flush(ctx context.Context, pending []PinResult) []PinResult {
	if len(pending) == 0 {
		return pending
	}
	if err := s.writer.InsertResults(ctx, pending); err != nil {
		s.logger.Error("Failed to store pin results",
			zap.Int("count", len(pending)),
			zap.Error(err))
	} else {
		s.logger.Debug("Stored pin results", zap.Int("count", len(pending)))
	}
	return pending[:0]
}
