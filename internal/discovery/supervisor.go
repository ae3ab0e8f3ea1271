package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/KevinKickass/OpenHarnessCore/internal/session"
	"github.com/KevinKickass/OpenHarnessCore/internal/transport"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	DefaultRetryInterval          = 5 * time.Second
	DefaultBreakerFailures uint32 = 3
	DefaultBreakerTimeout         = 30 * time.Second
)

// Attacher accepts opened links, normally the director.
type Attacher interface {
	Attach(ctx context.Context, link session.Link) error
}

type Reporter interface {
	Report(message string)
}

// Dialer opens the byte duplex of one endpoint.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Endpoint is a controller address that is kept connected.
type Endpoint struct {
	Name string
	Dial Dialer
}

func TCPEndpoint(address string, timeout time.Duration) Endpoint {
	return Endpoint{
		Name: "tcp://" + address,
		Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
			return transport.DialTCP(ctx, address, timeout)
		},
	}
}

func SerialEndpoint(cfg transport.SerialConfig) Endpoint {
	return Endpoint{
		Name: "serial://" + cfg.Port,
		Dial: func(context.Context) (io.ReadWriteCloser, error) {
			return transport.DialSerial(cfg)
		},
	}
}

type Config struct {
	RetryInterval   time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	Transport       transport.Options
}

// Supervisor keeps every watched endpoint connected. Each endpoint is dialed
// behind its own circuit breaker and re-dialed when its link closes.
type Supervisor struct {
	cfg      Config
	attacher Attacher
	reporter Reporter
	logger   *zap.Logger

	mu       sync.Mutex
	watching map[string]struct{}
	wg       sync.WaitGroup
}

func NewSupervisor(cfg Config, attacher Attacher, reporter Reporter, logger *zap.Logger) *Supervisor {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = DefaultBreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = DefaultBreakerTimeout
	}
	return &Supervisor{
		cfg:      cfg,
		attacher: attacher,
		reporter: reporter,
		logger:   logger,
		watching: make(map[string]struct{}),
	}
}

// Watch starts maintaining ep until ctx is cancelled. Watching the same
// endpoint name twice is a no-op.
func (s *Supervisor) Watch(ctx context.Context, ep Endpoint) bool {
	s.mu.Lock()
	if _, ok := s.watching[ep.Name]; ok {
		s.mu.Unlock()
		return false
	}
	s.watching[ep.Name] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.watching, ep.Name)
			s.mu.Unlock()
		}()
		s.maintain(ctx, ep)
	}()
	return true
}

// Wait blocks until every watch loop has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) newBreaker(name string) *gobreaker.CircuitBreaker[io.ReadWriteCloser] {
	return gobreaker.NewCircuitBreaker[io.ReadWriteCloser](gobreaker.Settings{
		Name:        "link:" + name,
		MaxRequests: 1,
		Timeout:     s.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.cfg.BreakerFailures
		},
		OnStateChange: func(breaker string, from, to gobreaker.State) {
			s.logger.Warn("Link breaker state change",
				zap.String("breaker", breaker),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if to == gobreaker.StateOpen && s.reporter != nil {
				s.reporter.Report(fmt.Sprintf("Controller %s is unreachable", name))
			}
		},
	})
}

func (s *Supervisor) maintain(ctx context.Context, ep Endpoint) {
	logger := s.logger.With(zap.String("endpoint", ep.Name))
	breaker := s.newBreaker(ep.Name)

	for {
		conn, err := breaker.Execute(func() (io.ReadWriteCloser, error) {
			return ep.Dial(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				logger.Debug("Dial skipped, breaker open")
			} else {
				logger.Warn("Dial failed", zap.Error(err))
			}
		} else {
			ws := transport.NewWorkSocket(ep.Name, conn, s.cfg.Transport, logger)
			if err := s.attacher.Attach(ctx, ws); err != nil {
				ws.Close()
				return
			}
			logger.Info("Link attached")

			select {
			case <-ws.Done():
				logger.Warn("Link closed", zap.Error(ws.Err()))
			case <-ctx.Done():
				ws.Close()
				return
			}
		}

		timer := time.NewTimer(s.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
