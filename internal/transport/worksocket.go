package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("work socket closed")

type Options struct {
	// KeepAlivePeriod of zero disables the keep-alive loop.
	KeepAlivePeriod  time.Duration
	KeepAlivePayload []byte
	MaxFrameSize     uint32
}

// WorkSocket owns one physical byte duplex for its whole lifetime and runs
// a read loop, a write loop and an optional keep-alive loop on it.
type WorkSocket struct {
	name     string
	conn     io.ReadWriteCloser
	opts     Options
	logger   *zap.Logger
	inbound  *queue
	outbound *queue

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once

	lastSend atomic.Int64
	errMu    sync.Mutex
	err      error
}

// NewWorkSocket starts the loops on conn. name identifies the link in logs.
func NewWorkSocket(name string, conn io.ReadWriteCloser, opts Options, logger *zap.Logger) *WorkSocket {
	if opts.MaxFrameSize == 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	ws := &WorkSocket{
		name:     name,
		conn:     conn,
		opts:     opts,
		logger:   logger.With(zap.String("link", name)),
		inbound:  newQueue(),
		outbound: newQueue(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	ws.lastSend.Store(time.Now().UnixNano())

	ws.wg.Add(2)
	go ws.readLoop()
	go ws.writeLoop()

	if opts.KeepAlivePeriod > 0 && len(opts.KeepAlivePayload) > 0 {
		ws.wg.Add(1)
		go ws.keepAliveLoop()
	}

	go func() {
		ws.wg.Wait()
		close(ws.done)
	}()

	ws.logger.Info("Work socket started",
		zap.Duration("keepalive", opts.KeepAlivePeriod))

	return ws
}

func (ws *WorkSocket) Name() string {
	return ws.name
}

// Send enqueues payload for transmission.
func (ws *WorkSocket) Send(payload []byte) error {
	if ws.ctx.Err() != nil {
		return ErrClosed
	}
	ws.outbound.push(payload)
	return nil
}

// Receive blocks until a whole inbound payload is available.
func (ws *WorkSocket) Receive(ctx context.Context) ([]byte, error) {
	ctx, stop := mergeDone(ctx, ws.ctx)
	defer stop()

	payload, err := ws.inbound.pop(ctx)
	if err != nil {
		if ws.ctx.Err() != nil {
			return nil, ErrClosed
		}
		return nil, err
	}
	return payload, nil
}

// Done is closed once every loop has exited.
func (ws *WorkSocket) Done() <-chan struct{} {
	return ws.done
}

// Err returns the cause of teardown, if any.
func (ws *WorkSocket) Err() error {
	ws.errMu.Lock()
	defer ws.errMu.Unlock()
	return ws.err
}

// Close cancels all loops and closes the duplex. Safe to call repeatedly.
func (ws *WorkSocket) Close() error {
	ws.shutdown(nil)
	<-ws.done
	return nil
}

func (ws *WorkSocket) shutdown(cause error) {
	ws.closeOnce.Do(func() {
		ws.errMu.Lock()
		ws.err = cause
		ws.errMu.Unlock()

		ws.cancel()
		if err := ws.conn.Close(); err != nil && !isClosedErr(err) {
			ws.logger.Warn("Close failed", zap.Error(err))
		}

		if cause != nil {
			ws.logger.Warn("Work socket torn down", zap.Error(cause))
		} else {
			ws.logger.Info("Work socket closed")
		}
	})
}

func (ws *WorkSocket) readLoop() {
	defer ws.wg.Done()

	for ws.ctx.Err() == nil {
		payload, err := ReadFrame(ws.conn, ws.opts.MaxFrameSize)
		if err != nil {
			if ws.ctx.Err() != nil {
				return
			}
			if isTimeout(err) {
				ws.logger.Debug("Read timed out, retrying", zap.Error(err))
				continue
			}
			ws.shutdown(err)
			return
		}
		ws.inbound.push(payload)
	}
}

func (ws *WorkSocket) writeLoop() {
	defer ws.wg.Done()

	for {
		payload, err := ws.outbound.pop(ws.ctx)
		if err != nil {
			return
		}
		if len(payload) == 0 {
			ws.logger.Warn("Skipping empty outbound payload")
			continue
		}

		if _, err := ws.conn.Write(EncodeFrame(payload)); err != nil {
			ws.shutdown(err)
			return
		}
		ws.lastSend.Store(time.Now().UnixNano())
	}
}

func (ws *WorkSocket) keepAliveLoop() {
	defer ws.wg.Done()

	ticker := time.NewTicker(ws.opts.KeepAlivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ws.ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, ws.lastSend.Load()))
			if idle >= ws.opts.KeepAlivePeriod && ws.outbound.len() == 0 {
				ws.outbound.push(ws.opts.KeepAlivePayload)
			}
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// mergeDone returns a context cancelled when either a or b is done.
func mergeDone(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
