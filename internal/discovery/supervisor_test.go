package discovery

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KevinKickass/OpenHarnessCore/internal/session"
	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type attached struct {
	mu    sync.Mutex
	links []session.Link
}

func (a *attached) Attach(_ context.Context, link session.Link) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.links = append(a.links, link)
	return nil
}

func (a *attached) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.links)
}

type reports struct {
	mu       sync.Mutex
	messages []string
}

func (r *reports) Report(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *reports) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func testConfig() Config {
	return Config{
		RetryInterval:   10 * time.Millisecond,
		BreakerFailures: 2,
		BreakerTimeout:  time.Hour,
	}
}

func TestSupervisorRedialsClosedLink(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	att := &attached{}
	sup := NewSupervisor(testConfig(), att, nil, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		sup.Wait()
	}()

	ep := TCPEndpoint(ln.Addr().String(), time.Second)
	require.True(t, sup.Watch(ctx, ep))
	assert.False(t, sup.Watch(ctx, ep))

	first := <-accepted
	require.Eventually(t, func() bool { return att.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ep.Name, att.links[0].Name())

	require.NoError(t, first.Close())

	second := <-accepted
	defer second.Close()
	require.Eventually(t, func() bool { return att.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSupervisorBreakerStopsDialing(t *testing.T) {
	var dials atomic.Int32
	ep := Endpoint{
		Name: "tcp://nowhere",
		Dial: func(context.Context) (io.ReadWriteCloser, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		},
	}

	rep := &reports{}
	sup := NewSupervisor(testConfig(), &attached{}, rep, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	sup.Watch(ctx, ep)
	require.Eventually(t, func() bool { return rep.count() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), dials.Load())
	assert.Equal(t, 1, rep.count())

	cancel()
	sup.Wait()
}

func TestSupervisorDefaults(t *testing.T) {
	sup := NewSupervisor(Config{}, &attached{}, nil, zaptest.NewLogger(t))
	assert.Equal(t, DefaultRetryInterval, sup.cfg.RetryInterval)
	assert.Equal(t, DefaultBreakerFailures, sup.cfg.BreakerFailures)
	assert.Equal(t, DefaultBreakerTimeout, sup.cfg.BreakerTimeout)
}

func TestEntryAddress(t *testing.T) {
	entry := zeroconf.NewServiceEntry("bench-1", DefaultMDNSService, mdnsDomain)
	entry.Port = 7000
	entry.AddrIPv4 = append(entry.AddrIPv4, net.IPv4(192, 168, 1, 20))
	assert.Equal(t, "192.168.1.20:7000", entryAddress(entry))

	entry.AddrIPv4 = nil
	entry.AddrIPv6 = append(entry.AddrIPv6, net.ParseIP("fe80::1"))
	assert.Equal(t, "[fe80::1]:7000", entryAddress(entry))

	entry.AddrIPv6 = nil
	assert.Empty(t, entryAddress(entry))
}
