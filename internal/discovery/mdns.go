package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	DefaultMDNSService = "_harness._tcp"
	mdnsDomain         = "local."
)

// MDNSBrowser finds controller bridges advertised over DNS-SD and hands
// their addresses to the supervisor.
type MDNSBrowser struct {
	service     string
	dialTimeout time.Duration
	supervisor  *Supervisor
	logger      *zap.Logger
}

func NewMDNSBrowser(service string, dialTimeout time.Duration, supervisor *Supervisor, logger *zap.Logger) *MDNSBrowser {
	if service == "" {
		service = DefaultMDNSService
	}
	return &MDNSBrowser{
		service:     service,
		dialTimeout: dialTimeout,
		supervisor:  supervisor,
		logger:      logger,
	}
}

// Run browses until ctx is cancelled.
func (b *MDNSBrowser) Run(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			address := entryAddress(entry)
			if address == "" {
				continue
			}
			if b.supervisor.Watch(ctx, TCPEndpoint(address, b.dialTimeout)) {
				b.logger.Info("Controller discovered",
					zap.String("instance", entry.Instance),
					zap.String("address", address))
			}
		}
	}()

	if err := resolver.Browse(ctx, b.service, mdnsDomain, entries); err != nil {
		<-done
		return fmt.Errorf("mdns browse: %w", err)
	}

	b.logger.Info("mDNS browsing started", zap.String("service", b.service))
	<-ctx.Done()
	<-done
	return nil
}

func entryAddress(entry *zeroconf.ServiceEntry) string {
	switch {
	case len(entry.AddrIPv4) > 0:
		return fmt.Sprintf("%s:%d", entry.AddrIPv4[0], entry.Port)
	case len(entry.AddrIPv6) > 0:
		return fmt.Sprintf("[%s]:%d", entry.AddrIPv6[0], entry.Port)
	default:
		return ""
	}
}
