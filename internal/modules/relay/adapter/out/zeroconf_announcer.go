package out

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"

	"flowsync/internal/modules/relay/domain"
	relayout "flowsync/internal/modules/relay/port/out"
)

const (
	mdnsService = "_flowsync._tcp"
	mdnsDomain  = "local."
)

// ZeroconfAnnouncer registers the relay over mDNS and browses for other relays.
type ZeroconfAnnouncer struct {
	browseFor time.Duration
}

var _ relayout.Announcer = ZeroconfAnnouncer{}

func NewZeroconfAnnouncer(browseFor time.Duration) ZeroconfAnnouncer {
	if browseFor <= 0 {
		browseFor = 3 * time.Second
	}
	return ZeroconfAnnouncer{browseFor: browseFor}
}

func (a ZeroconfAnnouncer) Announce(name string, port int) (func(), error) {
	if name == "" {
		host, _ := os.Hostname()
		name = fmt.Sprintf("flowsync-%s", host)
	}
	server, err := zeroconf.Register(name, mdnsService, mdnsDomain, port, []string{"path=/ws"}, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	return server.Shutdown, nil
}

func (a ZeroconfAnnouncer) Discover(ctx context.Context) ([]domain.Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("init mdns resolver: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, a.browseFor)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	var out []domain.Endpoint
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				out = append(out, endpointOf(entry))
			}
		}
	}()
	if err := resolver.Browse(ctx, mdnsService, mdnsDomain, entries); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("browse mdns: %w", err)
	}
	<-ctx.Done()
	<-done
	return out, nil
}

func endpointOf(entry *zeroconf.ServiceEntry) domain.Endpoint {
	host := entry.HostName
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	}
	return domain.Endpoint{Instance: entry.Instance, Host: host, Port: entry.Port}
}
