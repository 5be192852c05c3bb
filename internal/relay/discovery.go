package relay

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/grandcat/zeroconf"
)

// Peer is a relay server found on the local network.
type Peer struct {
	Instance string
	Host     string
	Addr     net.IP
	Port     int
}

func (p Peer) URL() string {
	return fmt.Sprintf("ws://%s/ws", net.JoinHostPort(p.Addr.String(), fmt.Sprint(p.Port)))
}

// Advertise registers this server over mDNS. The returned func withdraws it.
func Advertise(service string, port int) (func(), error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("%s-%s", "CollabText", host),
		service,
		"local.",
		port,
		[]string{"txtv=0", "path=/ws"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	return server.Shutdown, nil
}

// Discover browses for relay servers until ctx is done, calling fn for
// each one that has an IPv4 address.
func Discover(ctx context.Context, service string, fn func(Peer)) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("init mDNS resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if len(entry.AddrIPv4) == 0 {
					continue
				}
				fn(Peer{Instance: entry.Instance, Host: entry.HostName, Addr: entry.AddrIPv4[0], Port: entry.Port})
			}
		}
	}()
	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return fmt.Errorf("browse mDNS services: %w", err)
	}
	<-ctx.Done()
	return nil
}
