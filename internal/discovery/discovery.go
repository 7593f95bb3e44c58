// Package discovery announces the server over mDNS so editors on the same
// network can find it without configuration.
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

const (
	Service = "_collabtext._tcp"
	Domain  = "local."
)

// InstanceName is the mDNS instance name for this host.
func InstanceName() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%s", "CollabText", host)
}

// Advertise registers the server on port. Call Shutdown on the result to
// withdraw it.
func Advertise(port int, log zerolog.Logger) (*zeroconf.Server, error) {
	server, err := zeroconf.Register(InstanceName(), Service, Domain, port, []string{"txtv=0", "path=/ws/document/"}, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	log.Info().Str("service", Service).Int("port", port).Msg("mDNS service registered")
	return server, nil
}

// Peer is another collabtext server seen on the network.
type Peer struct {
	Instance string
	Host     string
	Port     int
}

// Browse collects peers announced within timeout.
func Browse(ctx context.Context, timeout time.Duration, log zerolog.Logger) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mDNS resolver: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan []Peer, 1)
	go func(results <-chan *zeroconf.ServiceEntry) {
		var peers []Peer
		defer func() { found <- peers }()
		for {
			select {
			case entry, ok := <-results:
				if !ok {
					return
				}
				p := Peer{Instance: entry.Instance, Host: entry.HostName, Port: entry.Port}
				if len(entry.AddrIPv4) > 0 {
					p.Host = entry.AddrIPv4[0].String()
				}
				log.Debug().Str("instance", p.Instance).Str("host", p.Host).Int("port", p.Port).Msg("mDNS discovered peer")
				peers = append(peers, p)
			case <-ctx.Done():
				return
			}
		}
	}(entries)

	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("browse mDNS: %w", err)
	}
	<-ctx.Done()
	return <-found, nil
}
