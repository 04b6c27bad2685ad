// Package discovery lets nodes find the relay on the local network via mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"
)

const (
	Service = "_lamportchat._tcp"
	Domain  = "local."
)

// ErrNotFound is returned when no relay answered before the context ended.
var ErrNotFound = errors.New("discovery: no relay found")

// Advertise registers the relay listening on port. Call Shutdown on the
// returned server to withdraw it.
func Advertise(port int) (*zeroconf.Server, error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		"lamportchat-relay-"+host,
		Service,
		Domain,
		port,
		[]string{"proto=jsonl"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("discovery: register: %w", err)
	}
	return server, nil
}

// Lookup browses for a relay and returns the first usable host:port.
func Lookup(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("discovery: resolver: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return "", fmt.Errorf("discovery: browse: %w", err)
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			if addr, ok := entryAddr(entry); ok {
				return addr, nil
			}
		case <-ctx.Done():
			return "", ErrNotFound
		}
	}
}

// entryAddr prefers IPv4 and falls back to IPv6.
func entryAddr(e *zeroconf.ServiceEntry) (string, bool) {
	if e == nil || e.Port == 0 {
		return "", false
	}
	port := strconv.Itoa(e.Port)
	if len(e.AddrIPv4) > 0 {
		return net.JoinHostPort(e.AddrIPv4[0].String(), port), true
	}
	if len(e.AddrIPv6) > 0 {
		return net.JoinHostPort(e.AddrIPv6[0].String(), port), true
	}
	return "", false
}

// PortOf extracts the numeric port from a listener address.
func PortOf(addr net.Addr) (int, error) {
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}
