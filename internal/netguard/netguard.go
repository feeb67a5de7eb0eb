// Package netguard keeps outbound requests for user-supplied URLs away from
// private networks. The check runs on the dialed address, so it also covers
// redirects and hosts whose DNS answer changes between lookups.
package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// ErrPrivateAddress is returned when a connection would reach a private,
// loopback, link-local or unspecified address.
var ErrPrivateAddress = errors.New("private network address denied")

// IsPrivate reports whether addr must not be dialed for user-supplied URLs.
func IsPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsInterfaceLocalMulticast() || addr.IsUnspecified()
}

// Control is a net.Dialer Control hook that refuses private addresses.
func Control(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: unparseable address %q", ErrPrivateAddress, address)
	}
	if IsPrivate(ap.Addr()) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, ap.Addr())
	}
	return nil
}

// CheckHost resolves host and fails when any of its addresses is private.
// It gives an early, descriptive error; Control still guards the dial.
func CheckHost(ctx context.Context, host string) error {
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", host, err)
	}
	for _, addr := range addrs {
		if IsPrivate(addr) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateAddress, host, addr)
		}
	}
	return nil
}

// Transport returns an HTTP transport whose dialer applies Control.
// Environment proxies are ignored so the guard sees the real destination.
func Transport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   Control,
	}
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
