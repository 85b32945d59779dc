// Package discovery finds a Hue bridge on the local network via mDNS.
//
// Only the first responding bridge is returned; networks with several
// bridges need the address configured explicitly.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout is used when Discover is called without a positive timeout.
const DefaultTimeout = 5 * time.Second

const (
	// ServiceHue is the DNS-SD service type announced by Hue bridges.
	ServiceHue = "_hue._tcp"
	// DomainLocal is the mDNS domain.
	DomainLocal = "local"
)

// ErrDiscovery is returned when the mDNS query cannot be issued.
var ErrDiscovery = errors.New("mdns discovery failed")

// Querier issues an mDNS query, delivering entries on params.Entries until
// the query times out or ctx is done. mdns.QueryContext satisfies it.
type Querier func(ctx context.Context, params *mdns.QueryParam) error

// Discoverer looks up bridges through a Querier.
type Discoverer struct {
	query   Querier
	service string
	domain  string
	iface   *net.Interface
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithQuerier replaces the mDNS implementation (used by tests).
func WithQuerier(q Querier) Option {
	return func(d *Discoverer) {
		if q != nil {
			d.query = q
		}
	}
}

// WithInterface restricts the query to one network interface.
func WithInterface(iface *net.Interface) Option {
	return func(d *Discoverer) {
		d.iface = iface
	}
}

// New creates a Discoverer for Hue bridges.
func New(opts ...Option) *Discoverer {
	d := &Discoverer{
		query:   mdns.QueryContext,
		service: ServiceHue,
		domain:  DomainLocal,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover returns the address of the first bridge answering within timeout.
// found is false, with a nil error, when nobody answered in time.
func (d *Discoverer) Discover(ctx context.Context, timeout time.Duration) (addr netip.Addr, found bool, err error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so a late sender never blocks on a reader that has returned.
	entries := make(chan *mdns.ServiceEntry, 16)
	queryErr := make(chan error, 1)

	params := &mdns.QueryParam{
		Service:   d.service,
		Domain:    d.domain,
		Timeout:   timeout,
		Interface: d.iface,
		Entries:   entries,
	}

	log.Debug().
		Str("service", d.service).
		Dur("timeout", timeout).
		Msg("Starting mDNS query")

	go func() {
		queryErr <- d.query(queryCtx, params)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			if a, ok := entryAddr(entry); ok {
				log.Debug().Str("name", entry.Name).Str("addr", a.String()).Msg("Bridge answered")
				return a, true, nil
			}
			log.Debug().Str("name", entryName(entry)).Msg("Ignoring mDNS entry without address")

		case err := <-queryErr:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return netip.Addr{}, false, ctxErr
			}
			if err != nil && queryCtx.Err() == nil {
				return netip.Addr{}, false, fmt.Errorf("%w: %w", ErrDiscovery, err)
			}
			// Query finished; entries may still be buffered.
			for {
				select {
				case entry, ok := <-entries:
					if !ok {
						return netip.Addr{}, false, nil
					}
					if a, ok := entryAddr(entry); ok {
						return a, true, nil
					}
				default:
					return netip.Addr{}, false, nil
				}
			}

		case <-queryCtx.Done():
			if err := ctx.Err(); err != nil {
				return netip.Addr{}, false, err
			}
			log.Debug().Dur("timeout", timeout).Msg("No bridge answered")
			return netip.Addr{}, false, nil
		}
	}
}

// entryAddr picks the IPv4 address of an entry, falling back to IPv6.
func entryAddr(entry *mdns.ServiceEntry) (netip.Addr, bool) {
	if entry == nil {
		return netip.Addr{}, false
	}
	for _, ip := range []net.IP{entry.AddrV4, entry.AddrV6, entry.Addr} {
		if len(ip) == 0 {
			continue
		}
		addr, ok := netip.AddrFromSlice(ip)
		if !ok || addr.IsUnspecified() {
			continue
		}
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}

func entryName(entry *mdns.ServiceEntry) string {
	if entry == nil {
		return ""
	}
	return entry.Name
}
