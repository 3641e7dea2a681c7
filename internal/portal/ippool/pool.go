// Package ippool allocates client addresses from a profile's address
// ranges. Pools hold no state of their own: the set of taken addresses is
// derived from persisted connections at allocation time.
package ippool

import (
	"fmt"
	"net/netip"

	"github.com/altivon/vpn-portal/internal/shared/errors"
)

// Pool represents one address range of a profile. The network address and
// the first host (the gateway) are never handed out.
type Pool struct {
	prefix  netip.Prefix
	gateway netip.Addr
}

// NewPool creates a pool from a CIDR string.
func NewPool(cidr string) (*Pool, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid address range %q: %w", cidr, err)
	}
	prefix = prefix.Masked()

	return &Pool{
		prefix:  prefix,
		gateway: prefix.Addr().Next(),
	}, nil
}

// Gateway returns the gateway address of the range.
func (p *Pool) Gateway() netip.Addr {
	return p.gateway
}

// Prefix returns the masked network prefix.
func (p *Pool) Prefix() netip.Prefix {
	return p.prefix
}

// Allocate returns the first free address in the range that is not in
// taken. Exhaustion is a hard failure; the caller decides whether another
// profile or protocol can serve the client.
func (p *Pool) Allocate(taken []string) (netip.Addr, error) {
	takenSet := make(map[netip.Addr]struct{}, len(taken))
	for _, raw := range taken {
		if addr, err := netip.ParseAddr(raw); err == nil {
			takenSet[addr.Unmap()] = struct{}{}
		}
	}

	for addr := p.gateway.Next(); p.prefix.Contains(addr); addr = addr.Next() {
		if p.isBroadcast(addr) {
			break
		}
		if _, used := takenSet[addr]; !used {
			return addr, nil
		}
	}

	return netip.Addr{}, errors.NewConnectionError(
		errors.ErrCodeIPPoolExhausted,
		fmt.Sprintf("no free IP address in %s", p.prefix),
		nil,
	)
}

// isBroadcast reports whether addr is the IPv4 broadcast address of the
// range. IPv6 ranges have no broadcast address.
func (p *Pool) isBroadcast(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}

	raw := addr.As4()
	network := p.prefix.Addr().As4()
	bits := p.prefix.Bits()
	for i := 0; i < 4; i++ {
		maskByte := byte(0)
		remaining := bits - i*8
		if remaining >= 8 {
			maskByte = 0xff
		} else if remaining > 0 {
			maskByte = byte(0xff << (8 - remaining))
		}
		if raw[i] != network[i]|^maskByte {
			return false
		}
	}
	return true
}
