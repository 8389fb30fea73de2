// Package interfaces resolves host names to native addresses for the
// multiplexer's connection factories.
package interfaces

import (
	"fmt"
	"net"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Protocol names the address family of a resolved endpoint.
type Protocol int

const (
	IPv4 Protocol = iota
	IPv6
)

func (p Protocol) String() string {
	if p == IPv4 {
		return "ipv4"
	}
	return "ipv6"
}

type cacheKey struct {
	host string
	pref Protocol // -1 when no preference was given
}

type resolved struct {
	addr  string
	proto Protocol
}

var addrCache *lru.Cache[cacheKey, resolved]

func init() {
	addrCache, _ = lru.New[cacheKey, resolved](128)
}

// NativeAddress resolves host to a single address and its protocol. A
// preferred protocol is honored when the host has an address of that
// family; otherwise the first resolved address wins. Literal IP addresses
// bypass resolution entirely.
func NativeAddress(host string, preferred *Protocol) (string, Protocol, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, classify(ip), nil
	}
	key := cacheKey{host: host, pref: -1}
	if preferred != nil {
		key.pref = *preferred
	}
	if v, ok := addrCache.Get(key); ok {
		return v.addr, v.proto, nil
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return "", IPv4, fmt.Errorf("no such host: %s", host)
	}
	pick := ips[0]
	if preferred != nil {
		for _, ip := range ips {
			if classify(ip) == *preferred {
				pick = ip
				break
			}
		}
	}
	v := resolved{addr: pick.String(), proto: classify(pick)}
	addrCache.Add(key, v)
	return v.addr, v.proto, nil
}

func classify(ip net.IP) Protocol {
	if ip.To4() != nil {
		return IPv4
	}
	return IPv6
}
