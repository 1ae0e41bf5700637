package core

import (
	"fmt"
	"net"
	"strings"

	"crits/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/publicsuffix"
)

// DefaultDomainParserCacheSize bounds the memo of parsed hostnames
const DefaultDomainParserCacheSize = 4096

type parsedDomain struct {
	root string
	fqdn string
	err  error
}

// DomainParser splits hostnames into registered domain and FQDN using the
// public suffix list. Results are memoized since the list is static for the
// life of the process.
type DomainParser struct {
	cache *lru.Cache[string, parsedDomain]
}

// NewDomainParser creates a parser with a bounded result cache
func NewDomainParser(cacheSize int) (*DomainParser, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultDomainParserCacheSize
	}
	cache, err := lru.New[string, parsedDomain](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create domain parser cache: %w", err)
	}
	return &DomainParser{cache: cache}, nil
}

// Parse returns the registered domain and fully qualified name of host.
// Hosts without an ICANN or well-known private suffix, including IP literals,
// return ErrNoTLD.
func (p *DomainParser) Parse(host string) (string, string, error) {
	key := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if cached, ok := p.cache.Get(key); ok {
		metrics.DomainParseCache.WithLabelValues("hit").Inc()
		return cached.root, cached.fqdn, cached.err
	}
	metrics.DomainParseCache.WithLabelValues("miss").Inc()

	result := parseDomain(key)
	p.cache.Add(key, result)
	return result.root, result.fqdn, result.err
}

func parseDomain(host string) parsedDomain {
	if host == "" {
		return parsedDomain{err: fmt.Errorf("empty host: %w", ErrNoTLD)}
	}
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return parsedDomain{err: fmt.Errorf("%s is an address: %w", host, ErrNoTLD)}
	}

	suffix, icann := publicsuffix.PublicSuffix(host)
	if (!icann && !strings.Contains(suffix, ".")) || suffix == host {
		return parsedDomain{err: fmt.Errorf("%s: %w", host, ErrNoTLD)}
	}

	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return parsedDomain{err: fmt.Errorf("%s: %v: %w", host, err, ErrNoTLD)}
	}
	return parsedDomain{root: root, fqdn: host}
}

// IsIPv4 reports whether s is a dotted IPv4 address
func IsIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil && !strings.Contains(s, ":")
}

// IsIP reports whether s is an IPv4 or IPv6 literal
func IsIP(s string) bool {
	return net.ParseIP(strings.Trim(s, "[]")) != nil
}
