package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"crits/core"
	"crits/storage"

	"go.uber.org/zap"
)

// DomainService is the Domain collaborator used by cascading upserts
type DomainService struct {
	domains DomainStorage
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewDomainService creates a DomainService over the given storage
func NewDomainService(domains DomainStorage, logger *zap.SugaredLogger) *DomainService {
	if domains == nil {
		panic("domain storage is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &DomainService{domains: domains, logger: logger, now: time.Now}
}

// UpsertDomain finds the domain by FQDN or creates it, merges sources and
// bucket list tags, and saves it.
func (s *DomainService) UpsertDomain(ctx context.Context, req DomainUpsertRequest) (*core.Domain, error) {
	fqdn := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(req.Domain)), ".")
	if fqdn == "" || strings.ContainsAny(fqdn, " /:") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, req.Domain)
	}
	root := req.Root
	if root == "" {
		root = fqdn
	}

	d, err := s.domains.FindByName(ctx, fqdn)
	switch {
	case errors.Is(err, storage.ErrDomainNotFound):
		d = core.NewDomain(fqdn, root, s.now())
		s.logger.Infow("Creating domain", "domain", fqdn, "root", root, "analyst", req.Analyst)
	case err != nil:
		return nil, fmt.Errorf("failed to look up domain %s: %w", fqdn, err)
	}

	for _, src := range req.Sources {
		d.AddSource(src)
	}
	d.AddBucketList(req.BucketList)

	if err := s.domains.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to save domain %s: %w", fqdn, err)
	}
	return d, nil
}

// IPService is the IP collaborator used by cascading upserts
type IPService struct {
	ips    IPStorage
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewIPService creates an IPService over the given storage
func NewIPService(ips IPStorage, logger *zap.SugaredLogger) *IPService {
	if ips == nil {
		panic("IP storage is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &IPService{ips: ips, logger: logger, now: time.Now}
}

// UpsertIP finds the IP by address or creates it, then merges sources,
// campaigns, bucket list and tickets. CIDR blocks are accepted for the
// cidr type only.
func (s *IPService) UpsertIP(ctx context.Context, req IPUpsertRequest) (*core.IP, error) {
	address := strings.ToLower(strings.TrimSpace(req.Address))
	ipType, err := classifyAddress(address, req.Type)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ip, err := s.ips.FindByAddress(ctx, address)
	switch {
	case errors.Is(err, storage.ErrIPNotFound):
		ip = core.NewIP(address, ipType, now)
		s.logger.Infow("Creating IP",
			"ip", address,
			"type", ipType,
			"reference", req.Reference,
			"analyst", req.Analyst)
	case err != nil:
		return nil, fmt.Errorf("failed to look up IP %s: %w", address, err)
	}

	for _, src := range req.Sources {
		ip.AddSource(src)
	}
	for _, c := range req.Campaigns {
		ip.AddCampaign(c)
	}
	ip.AddBucketList(req.BucketList)
	ip.AddTicket(req.Ticket, req.Analyst, now)

	if err := s.ips.Save(ctx, ip); err != nil {
		return nil, fmt.Errorf("failed to save IP %s: %w", address, err)
	}
	return ip, nil
}

// classifyAddress checks address against the requested type and fills in the
// address family when the type is not an IP type.
func classifyAddress(address, ipType string) (string, error) {
	if ipType == core.IndicatorTypeCIDR {
		if _, _, err := net.ParseCIDR(address); err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidIP, address)
		}
		return ipType, nil
	}
	if !core.IsIP(address) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIP, address)
	}
	if core.IsIPv4(address) {
		if ipType == core.IndicatorTypeIPv6 {
			return "", fmt.Errorf("%w: %q is not an IPv6 address", ErrInvalidIP, address)
		}
		if !core.IsIPType(ipType) {
			ipType = core.IndicatorTypeIPv4
		}
		return ipType, nil
	}
	if ipType == core.IndicatorTypeIPv4 {
		return "", fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidIP, address)
	}
	if !core.IsIPType(ipType) {
		ipType = core.IndicatorTypeIPv6
	}
	return ipType, nil
}
