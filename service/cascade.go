package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"crits/core"
	"crits/metrics"
	"crits/storage"
)

// CascadeMode selects how an upsert propagates to the Domain/IP object behind
// the indicator value.
type CascadeMode int

const (
	// CascadeNone leaves Domain and IP objects alone
	CascadeNone CascadeMode = iota
	// CascadeLink relates the indicator to an existing Domain/IP only
	CascadeLink
	// CascadeCreate creates or updates the Domain/IP and relates it
	CascadeCreate
)

func (m CascadeMode) String() string {
	switch m {
	case CascadeLink:
		return "link"
	case CascadeCreate:
		return "create"
	default:
		return "none"
	}
}

// ParseCascadeMode converts "none", "link" or "create" to a CascadeMode
func ParseCascadeMode(s string) (CascadeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CascadeNone, nil
	case "link":
		return CascadeLink, nil
	case "create":
		return CascadeCreate, nil
	default:
		return CascadeNone, fmt.Errorf("unknown cascade mode %q", s)
	}
}

// CascadeModeFromFlags maps the legacy add_domain/add_relationship pair.
// add_domain wins since it implies the relationship.
func CascadeModeFromFlags(addDomain, addRelationship bool) CascadeMode {
	switch {
	case addDomain:
		return CascadeCreate
	case addRelationship:
		return CascadeLink
	default:
		return CascadeNone
	}
}

type cascadingKey struct{}

// withCascading marks ctx as belonging to a cascade in progress. The marked
// context is what DomainUpserter and IPUpserter receive, so an upserter that
// records an indicator for its new object (as a Domain handler adding the
// "URI - Domain Name" indicator would) re-enters Upsert in link mode only.
func withCascading(ctx context.Context) context.Context {
	return context.WithValue(ctx, cascadingKey{}, true)
}

func isCascading(ctx context.Context) bool {
	v, _ := ctx.Value(cascadingKey{}).(bool)
	return v
}

// effectiveCascade downgrades CascadeCreate to CascadeLink inside a cascade so
// collaborators that create indicators of their own cannot recurse.
func effectiveCascade(ctx context.Context, m CascadeMode) CascadeMode {
	if m == CascadeCreate && isCascading(ctx) {
		return CascadeLink
	}
	return m
}

// CascadeRequest is the input to the cascade resolver
type CascadeRequest struct {
	Type       string
	Value      string
	Mode       CascadeMode
	Sources    []core.Source
	Campaigns  []core.CampaignAttribution
	BucketList string
	Ticket     string
	Reference  string
	Analyst    string
}

// CascadeTargets are the objects an indicator gets related to. Either may be nil.
type CascadeTargets struct {
	Domain *core.Domain
	IP     *core.IP
}

// DomainUpsertRequest is the input to DomainUpserter.UpsertDomain
type DomainUpsertRequest struct {
	Domain     string
	Root       string
	Sources    []core.Source
	BucketList string
	Analyst    string
}

// IPUpsertRequest is the input to IPUpserter.UpsertIP
type IPUpsertRequest struct {
	Address    string
	Type       string
	Sources    []core.Source
	Campaigns  []core.CampaignAttribution
	BucketList string
	Ticket     string
	Reference  string
	Analyst    string
}

// resolveCascade finds or creates the Domain and/or IP behind the indicator.
// Collaborator errors are wrapped in ErrCascadeFailed. A lookup that finds
// nothing is not an error.
func (s *IndicatorService) resolveCascade(ctx context.Context, req CascadeRequest) (*CascadeTargets, error) {
	targets := &CascadeTargets{}
	if req.Mode == CascadeNone {
		return targets, nil
	}
	cctx := withCascading(ctx)

	ipValue, ipType := req.Value, req.Type
	urlContainsIP := false

	if core.IsDomainType(req.Type) {
		host := req.Value
		if req.Type == core.IndicatorTypeURL {
			u, err := url.Parse(req.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCascadeFailed, err)
			}
			host = u.Hostname()
		}

		root, fqdn, err := s.hostParser.Parse(host)
		switch {
		case errors.Is(err, core.ErrNoTLD) && req.Type == core.IndicatorTypeURL && core.IsIP(host):
			urlContainsIP = true
			ipValue = strings.Trim(host, "[]")
			if core.IsIPv4(ipValue) {
				ipType = core.IndicatorTypeIPv4
			} else {
				ipType = core.IndicatorTypeIPv6
			}
		case req.Mode == CascadeCreate:
			if err != nil {
				metrics.CascadeOutcomes.WithLabelValues("domain", metrics.ResultFailure).Inc()
				return nil, fmt.Errorf("%w: %v", ErrCascadeFailed, err)
			}
			d, err := s.domainUpserter.UpsertDomain(cctx, DomainUpsertRequest{
				Domain:     fqdn,
				Root:       root,
				Sources:    req.Sources,
				BucketList: req.BucketList,
				Analyst:    req.Analyst,
			})
			if err != nil {
				metrics.CascadeOutcomes.WithLabelValues("domain", metrics.ResultFailure).Inc()
				return nil, fmt.Errorf("%w: %v", ErrCascadeFailed, err)
			}
			metrics.CascadeOutcomes.WithLabelValues("domain", metrics.ResultSuccess).Inc()
			targets.Domain = d
		default:
			d, err := s.domains.FindByName(cctx, host)
			if err != nil && !errors.Is(err, storage.ErrDomainNotFound) {
				return nil, fmt.Errorf("failed to look up domain %s: %w", host, err)
			}
			targets.Domain = d
		}
	}

	if core.IsIPType(req.Type) || urlContainsIP {
		if req.Mode == CascadeCreate {
			ip, err := s.ipUpserter.UpsertIP(cctx, IPUpsertRequest{
				Address:    ipValue,
				Type:       ipType,
				Sources:    req.Sources,
				Campaigns:  req.Campaigns,
				BucketList: req.BucketList,
				Ticket:     req.Ticket,
				Reference:  req.Reference,
				Analyst:    req.Analyst,
			})
			if err != nil {
				metrics.CascadeOutcomes.WithLabelValues("ip", metrics.ResultFailure).Inc()
				return nil, fmt.Errorf("%w: %v", ErrCascadeFailed, err)
			}
			metrics.CascadeOutcomes.WithLabelValues("ip", metrics.ResultSuccess).Inc()
			targets.IP = ip
		} else {
			ip, err := s.ips.FindByAddress(cctx, ipValue)
			if err != nil && !errors.Is(err, storage.ErrIPNotFound) {
				return nil, fmt.Errorf("failed to look up IP %s: %w", ipValue, err)
			}
			targets.IP = ip
		}
	}

	return targets, nil
}
