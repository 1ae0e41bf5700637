package core

import (
	"strings"
	"time"
)

type sourceKind int

const (
	sourceNone sourceKind = iota
	sourceName
	sourceStructured
	sourceList
)

// SourceInput is the provenance passed to an upsert. It is built with one of
// SourceByName, SourceFrom or SourceList.
type SourceInput struct {
	kind    sourceKind
	name    string
	sources []Source
}

// SourceByName attributes data to a bare source name. A single instance is
// synthesised from the upsert's reference, method and analyst.
func SourceByName(name string) SourceInput {
	return SourceInput{kind: sourceName, name: strings.TrimSpace(name)}
}

// SourceFrom attributes data to a fully populated source
func SourceFrom(s Source) SourceInput {
	return SourceInput{kind: sourceStructured, sources: []Source{s}}
}

// SourceList attributes data to several sources at once
func SourceList(sources []Source) SourceInput {
	return SourceInput{kind: sourceList, sources: sources}
}

// IsEmpty reports whether the input names no source at all
func (in SourceInput) IsEmpty() bool {
	switch in.kind {
	case sourceName:
		return in.name == ""
	case sourceStructured, sourceList:
		for _, s := range in.sources {
			if strings.TrimSpace(s.Name) != "" {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Resolve expands the input into the sources to merge into a record
func (in SourceInput) Resolve(reference, method, analyst string, now time.Time) []Source {
	switch in.kind {
	case sourceName:
		if in.name == "" {
			return nil
		}
		return []Source{{
			Name: in.name,
			Instances: []SourceInstance{{
				Reference: reference,
				Method:    method,
				Analyst:   analyst,
				Date:      storageTime(now),
			}},
		}}
	case sourceStructured, sourceList:
		out := make([]Source, len(in.sources))
		copy(out, in.sources)
		return out
	default:
		return nil
	}
}
