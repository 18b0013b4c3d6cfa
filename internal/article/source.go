package article

import (
	"fmt"
	"strings"
)

// Source identifies one retrieval strategy.
type Source string

// Known sources, listed fastest first.
const (
	SourceDirect      Source = "fast-direct"
	SourcePrerendered Source = "prerendered-lookup"
	SourceArchive     Source = "archive-mirror"
	SourceExtraction  Source = "slow-extraction"
)

// SourceAuto asks the API to race every configured source.
const SourceAuto = "auto"

var sourceRank = map[Source]int{
	SourceDirect:      0,
	SourcePrerendered: 1,
	SourceArchive:     2,
	SourceExtraction:  3,
}

// Sources returns every known source in race order.
func Sources() []Source {
	return []Source{SourceDirect, SourcePrerendered, SourceArchive, SourceExtraction}
}

// Rank returns the latency rank of the source; unknown sources sort last.
func (s Source) Rank() int {
	if r, ok := sourceRank[s]; ok {
		return r
	}
	return len(sourceRank)
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	_, ok := sourceRank[s]
	return ok
}

func (s Source) String() string { return string(s) }

// ParseSource validates a source name.
func ParseSource(raw string) (Source, error) {
	s := Source(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", &ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", raw)}
	}
	return s, nil
}

// ParseSources validates a list of source names, accepting comma separated
// entries. Empty entries are skipped.
func ParseSources(raw []string) ([]Source, error) {
	var out []Source
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			s, err := ParseSource(part)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}
