package orchestration

import (
	"fmt"
	"slices"
	"strings"
)

// CitationSet is an insertion ordered set of document identifiers referenced
// during a single turn.
type CitationSet struct {
	values []string
	seen   map[string]struct{}
}

// Add adds documents that are not already in the set and returns how many
// were added.
func (s *CitationSet) Add(documents ...string) int {
	if s.seen == nil {
		s.seen = map[string]struct{}{}
	}

	added := 0
	for _, document := range documents {
		if document == "" {
			continue
		}
		if _, ok := s.seen[document]; ok {
			continue
		}
		s.seen[document] = struct{}{}
		s.values = append(s.values, document)
		added++
	}
	return added
}

func (s *CitationSet) Values() []string {
	return slices.Clone(s.values)
}

func (s *CitationSet) Len() int {
	return len(s.values)
}

func (s *CitationSet) Reset() {
	s.values = nil
	s.seen = nil
}

// formatSources renders citations as a numbered markdown list that is
// appended to finalized content.
func formatSources(documents []string) string {
	if len(documents) == 0 {
		return ""
	}

	var sources strings.Builder
	sources.WriteString("\n\n**Sources:**\n")
	for i, document := range documents {
		fmt.Fprintf(&sources, "%d. %s\n", i+1, document)
	}
	return sources.String()
}
