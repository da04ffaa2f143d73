package service

import (
	"strings"
)

// Moderator rejects prompts containing any configured term.
type Moderator struct {
	terms []string
}

// NewModerator builds a moderator. Matching is case-insensitive; blank terms
// are ignored.
func NewModerator(terms []string) *Moderator {
	m := &Moderator{}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			m.terms = append(m.terms, t)
		}
	}
	return m
}

// Check returns the first blocked term found in prompt.
func (m *Moderator) Check(prompt string) (string, bool) {
	if m == nil || len(m.terms) == 0 {
		return "", false
	}
	lower := strings.ToLower(prompt)
	for _, t := range m.terms {
		if strings.Contains(lower, t) {
			return t, true
		}
	}
	return "", false
}
