// Package vocab holds the meeting vocabulary: attendee names, product names,
// project code names and acronyms that speech recognition tends to mangle.
// The transcript corrector aligns final transcripts against it.
//
// Terms come from YAML files ([LoadFile]), inline configuration and WebVTT
// transcripts of earlier meetings ([ImportVTT]), which contribute speaker
// names.
//
// [Store] is safe for concurrent use.
package vocab

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Kind classifies a vocabulary term.
type Kind string

const (
	KindPerson  Kind = "person"
	KindProduct Kind = "product"
	KindProject Kind = "project"
	KindAcronym Kind = "acronym"
	KindOther   Kind = "other"
)

// IsValid reports whether k is a known kind. The empty kind is valid and
// treated as [KindOther].
func (k Kind) IsValid() bool {
	switch k {
	case "", KindPerson, KindProduct, KindProject, KindAcronym, KindOther:
		return true
	}
	return false
}

// Term is one vocabulary entry.
type Term struct {
	// Text is the canonical spelling used in corrected transcripts.
	Text string `yaml:"term"`

	Kind Kind `yaml:"kind,omitempty"`

	// Note is free text passed to the LLM verifier as a hint
	// (e.g. "VP of Sales", "internal billing service").
	Note string `yaml:"note,omitempty"`
}

// Validate checks t for an empty text and an unknown kind.
func (t Term) Validate() error {
	var errs []error
	if strings.TrimSpace(t.Text) == "" {
		errs = append(errs, errors.New("term must not be empty"))
	}
	if !t.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("term %q: unknown kind %q", t.Text, t.Kind))
	}
	return errors.Join(errs...)
}

// Store is an in-memory set of terms keyed case-insensitively by their
// text. The zero value is ready to use.
type Store struct {
	mu    sync.RWMutex
	terms map[string]Term
}

// NewStore returns a Store seeded with terms. Invalid terms are skipped.
func NewStore(terms ...Term) *Store {
	s := &Store{}
	s.Add(terms...)
	return s
}

// Add inserts or replaces terms and returns how many were new. Invalid
// terms are skipped.
func (s *Store) Add(terms ...Term) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terms == nil {
		s.terms = make(map[string]Term)
	}
	added := 0
	for _, t := range terms {
		t.Text = strings.TrimSpace(t.Text)
		if t.Validate() != nil {
			continue
		}
		if t.Kind == "" {
			t.Kind = KindOther
		}
		key := strings.ToLower(t.Text)
		if _, ok := s.terms[key]; !ok {
			added++
		}
		s.terms[key] = t
	}
	return added
}

// Replace swaps the entire content of the store.
func (s *Store) Replace(terms ...Term) {
	s.mu.Lock()
	s.terms = nil
	s.mu.Unlock()
	s.Add(terms...)
}

// Len returns the number of terms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.terms)
}

// Terms returns all terms sorted by text.
func (s *Store) Terms() []Term {
	s.mu.RLock()
	out := make([]Term, 0, len(s.terms))
	for _, t := range s.terms {
		out = append(out, t)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Term) int { return cmp.Compare(a.Text, b.Text) })
	return out
}

// Words returns the canonical spelling of every term, sorted.
func (s *Store) Words() []string {
	terms := s.Terms()
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.Text
	}
	return out
}

// Lookup returns the term whose text equals word case-insensitively.
func (s *Store) Lookup(word string) (Term, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.terms[strings.ToLower(strings.TrimSpace(word))]
	return t, ok
}
