// Package masker detects sensitive substrings (emails, phone numbers,
// credit-card-like digit runs, passwords, codes, URLs) and replaces them with
// unique reversible tokens before text leaves the system. Masking is
// independent of markup tokenization and runs after it.
package masker

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
)

// EntityType classifies the kind of sensitive data found.
type EntityType string

const (
	EntityEmail    EntityType = "EMAIL"
	EntityPhone    EntityType = "PHONE"
	EntityURL      EntityType = "URL"
	EntityPassword EntityType = "PASSWORD"
	EntityCode     EntityType = "CODE"
	EntityCard     EntityType = "CREDIT_CARD"
)

// Mapping is one token-identifier -> original value entry. Mappings are
// append-only for a given task: a token is never reassigned.
type Mapping struct {
	Token    string     `json:"token"`
	Type     EntityType `json:"type"`
	Original string     `json:"original"`
}

// pattern pairs a compiled regex with its entity type. Pattern order matters
// only for candidates with identical start and length; selection is governed
// by position and match length.
type pattern struct {
	re     *regexp.Regexp
	entity EntityType
}

// Masker holds the compiled entity patterns.
type Masker struct {
	patterns []pattern
}

// New compiles the default entity pattern set.
func New() *Masker {
	specs := []struct {
		expr   string
		entity EntityType
	}{
		{`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`, EntityEmail},
		{`https?://[^\s<>"')\]]+`, EntityURL},
		// Credit-card-like runs go before phones so a longer digit run wins
		// its overlap on the tie-break.
		{`\b(?:\d{4}[\- ]?){3}\d{4}\b`, EntityCard},
		{`(?i)\b(?:password|passwd|pwd|pass)\s*[:=]\s*\S+`, EntityPassword},
		{`(\+?\d{1,2}[\s\-.]?)?\(?\d{3}\)?[\s\-.]?\d{3}[\s\-.]?\d{4}`, EntityPhone},
		{`\b\d{5,8}\b`, EntityCode},
	}
	m := &Masker{}
	for _, s := range specs {
		m.patterns = append(m.patterns, pattern{re: regexp.MustCompile(s.expr), entity: s.entity})
	}
	return m
}

// candidate is one potential match before overlap resolution.
type candidate struct {
	start, end int
	value      string
	entity     EntityType
}

// Mask replaces every selected sensitive substring with a fresh unique token
// and returns the masked text with the token mappings. Overlapping candidates
// are resolved earliest-start first, longest match winning a tie; substitution
// is applied back-to-front so offsets never shift under earlier replacements.
func (m *Masker) Mask(text string) (string, []Mapping) {
	if text == "" {
		return text, nil
	}

	var cands []candidate
	for _, p := range m.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if loc[1] == loc[0] {
				continue
			}
			cands = append(cands, candidate{
				start:  loc[0],
				end:    loc[1],
				value:  text[loc[0]:loc[1]],
				entity: p.entity,
			})
		}
	}
	if len(cands) == 0 {
		return text, nil
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].start != cands[j].start {
			return cands[i].start < cands[j].start
		}
		return cands[i].end-cands[i].start > cands[j].end-cands[j].start
	})

	// Greedy non-overlap selection.
	selected := cands[:0]
	lastEnd := -1
	for _, c := range cands {
		if c.start < lastEnd {
			continue
		}
		selected = append(selected, c)
		lastEnd = c.end
	}

	mappings := make([]Mapping, 0, len(selected))
	masked := text
	// Back-to-front so earlier replacements do not shift later offsets.
	for i := len(selected) - 1; i >= 0; i-- {
		c := selected[i]
		token := newToken(c.entity)
		masked = masked[:c.start] + token + masked[c.end:]
		mappings = append(mappings, Mapping{Token: token, Type: c.entity, Original: c.value})
	}
	// Report mappings in document order.
	for i, j := 0, len(mappings)-1; i < j; i, j = i+1, j-1 {
		mappings[i], mappings[j] = mappings[j], mappings[i]
	}
	return masked, mappings
}

// newToken mints a globally unique token for one masked value. The bracket
// characters do not occur in natural text and survive machine translation.
func newToken(entity EntityType) string {
	return fmt.Sprintf("⟦SD:%s:%s⟧", entity, ulid.Make())
}

// Unmask performs literal substring replacement of each token with its
// original value. Tokens not present in the text are ignored.
func Unmask(text string, mappings []Mapping) string {
	for _, m := range mappings {
		text = strings.ReplaceAll(text, m.Token, m.Original)
	}
	return text
}
