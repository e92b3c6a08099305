// Package classifier sorts source calendar events into the categories the
// sync engine acts on and extracts patient names from surgery titles.
package classifier

import (
	"strings"
	"time"
	"unicode"
)

// Category is the sync class of a source event.
type Category string

const (
	Surgery Category = "surgery"
	Blocked Category = "blocked"
	Info    Category = "info"
	None    Category = "none"
)

// Classifier evaluates a fixed rule set. It is safe for concurrent use.
type Classifier struct {
	infoPrefixes    []string
	surgeryKeywords []string
	blockedKeywords []string
	surgeryColorIDs map[string]struct{}
	surgeryColors   map[string]struct{}
	blockedAfter    time.Duration
}

// New builds a classifier from rules.
func New(rules Rules) *Classifier {
	c := &Classifier{
		infoPrefixes:    foldAll(rules.Info.Prefixes),
		surgeryKeywords: foldAll(rules.Surgery.Keywords),
		blockedKeywords: foldAll(rules.Blocked.Keywords),
		surgeryColorIDs: make(map[string]struct{}, len(rules.Surgery.ColorIDs)),
		surgeryColors:   make(map[string]struct{}, len(rules.Surgery.Colors)),
		blockedAfter:    time.Duration(rules.Blocked.MinHours * float64(time.Hour)),
	}
	for _, id := range rules.Surgery.ColorIDs {
		c.surgeryColorIDs[strings.TrimSpace(id)] = struct{}{}
	}
	for _, hex := range rules.Surgery.Colors {
		c.surgeryColors[strings.ToLower(strings.TrimSpace(hex))] = struct{}{}
	}
	return c
}

// Categorize classifies an event from its title, palette color id and the
// RFC 3339 start and end instants. Unparseable instants only disable the
// duration rule.
func (c *Classifier) Categorize(title, colorID, startISO, endISO string) Category {
	title = strings.TrimSpace(title)
	if title == "" {
		return None
	}

	folded := foldVariants(title)
	for _, prefix := range c.infoPrefixes {
		if hasPrefixAny(folded, prefix) {
			return Info
		}
	}
	if containsAny(folded, c.surgeryKeywords) {
		return Surgery
	}
	if containsAny(folded, c.blockedKeywords) {
		return Blocked
	}
	if c.isSurgeryColor(colorID) {
		return Surgery
	}
	if c.blockedAfter > 0 && duration(startISO, endISO) >= c.blockedAfter {
		return Blocked
	}
	return None
}

// CleanDisplayName strips surgery keywords and separators from a title,
// leaving the patient name: "Ameliyat - Ahmet Yılmaz" becomes "Ahmet Yılmaz".
func (c *Classifier) CleanDisplayName(title string) string {
	tokens := strings.FieldsFunc(title, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(":|/,;–—", r)
	})

	kept := make([]string, 0, len(tokens))
	for _, token := range tokens {
		core := strings.TrimFunc(token, isSeparator)
		if core == "" {
			continue
		}
		if c.isSurgeryWord(core) {
			continue
		}
		kept = append(kept, core)
	}
	return strings.Join(kept, " ")
}

func (c *Classifier) isSurgeryWord(word string) bool {
	for _, variant := range foldVariants(word) {
		for _, keyword := range c.surgeryKeywords {
			// Turkish suffixes: "ameliyatı", "operasyonu"
			if strings.HasPrefix(variant, keyword) {
				return true
			}
		}
	}
	return false
}

func (c *Classifier) isSurgeryColor(colorID string) bool {
	colorID = strings.TrimSpace(colorID)
	if colorID == "" {
		return false
	}
	if _, ok := c.surgeryColorIDs[colorID]; ok {
		return true
	}
	_, ok := c.surgeryColors[strings.ToLower(colorID)]
	return ok
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune("-–—:|/,;()[]*·", r)
}

func duration(startISO, endISO string) time.Duration {
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(startISO))
	if err != nil {
		return 0
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(endISO))
	if err != nil {
		return 0
	}
	return end.Sub(start)
}

// foldVariants lowercases with Turkish rules and plain rules so both
// "İZİN" and "IZIN" reach "izin".
func foldVariants(s string) []string {
	tr := strings.ToLowerSpecial(unicode.TurkishCase, s)
	plain := strings.ToLower(s)
	if tr == plain {
		return []string{tr}
	}
	return []string{tr, plain}
}

func foldAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, strings.ToLowerSpecial(unicode.TurkishCase, v))
	}
	return out
}

func containsAny(variants, keywords []string) bool {
	for _, variant := range variants {
		for _, keyword := range keywords {
			if strings.Contains(variant, keyword) {
				return true
			}
		}
	}
	return false
}

func hasPrefixAny(variants []string, prefix string) bool {
	for _, variant := range variants {
		if strings.HasPrefix(variant, prefix) {
			return true
		}
	}
	return false
}
