package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// adminSuffixes are stripped from the end of a place name before retrying
// the exact probes.
var adminSuffixes = []string{"city", "county", "district", "province", "state"}

// PlaceQuery is a parsed place string and its deterministic surface forms.
type PlaceQuery struct {
	Key     string // cache key, see PlaceKey
	Text    string // trimmed original
	Primary string // text before the first comma, or Text
	Context string // text after the first comma, trimmed

	Title    string
	Upper    string
	Stripped string   // Text without a trailing admin suffix, empty if none
	Tokens   []string // Text split on whitespace and hyphens
}

// ParseQuery builds a PlaceQuery from raw input.
func ParseQuery(raw string) PlaceQuery {
	text := strings.TrimSpace(raw)
	q := PlaceQuery{
		Key:     PlaceKey(text),
		Text:    text,
		Primary: text,
		Title:   titleCase(text),
		Upper:   strings.ToUpper(text),
	}
	if primary, context, ok := strings.Cut(text, ","); ok {
		q.Primary = strings.TrimSpace(primary)
		q.Context = strings.TrimSpace(context)
	}
	q.Stripped = stripSuffix(text)
	q.Tokens = strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-'
	})
	return q
}

// Variants returns the literal, title and upper forms with duplicates removed.
func (q PlaceQuery) Variants() []string {
	return distinct(q.Text, q.Title, q.Upper)
}

func titleCase(s string) string {
	return cases.Title(language.Und).String(s)
}

func stripSuffix(s string) string {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return ""
	}
	last := strings.ToLower(fields[len(fields)-1])
	for _, suffix := range adminSuffixes {
		if last == suffix {
			return strings.Join(fields[:len(fields)-1], " ")
		}
	}
	return ""
}

func distinct(values ...string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
