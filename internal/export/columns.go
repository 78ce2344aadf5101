package export

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// HashColumn is the dedupe column every exported table carries.
const HashColumn = "row_hash"

// maxIdentLen matches Postgres' identifier limit, the tightest of the backends.
const maxIdentLen = 63

// foldAccents strips combining marks after canonical decomposition: "café" -> "cafe".
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// ColumnName converts a dot-path header into a lowercase [a-z0-9_]
// identifier. Path separators and punctuation become single underscores.
// It returns "" when nothing usable remains.
func ColumnName(header string) string {
	s := strings.ToLower(strings.TrimSpace(foldAccents(header)))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			lastUnderscore = r == '_'
			continue
		}
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
		// Drop everything else.
	}
	return truncateIdent(strings.Trim(b.String(), "_"), maxIdentLen)
}

func truncateIdent(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ColumnNames maps headers to distinct column names, in header order.
// Empty results become "column"; collisions (including with HashColumn)
// get a numeric suffix, truncating the base so the name stays within limits.
func ColumnNames(headers []string) []string {
	used := map[string]bool{HashColumn: true}
	out := make([]string, len(headers))
	for i, h := range headers {
		base := ColumnName(h)
		if base == "" {
			base = "column"
		}
		name := base
		for n := 2; used[name]; n++ {
			suffix := "_" + strconv.Itoa(n)
			name = truncateIdent(base, maxIdentLen-len(suffix)) + suffix
		}
		used[name] = true
		out[i] = name
	}
	return out
}
