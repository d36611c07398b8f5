package schema

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/tablekit/internal/dberr"
)

// MaxIdentifierLength is the longest identifier CleanIdentifier accepts.
const MaxIdentifierLength = 128

// CleanIdentifier turns an arbitrary name into a SQL identifier: NFC
// normalized, lowercased, leading digits stripped, spaces and dashes
// replaced by underscores and every other character outside [a-z0-9_]
// dropped. The result must be 1..MaxIdentifierLength characters long.
func CleanIdentifier(name string) (string, error) {
	s := strings.ToLower(norm.NFC.String(name))
	s = strings.TrimLeft(s, "0123456789")
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)

	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	s = b.String()

	if len(s) == 0 || len(s) > MaxIdentifierLength {
		return "", dberr.InvalidQuery("", "invalid sql identifier %q", name)
	}
	return s, nil
}

// SnakeCase converts a Go identifier to snake_case, keeping acronyms
// together: "OrgID" becomes "org_id", "HTTPServer" becomes "http_server".
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
