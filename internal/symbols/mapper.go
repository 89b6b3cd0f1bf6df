package symbols

import (
	"path/filepath"
	"strings"
)

// DefaultClass is the share class appended to bare exchange codes.
const DefaultClass = "N0000"

// ToCSE converts the loose spellings people type for a listed security
// (JKH, jkh.n, JKH.N000) to the exchange form JKH.N0000. The class suffix is
// a letter followed by four digits; short digit runs are zero padded.
func ToCSE(sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if sym == "" {
		return ""
	}
	base, class, found := strings.Cut(sym, ".")
	if !found || class == "" {
		return base + "." + DefaultClass
	}
	letter, digits := class[:1], class[1:]
	if len(digits) < 4 && isDigits(digits) {
		digits += strings.Repeat("0", 4-len(digits))
	}
	return base + "." + letter + digits
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FromFilename returns the ticker encoded in a raw dump's file name: the
// name without its final extension.
func FromFilename(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Filename returns a file-system safe name for sym with ext appended.
func Filename(sym, ext string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return r.Replace(strings.TrimSpace(sym)) + ext
}
