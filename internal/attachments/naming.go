package attachments

import (
	"path/filepath"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

const (
	// maxSuffix bounds the <stem>_<n><ext> candidates tried.
	maxSuffix = 1000

	maxNameBytes    = 200
	fallbackName    = "attachment"
	replacementRune = '_'
)

// SanitizeFilename makes a remote attachment name safe to use as a single
// path element on any platform.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune(replacementRune)
		case unicode.IsControl(r) || r == utf8.RuneError:
			b.WriteRune(replacementRune)
		default:
			b.WriteRune(r)
		}
	}
	clean := strings.TrimRight(strings.TrimSpace(b.String()), " .")
	if clean == "" {
		return fallbackName
	}
	if len(clean) > maxNameBytes {
		stem, ext := splitName(clean)
		if len(ext) > maxNameBytes/2 {
			ext = ""
		}
		clean = truncateBytes(stem, maxNameBytes-len(ext)) + ext
	}
	return clean
}

// splitName splits before the last extension. Dotfiles keep the whole name as
// the stem.
func splitName(name string) (stem, ext string) {
	ext = filepath.Ext(name)
	if ext == name || ext == "." {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// dirLocks hands out one mutex per target directory.
type dirLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (d *dirLocks) get(dir string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locks == nil {
		d.locks = make(map[string]*sync.Mutex)
	}
	l, ok := d.locks[dir]
	if !ok {
		l = &sync.Mutex{}
		d.locks[dir] = l
	}
	return l
}
