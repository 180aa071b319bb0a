// Package langpack discovers installed Tesseract language data and turns it
// into the language set used for recognition.
package langpack

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// Ext is the extension of a Tesseract language-resource file.
	Ext = ".traineddata"
	// Sep joins language ids the way tesseract's -l flag expects.
	Sep = "+"
)

var (
	ErrNoResourceDir = errors.New("language resource directory not found")
	ErrNoLanguages   = errors.New("no language resource files found")
)

// Set is an ordered, deduplicated list of language ids. The zero value is
// the empty (unresolvable) set.
type Set struct {
	ids []string
}

func NewSet(ids ...string) Set {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return Set{ids: out}
}

func (s Set) Empty() bool { return len(s.ids) == 0 }
func (s Set) Len() int    { return len(s.ids) }

// IDs returns a copy of the language ids.
func (s Set) IDs() []string { return append([]string(nil), s.ids...) }

func (s Set) String() string { return strings.Join(s.ids, Sep) }

// Resolve lists *.traineddata files in dir. A missing directory or one with no
// matching files yields an empty Set.
func Resolve(dir string) Set {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Set{}
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), Ext))
	}
	return NewSet(ids...)
}

// Bootstrap validates the resource directory and resolves the language set
// once at startup. Both returned errors are fatal configuration failures.
func Bootstrap(dir string) (Set, error) {
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return Set{}, fmt.Errorf("%w: %s", ErrNoResourceDir, filepath.Clean(dir))
	}
	langs := Resolve(dir)
	if langs.Empty() {
		return Set{}, fmt.Errorf("%w in %s", ErrNoLanguages, filepath.Clean(dir))
	}
	return langs, nil
}
