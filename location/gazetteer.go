package location

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"

	ahocorasick "github.com/cloudflare/ahocorasick"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed data/gazetteer.yaml
var defaultGazetteerData []byte

// Gazetteer holds the local and international place-name tables.
type Gazetteer struct {
	Local         *NameTable
	International *NameTable
}

type gazetteerFile struct {
	Saudi         []string `yaml:"saudi"`
	International []string `yaml:"international"`
}

// LoadGazetteer parses a YAML document with "saudi" and "international" name lists.
func LoadGazetteer(r io.Reader) (*Gazetteer, error) {
	var file gazetteerFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("parse gazetteer: %w", err)
	}
	if len(file.Saudi) == 0 {
		return nil, fmt.Errorf("parse gazetteer: no local names")
	}
	return &Gazetteer{
		Local:         NewNameTable(file.Saudi),
		International: NewNameTable(file.International),
	}, nil
}

var defaultGazetteer = sync.OnceValue(func() *Gazetteer {
	g, err := LoadGazetteer(bytes.NewReader(defaultGazetteerData))
	if err != nil {
		panic(fmt.Sprintf("embedded gazetteer: %v", err))
	}
	return g
})

// DefaultGazetteer returns the embedded Saudi/international tables.
func DefaultGazetteer() *Gazetteer {
	return defaultGazetteer()
}

// NameTable answers exact and substring questions about a list of place names.
type NameTable struct {
	names []string
	exact map[string]struct{}

	// the matcher keeps per-call scratch state, so Match is serialized
	mu      sync.Mutex
	matcher *ahocorasick.Matcher
}

// NewNameTable normalizes names and builds the lookup structures.
func NewNameTable(names []string) *NameTable {
	t := &NameTable{
		names: make([]string, 0, len(names)),
		exact: make(map[string]struct{}, len(names)),
	}
	for _, name := range names {
		normalized := normalize(name)
		if normalized == "" {
			continue
		}
		if _, dup := t.exact[normalized]; dup {
			continue
		}
		t.exact[normalized] = struct{}{}
		t.names = append(t.names, normalized)
	}
	if len(t.names) > 0 {
		t.matcher = ahocorasick.NewStringMatcher(t.names)
	}
	return t
}

// Len returns the number of distinct names.
func (t *NameTable) Len() int {
	return len(t.names)
}

// Has reports an exact match for an already-normalized input.
func (t *NameTable) Has(input string) bool {
	_, ok := t.exact[input]
	return ok
}

// Overlaps reports whether the input contains a name or a name contains the input.
func (t *NameTable) Overlaps(input string) bool {
	if input == "" || t.matcher == nil {
		return false
	}

	t.mu.Lock()
	hits := t.matcher.Match([]byte(input))
	t.mu.Unlock()
	if len(hits) > 0 {
		return true
	}

	for _, name := range t.names {
		if strings.Contains(name, input) {
			return true
		}
	}
	return false
}

// normalize trims, lowercases and strips combining marks (Latin accents, Arabic harakat).
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return s
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}
