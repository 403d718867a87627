// Package labels holds the ordered set of class names a classifier predicts.
package labels

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

// Unknown is the placeholder label reported when no model is available.
const Unknown = "unknown"

// Defaults is used when no label file is present.
var Defaults = []string{"chair", "cobra", "dog", "tree", "warrior"}

var ErrEmpty = errors.New("labels: empty label set")

// Set is an immutable ordered list of class names. Index i of a model's
// output distribution corresponds to Names()[i].
type Set struct {
	names []string
	index map[string]int
}

// FromList builds a set from names. Duplicates are rejected.
func FromList(names []string) (*Set, error) {
	if len(names) == 0 {
		return nil, ErrEmpty
	}

	s := &Set{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		if _, dup := s.index[n]; dup {
			return nil, fmt.Errorf("labels: duplicate label %q", n)
		}
		s.names[i] = n
		s.index[n] = i
	}
	return s, nil
}

// Load reads one label per line from path. Blank lines are ignored.
// A missing file falls back to Defaults.
func Load(path string) (*Set, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("labels: file not found, using defaults",
			"path", path,
			"labels", Defaults,
		)
		return FromList(Defaults)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open label file: %w", err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read label file: %w", err)
	}

	s, err := FromList(names)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	slog.Info("labels loaded", "path", path, "count", s.Len())
	return s, nil
}

// Len returns the number of classes
func (s *Set) Len() int {
	return len(s.names)
}

// Name returns the label at index i, or Unknown when out of range
func (s *Set) Name(i int) string {
	if i < 0 || i >= len(s.names) {
		return Unknown
	}
	return s.names[i]
}

// Index returns the position of name in the set
func (s *Set) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Names returns a copy of the ordered names
func (s *Set) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}
