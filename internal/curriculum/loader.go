// Package curriculum holds the fixed unit and subject layout of each semester.
package curriculum

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml data/structure.schema.json
var builtinFS embed.FS

// Loader loads and caches semester structures. Built-in structures are
// always present; YAML files under rootDir replace them per semester.
type Loader struct {
	rootDir    string
	validator  *Validator
	structures map[SemesterKey]Structure
	mu         sync.RWMutex
}

// NewLoader creates a loader with the built-in structures and any
// overrides found under rootDir. An empty rootDir loads built-ins only.
func NewLoader(rootDir string) (*Loader, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}

	l := &Loader{
		rootDir:    rootDir,
		validator:  v,
		structures: make(map[SemesterKey]Structure),
	}

	if err := l.loadBuiltins(); err != nil {
		return nil, fmt.Errorf("loading built-in curriculum: %w", err)
	}
	if rootDir != "" {
		if err := l.loadDir(); err != nil {
			return nil, fmt.Errorf("loading curriculum from %s: %w", rootDir, err)
		}
	}

	slog.Info("curriculum loaded", "semesters", len(l.structures), "root_dir", rootDir)
	return l, nil
}

// Get returns the structure for a semester.
func (l *Loader) Get(key SemesterKey) (Structure, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.structures[key]
	return s, ok
}

// All returns every loaded structure ordered by year then semester.
func (l *Loader) All() []Structure {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Structure, 0, len(l.structures))
	for _, s := range l.structures {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Semester < out[j].Semester
	})
	return out
}

// FindSubject looks a subject up across every semester.
func (l *Loader) FindSubject(id string) (Subject, SemesterKey, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for key, s := range l.structures {
		if sub, ok := s.Subject(id); ok {
			return sub, key, true
		}
	}
	return Subject{}, SemesterKey{}, false
}

func (l *Loader) loadBuiltins() error {
	paths, err := fs.Glob(builtinFS, "data/*.yaml")
	if err != nil {
		return err
	}
	for _, p := range paths {
		data, err := builtinFS.ReadFile(p)
		if err != nil {
			return err
		}
		s, ok, err := l.parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		if !ok {
			continue
		}
		l.structures[s.Key()] = s
	}
	return nil
}

func (l *Loader) loadDir() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		s, ok, err := l.parse(data)
		if err != nil {
			slog.Warn("skipping invalid structure YAML", "path", path, "error", err)
			return nil
		}
		if !ok {
			return nil // Not a structure file
		}

		l.mu.Lock()
		l.structures[s.Key()] = s
		l.mu.Unlock()
		return nil
	})
}

// parse decodes and validates one document. ok is false when the document
// is valid YAML but does not describe a semester.
func (l *Loader) parse(data []byte) (Structure, bool, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Structure{}, false, fmt.Errorf("decoding YAML: %w", err)
	}
	if _, hasUnits := raw["units"]; !hasUnits {
		return Structure{}, false, nil
	}

	if err := l.validator.Validate(raw); err != nil {
		return Structure{}, false, err
	}

	var s Structure
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Structure{}, false, fmt.Errorf("decoding structure: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Structure{}, false, err
	}
	return s, true, nil
}
