package curriculum

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader loads and caches subject templates from the filesystem.
type Loader struct {
	rootDir   string
	templates map[string]Template
	notes     map[string]string
	mu        sync.RWMutex
}

// NewLoader creates a new template loader and loads all content.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir:   rootDir,
		templates: make(map[string]Template),
		notes:     make(map[string]string),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	slog.Info("templates loaded", "templates", len(l.templates))
	return l, nil
}

// GetTemplate returns a template by ID.
func (l *Loader) GetTemplate(id string) (Template, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[id]
	return t, ok
}

// GetNotes returns the study notes markdown for a template ID.
func (l *Loader) GetNotes(id string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n, ok := l.notes[id]
	return n, ok
}

// AllTemplates returns all loaded templates ordered by ID.
func (l *Loader) AllTemplates() []Template {
	l.mu.RLock()
	defer l.mu.RUnlock()
	templates := make([]Template, 0, len(l.templates))
	for _, t := range l.templates {
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return templates
}

func (l *Loader) loadAll() error {
	if _, err := os.Stat(l.rootDir); os.IsNotExist(err) {
		slog.Warn("template directory not found", "path", l.rootDir)
		return nil
	}
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}

		switch {
		case strings.HasSuffix(path, ".notes.md"):
			return l.loadNotes(path)
		case strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml"):
			return l.loadTemplate(path)
		}
		return nil
	})
}

func (l *Loader) loadTemplate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var tmpl Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		slog.Warn("skipping invalid template YAML", "path", path, "error", err)
		return nil
	}

	if tmpl.ID == "" || strings.TrimSpace(tmpl.Subject) == "" {
		return nil // Not a template file
	}

	l.mu.Lock()
	l.templates[tmpl.ID] = tmpl
	l.mu.Unlock()

	return nil
}

func (l *Loader) loadNotes(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Notes belong to the template in the YAML file next to them.
	base := strings.TrimSuffix(path, ".notes.md")
	var yamlData []byte
	for _, ext := range []string{".yaml", ".yml"} {
		if yamlData, err = os.ReadFile(base + ext); err == nil {
			break
		}
	}
	if yamlData == nil {
		return nil // No matching YAML, skip
	}

	var partial struct {
		ID string `yaml:"id"`
	}
	if err := yaml.Unmarshal(yamlData, &partial); err != nil || partial.ID == "" {
		return nil
	}

	l.mu.Lock()
	l.notes[partial.ID] = string(data)
	l.mu.Unlock()

	return nil
}
