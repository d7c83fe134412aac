package department

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dusk-indust/vigil/internal/errors"
	"gopkg.in/yaml.v3"
)

// defaultsFS holds the built-in department descriptors.
//
//go:embed defaults/*.yaml
var defaultsFS embed.FS

// Catalog resolves source tags to departments.
type Catalog struct {
	byName   map[string]*Descriptor
	bySource map[string]*Descriptor
	files    map[string]string
}

// Load builds a catalog from the embedded defaults overlaid with the
// descriptors found in dir. A descriptor in dir replaces a default of the
// same name. An empty or missing dir yields the defaults only.
func Load(dir string) (*Catalog, error) {
	defaults, err := loadEmbedded()
	if err != nil {
		return nil, err
	}
	items := defaults
	files := map[string]string{}
	for _, d := range defaults {
		files[d.Name] = "embedded:" + d.Name
	}

	if dir != "" {
		local, localFiles, err := loadDir[Descriptor](dir)
		if err != nil {
			return nil, fmt.Errorf("department: %w", err)
		}
		items = append(items, local...)
		for k, v := range localFiles {
			files[k] = v
		}
	}
	return NewCatalog(items, files)
}

// NewCatalog validates descriptors and indexes them. Later descriptors
// replace earlier ones with the same name; a source tag claimed by two
// remaining descriptors is an error.
func NewCatalog(items []Descriptor, files map[string]string) (*Catalog, error) {
	c := &Catalog{
		byName:   make(map[string]*Descriptor),
		bySource: make(map[string]*Descriptor),
		files:    files,
	}
	for i := range items {
		d := items[i]
		if errs := d.Validate(); len(errs) > 0 {
			return nil, fmt.Errorf("department %q: %w: %w", d.Name, errors.ErrInvalidDescriptor, errs)
		}
		c.byName[d.Name] = &d
	}
	for _, d := range c.byName {
		for _, src := range d.Sources {
			key := strings.ToLower(src)
			if other, ok := c.bySource[key]; ok {
				return nil, fmt.Errorf("department: source %q bound to both %q and %q: %w", src, other.Name, d.Name, errors.ErrInvalidDescriptor)
			}
			c.bySource[key] = d
		}
	}
	return c, nil
}

// Lookup returns the department bound to a source tag.
func (c *Catalog) Lookup(source string) (*Descriptor, error) {
	d, ok := c.bySource[strings.ToLower(strings.TrimSpace(source))]
	if !ok {
		return nil, fmt.Errorf("department: source %q: %w", source, errors.ErrUnknownDepartment)
	}
	return d, nil
}

// Get returns a department by name.
func (c *Catalog) Get(name string) (*Descriptor, error) {
	d, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("department %q: %w", name, errors.ErrNotFound)
	}
	return d, nil
}

// List returns all departments sorted by name.
func (c *Catalog) List() []*Descriptor {
	out := make([]*Descriptor, 0, len(c.byName))
	for _, d := range c.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Origin reports where a department was loaded from.
func (c *Catalog) Origin(name string) string {
	return c.files[name]
}

func loadEmbedded() ([]Descriptor, error) {
	entries, err := fs.ReadDir(defaultsFS, "defaults")
	if err != nil {
		return nil, fmt.Errorf("department: read embedded defaults: %w", err)
	}
	var out []Descriptor
	for _, ent := range entries {
		b, err := defaultsFS.ReadFile("defaults/" + ent.Name())
		if err != nil {
			return nil, fmt.Errorf("department: read %s: %w", ent.Name(), err)
		}
		var d Descriptor
		if err := yaml.Unmarshal(b, &d); err != nil {
			return nil, fmt.Errorf("department: parse %s: %w", ent.Name(), err)
		}
		out = append(out, d)
	}
	return out, nil
}

// loadDir decodes every YAML file in dir, skipping hidden and
// underscore-prefixed names. A missing dir is not an error.
func loadDir[T any](dir string) ([]T, map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, map[string]string{}, nil
		}
		return nil, nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	items := make([]T, 0, len(entries))
	files := map[string]string{}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
		var item T
		if err := yaml.Unmarshal(b, &item); err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", path, err)
		}
		items = append(items, item)
		if named, ok := any(item).(interface{ GetName() string }); ok {
			files[named.GetName()] = path
		}
	}
	return items, files, nil
}
