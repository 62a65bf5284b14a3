package checklist

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

//go:embed schemas/*.yaml
var builtinFS embed.FS

// ErrUnknownSchema is returned by Lookup when no schema matches.
var ErrUnknownSchema = errors.New("checklist: unknown schema")

// Catalog holds every known version of every schema, keyed by name.
type Catalog struct {
	schemas map[string][]*Schema // ascending by Version
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{schemas: make(map[string][]*Schema)}
}

// Builtin returns a catalog holding the schemas shipped with the binary.
func Builtin() (*Catalog, error) {
	c := NewCatalog()
	if err := c.loadFS(builtinFS, "schemas"); err != nil {
		return nil, err
	}
	return c, nil
}

// Add registers s. Registering the same name and version twice is an error.
func (c *Catalog) Add(s *Schema) error {
	versions := c.schemas[s.Name]
	for _, v := range versions {
		if v.Version == s.Version {
			return fmt.Errorf("checklist: schema %s already registered", s.Key())
		}
	}
	versions = append(versions, s)
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	c.schemas[s.Name] = versions
	return nil
}

// LoadDir registers every *.yaml and *.yml schema file found directly in dir.
func (c *Catalog) LoadDir(dir string) error {
	return c.loadFS(os.DirFS(dir), ".")
}

func (c *Catalog) loadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("checklist: read schemas: %w", err)
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		p := filepath.ToSlash(filepath.Join(dir, e.Name()))
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("checklist: %w", err)
		}
		s, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := c.Add(s); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the schema with the given name and version. Version 0
// selects the latest registered version.
func (c *Catalog) Lookup(name string, version int) (*Schema, error) {
	versions, ok := c.schemas[name]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownSchema, name, strings.Join(c.Names(), ", "))
	}
	if version == 0 {
		return versions[len(versions)-1], nil
	}
	for _, s := range versions {
		if s.Version == version {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w %s@%d", ErrUnknownSchema, name, version)
}

// Names returns the registered schema names in lexical order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.schemas))
	for n := range c.schemas {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
