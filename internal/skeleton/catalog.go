package skeleton

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ListFile is the skeleton list file name inside the config folder.
const ListFile = "SkeletonList.toml"

// ListEntry maps an alias to a character file relative to the source root.
type ListEntry struct {
	Alias string `toml:"alias"`
	Path  string `toml:"path"`
}

type listFile struct {
	Skeletons []ListEntry `toml:"skeleton"`
}

// ReadList parses a skeleton list file. Entries keep their declared order.
func ReadList(file string) ([]ListEntry, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("skeleton: read list %s: %w", file, err)
	}
	var lf listFile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("skeleton: parse list %s: %w", file, err)
	}
	out := lf.Skeletons[:0]
	for _, e := range lf.Skeletons {
		e.Alias = strings.TrimSpace(e.Alias)
		if e.Alias == "" || e.Path == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type chrFile struct {
	Joints []struct {
		Name   string `yaml:"name"`
		Parent *int   `yaml:"parent"`
	} `yaml:"joints"`
}

// Catalog resolves skeleton aliases and caches loaded skeletons by normalized
// absolute character path. It is populated before compilation fans out and is
// read-only afterwards; the lock only covers late loads during the rebuild.
type Catalog struct {
	sourceRoot string
	entries    []ListEntry
	byAlias    map[string]string

	mu    sync.RWMutex
	cache map[string]*Skeleton
}

// NewCatalog creates a catalog over the given skeleton list.
func NewCatalog(sourceRoot string, entries []ListEntry) *Catalog {
	c := &Catalog{
		sourceRoot: sourceRoot,
		entries:    entries,
		byAlias:    make(map[string]string, len(entries)),
		cache:      make(map[string]*Skeleton),
	}
	for _, e := range entries {
		if _, dup := c.byAlias[e.Alias]; !dup {
			c.byAlias[e.Alias] = e.Path
		}
	}
	return c
}

// Aliases returns every alias in list order.
func (c *Catalog) Aliases() []string {
	out := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Alias)
	}
	return out
}

// Load returns the skeleton for alias, loading it on first use.
func (c *Catalog) Load(alias string) (*Skeleton, error) {
	rel, ok := c.byAlias[alias]
	if !ok {
		return nil, fmt.Errorf("skeleton: alias %q not in skeleton list: %w", alias, ErrMissingSkeleton)
	}
	return c.load(alias, c.chrPath(rel))
}

// LoadPath loads a skeleton by character file path. Relative paths resolve
// against the source root.
func (c *Catalog) LoadPath(chrPath string) (*Skeleton, error) {
	return c.load(c.aliasForPath(chrPath), c.chrPath(chrPath))
}

// Find returns an already loaded skeleton by alias without loading it.
func (c *Catalog) Find(alias string) (*Skeleton, bool) {
	rel, ok := c.byAlias[alias]
	if !ok {
		return nil, false
	}
	return c.FindByPath(rel)
}

// FindByPath returns an already loaded skeleton by character path.
func (c *Catalog) FindByPath(chrPath string) (*Skeleton, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.cache[normalizeKey(c.chrPath(chrPath))]
	return s, ok
}

// Preload loads the given aliases. Failures are joined; successfully loaded
// skeletons stay cached.
func (c *Catalog) Preload(aliases []string) error {
	var errs []error
	seen := make(map[string]bool, len(aliases))
	for _, a := range aliases {
		if seen[a] {
			continue
		}
		seen[a] = true
		if _, err := c.Load(a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PreloadAll loads every skeleton in the list.
func (c *Catalog) PreloadAll() error {
	return c.Preload(c.Aliases())
}

// AliasForAnimation returns the first loaded skeleton, in list order, whose
// membership claims the animation.
func (c *Catalog) AliasForAnimation(animationPath string) (string, bool) {
	for _, e := range c.entries {
		s, ok := c.Find(e.Alias)
		if !ok {
			continue
		}
		if s.Claims(animationPath) {
			return e.Alias, true
		}
	}
	return "", false
}

func (c *Catalog) load(alias, chrPath string) (*Skeleton, error) {
	key := normalizeKey(chrPath)

	c.mu.RLock()
	s, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	joints, err := readJoints(chrPath)
	if err != nil {
		return nil, fmt.Errorf("skeleton: load %q: %v: %w", alias, err, ErrMissingSkeleton)
	}
	var p *params
	paramsPath := strings.TrimSuffix(chrPath, filepath.Ext(chrPath)) + ParamsExt
	if _, statErr := os.Stat(paramsPath); statErr == nil {
		p, err = loadParams(paramsPath, c.sourceRoot)
		if err != nil {
			return nil, err
		}
	}

	s = newSkeleton(alias, chrPath, joints, p)
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.cache[key]; ok {
		return existing, nil
	}
	c.cache[key] = s
	return s, nil
}

func (c *Catalog) chrPath(p string) string {
	p = filepath.FromSlash(strings.ReplaceAll(p, "\\", "/"))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.sourceRoot, p)
}

func (c *Catalog) aliasForPath(chrPath string) string {
	key := normalizeKey(c.chrPath(chrPath))
	for _, e := range c.entries {
		if normalizeKey(c.chrPath(e.Path)) == key {
			return e.Alias
		}
	}
	return ""
}

func readJoints(chrPath string) ([]Joint, error) {
	data, err := os.ReadFile(chrPath)
	if err != nil {
		return nil, err
	}
	var cf chrFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", chrPath, err)
	}
	if len(cf.Joints) == 0 {
		return nil, fmt.Errorf("%s declares no joints", chrPath)
	}
	joints := make([]Joint, len(cf.Joints))
	for i, j := range cf.Joints {
		parent := NoJoint
		if j.Parent != nil {
			parent = *j.Parent
		}
		joints[i] = Joint{Name: j.Name, Parent: parent}
	}
	return joints, nil
}
