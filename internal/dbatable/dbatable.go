// Package dbatable parses the declarative table that groups compiled
// animations into database archives and answers membership queries.
package dbatable

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/papapumpkin/animc/internal/animpath"
	"github.com/papapumpkin/animc/internal/glob"
)

// Table file names inside the config folder.
const (
	TableFile         = "DBATable.json"
	ObsoleteTableFile = "DBATable.xml"
)

// Sentinel errors for table loading.
var (
	// ErrMissingTable indicates the table is absent or unparsable. It is
	// fatal to the archive rebuild only.
	ErrMissingTable = errors.New("database table missing")
	// ErrObsoleteTable indicates only the retired XML table exists.
	ErrObsoleteTable = errors.New("obsolete database table format")
)

// Animation describes one animation of the scanned source tree, used to
// evaluate filter-based membership.
type Animation struct {
	Path     string // unified logical path
	Skeleton string
	Tags     []string
}

// Member is one animation listed under an archive.
type Member struct {
	Path string
	Skip bool // listed but kept standalone
}

// Entry is one archive with its members in table order.
type Entry struct {
	Archive string // unified relative .dba path
	Members []Member
}

// Warning is a non-fatal table problem.
type Warning struct {
	Archive   string
	Animation string
	Reason    string
}

// String formats the warning for logs.
func (w Warning) String() string {
	if w.Animation == "" {
		return w.Archive + ": " + w.Reason
	}
	return w.Archive + ": " + w.Animation + ": " + w.Reason
}

type tableFile struct {
	Databases []struct {
		Path    string `json:"path"`
		Filters []struct {
			Path     string   `json:"path"`
			Skeleton string   `json:"skeleton"`
			Tags     []string `json:"tags"`
		} `json:"filters"`
		Animations []struct {
			Path     string `json:"path"`
			Skeleton string `json:"skeleton"`
			Skip     bool   `json:"skip"`
		} `json:"animations"`
	} `json:"databases"`
}

type filter struct {
	path     glob.Matcher
	hasPath  bool
	skeleton string
	tags     []string
}

type explicit struct {
	path     string
	skeleton string
	skip     bool
}

type archive struct {
	id        string
	explicits []explicit
	filters   []filter
}

// Table is the loaded database table. It is read-only after Load.
type Table struct {
	archives []archive
	entries  []Entry
}

// Locate returns the table path inside configDir, distinguishing a missing
// table from one that still uses the retired XML format.
func Locate(configDir string) (string, error) {
	p := filepath.Join(configDir, TableFile)
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	if _, err := os.Stat(filepath.Join(configDir, ObsoleteTableFile)); err == nil {
		return "", fmt.Errorf("dbatable: %s found; convert it to %s: %w", ObsoleteTableFile, TableFile, ErrObsoleteTable)
	}
	return "", fmt.Errorf("dbatable: %s: %w", p, ErrMissingTable)
}

// Load reads the table and enumerates archive members against the scanned
// animations.
func Load(path string, animations []Animation) (*Table, []Warning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("dbatable: read %s: %v: %w", path, err, ErrMissingTable)
	}
	t, warns, err := Parse(data, animations)
	if err != nil {
		return nil, nil, fmt.Errorf("dbatable: %s: %w", path, err)
	}
	return t, warns, nil
}

// Parse builds a table from JSON-with-comments content.
func Parse(data []byte, animations []Animation) (*Table, []Warning, error) {
	var tf tableFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &tf); err != nil {
		return nil, nil, fmt.Errorf("parse: %v: %w", err, ErrMissingTable)
	}

	var warns []Warning
	t := &Table{}
	seen := make(map[string]bool)
	for _, db := range tf.Databases {
		id := archiveID(db.Path)
		if id == "" {
			warns = append(warns, Warning{Reason: "database entry without path"})
			continue
		}
		if seen[id] {
			warns = append(warns, Warning{Archive: id, Reason: "archive declared twice; later entry ignored"})
			continue
		}
		seen[id] = true

		a := archive{id: id}
		for _, f := range db.Filters {
			cf := filter{skeleton: strings.TrimSpace(f.Skeleton), tags: f.Tags}
			if f.Path != "" {
				m, err := glob.Path(f.Path)
				if err != nil {
					return nil, nil, fmt.Errorf("archive %s: %w", id, err)
				}
				cf.path, cf.hasPath = m, true
			}
			a.filters = append(a.filters, cf)
		}
		for _, m := range db.Animations {
			if m.Path == "" {
				continue
			}
			a.explicits = append(a.explicits, explicit{
				path:     animpath.Unified(animpath.ReplaceExt(m.Path, animpath.CompiledExt)),
				skeleton: strings.TrimSpace(m.Skeleton),
				skip:     m.Skip,
			})
		}
		t.archives = append(t.archives, a)
	}

	warns = append(warns, t.enumerate(animations)...)
	return t, warns, nil
}

// enumerate fills entries: explicit members in declared order, then filter
// matches in sorted path order. A path already owned by an earlier archive
// is dropped with a warning.
func (t *Table) enumerate(animations []Animation) []Warning {
	sorted := append([]Animation(nil), animations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	byPath := make(map[string]Animation, len(sorted))
	for _, anim := range sorted {
		byPath[anim.Path] = anim
	}

	var warns []Warning
	owner := make(map[string]string)
	claim := func(archiveID, p string) bool {
		if prev, ok := owner[p]; ok {
			if prev != archiveID {
				warns = append(warns, Warning{Archive: archiveID, Animation: p, Reason: "already a member of " + prev + "; dropped"})
			}
			return false
		}
		owner[p] = archiveID
		return true
	}

	t.entries = make([]Entry, len(t.archives))
	for i, a := range t.archives {
		e := Entry{Archive: a.id}
		for _, x := range a.explicits {
			if anim, ok := byPath[x.path]; ok && x.skeleton != "" && !strings.EqualFold(x.skeleton, anim.Skeleton) {
				continue
			}
			if claim(a.id, x.path) {
				e.Members = append(e.Members, Member{Path: x.path, Skip: x.skip})
			}
		}
		for _, anim := range sorted {
			if !a.filterMatch(anim.Path, anim.Skeleton, anim.Tags) {
				continue
			}
			if claim(a.id, anim.Path) {
				e.Members = append(e.Members, Member{Path: anim.Path})
			}
		}
		t.entries[i] = e
	}
	return warns
}

func (a *archive) filterMatch(p, skeleton string, tags []string) bool {
	for _, f := range a.filters {
		if f.hasPath && !f.path.Match(p) {
			continue
		}
		if f.skeleton != "" && !strings.EqualFold(f.skeleton, skeleton) {
			continue
		}
		if !hasAllTags(tags, f.tags) {
			continue
		}
		return true
	}
	return false
}

func (a *archive) explicitFor(p, skeleton string) (explicit, bool) {
	for _, x := range a.explicits {
		if x.path != p {
			continue
		}
		if x.skeleton != "" && !strings.EqualFold(x.skeleton, skeleton) {
			continue
		}
		return x, true
	}
	return explicit{}, false
}

// ArchiveCount returns the number of archives in the table.
func (t *Table) ArchiveCount() int {
	return len(t.entries)
}

// Archive returns the i-th archive in table order.
func (t *Table) Archive(i int) Entry {
	return t.entries[i]
}

// Archives returns every archive id in table order.
func (t *Table) Archives() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Archive
	}
	return out
}

// FindArchiveFor returns the first archive, in table order, that claims the
// animation through an explicit member or a filter. Members flagged skip
// claim the animation but keep it standalone, so no archive is returned.
func (t *Table) FindArchiveFor(animationPath, skeleton string, tags []string) (string, bool) {
	p := animpath.Unified(animationPath)
	for i := range t.archives {
		a := &t.archives[i]
		if x, ok := a.explicitFor(p, skeleton); ok {
			if x.skip {
				return "", false
			}
			return a.id, true
		}
		if a.filterMatch(p, skeleton, tags) {
			return a.id, true
		}
	}
	return "", false
}

func archiveID(p string) string {
	p = strings.Trim(animpath.Unified(strings.TrimSpace(p)), "/")
	if p == "" {
		return ""
	}
	if !strings.HasSuffix(p, animpath.ArchiveExt) {
		p += animpath.ArchiveExt
	}
	return p
}

func hasAllTags(have, required []string) bool {
	for _, r := range required {
		found := false
		for _, h := range have {
			if strings.EqualFold(h, r) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
