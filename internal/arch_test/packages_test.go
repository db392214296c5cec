// Package arch_test checks the package graph of animc: which packages may
// import which, where interfaces live and what may be declared at package
// level.
package arch_test

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
)

const internalPrefix = "github.com/papapumpkin/animc/internal/"

// goPackage is one parsed package of the module, test files excluded.
type goPackage struct {
	name  string // directory name under internal/, or "cmd"
	files []*ast.File
}

func moduleRoot(t *testing.T) string {
	t.Helper()
	_, here, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Join(filepath.Dir(here), "..", "..")
}

// loadPackages parses the command package and every internal package except
// this one.
func loadPackages(t *testing.T) []goPackage {
	t.Helper()
	root := moduleRoot(t)
	dirs := map[string]string{"cmd": filepath.Join(root, "cmd")}
	entries, err := os.ReadDir(filepath.Join(root, "internal"))
	if err != nil {
		t.Fatalf("ReadDir(internal) = %v", err)
	}
	for _, e := range entries {
		if e.IsDir() && e.Name() != "arch_test" {
			dirs[e.Name()] = filepath.Join(root, "internal", e.Name())
		}
	}

	fset := token.NewFileSet()
	var pkgs []goPackage
	for name, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*.go"))
		if err != nil {
			t.Fatalf("Glob(%s) = %v", dir, err)
		}
		p := goPackage{name: name}
		for _, m := range matches {
			if strings.HasSuffix(m, "_test.go") {
				continue
			}
			f, err := parser.ParseFile(fset, m, nil, parser.SkipObjectResolution)
			if err != nil {
				t.Fatalf("parse %s: %v", m, err)
			}
			p.files = append(p.files, f)
		}
		if len(p.files) > 0 {
			pkgs = append(pkgs, p)
		}
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].name < pkgs[j].name })
	if len(pkgs) < 2 {
		t.Fatalf("loaded %d packages, want the whole module", len(pkgs))
	}
	return pkgs
}

// internalImports returns the internal packages p imports, by directory name.
func (p goPackage) internalImports() []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range p.files {
		for _, imp := range f.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			name, ok := strings.CutPrefix(path, internalPrefix)
			if !ok {
				continue
			}
			if i := strings.IndexByte(name, '/'); i >= 0 {
				name = name[:i]
			}
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (p goPackage) imports(name string) bool {
	for _, imp := range p.internalImports() {
		if imp == name {
			return true
		}
	}
	return false
}
