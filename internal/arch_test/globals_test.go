package arch_test

import (
	"go/ast"
	"go/token"
	"testing"
)

// TestNoMutableGlobalState allows these package-level vars: error sentinels,
// lipgloss colors, cobra commands and lookup-table literals that no function
// writes to. Anything else is state that belongs on a struct.
func TestNoMutableGlobalState(t *testing.T) {
	t.Parallel()

	for _, p := range loadPackages(t) {
		written := writtenNames(p)
		for _, f := range p.files {
			for _, decl := range f.Decls {
				gd, ok := decl.(*ast.GenDecl)
				if !ok || gd.Tok != token.VAR {
					continue
				}
				for _, spec := range gd.Specs {
					vs := spec.(*ast.ValueSpec)
					for i, name := range vs.Names {
						if name.Name == "_" {
							continue
						}
						var val ast.Expr
						if i < len(vs.Values) {
							val = vs.Values[i]
						}
						if reason := globalKind(p.name, val); reason == "" {
							t.Errorf("%s: var %s is mutable package state", p.name, name.Name)
						} else if reason == "table" && written[name.Name] {
							t.Errorf("%s: lookup table %s is written at run time", p.name, name.Name)
						}
					}
				}
			}
		}
	}
}

// globalKind classifies an initializer. It returns "" when the var is not
// one of the allowed kinds.
func globalKind(pkg string, val ast.Expr) string {
	switch v := val.(type) {
	case *ast.CallExpr:
		switch selector(v.Fun) {
		case "errors.New", "fmt.Errorf":
			return "sentinel"
		case "lipgloss.Color":
			if pkg == "ui" {
				return "color"
			}
		}
	case *ast.CompositeLit:
		return "table"
	case *ast.UnaryExpr:
		if lit, ok := v.X.(*ast.CompositeLit); ok && v.Op == token.AND && pkg == "cmd" && selector(lit.Type) == "cobra.Command" {
			return "command"
		}
	}
	return ""
}

// writtenNames collects identifiers assigned, indexed into or deleted from
// inside function bodies.
func writtenNames(p goPackage) map[string]bool {
	out := map[string]bool{}
	root := func(e ast.Expr) {
		for {
			switch x := e.(type) {
			case *ast.IndexExpr:
				e = x.X
				continue
			case *ast.Ident:
				out[x.Name] = true
			}
			return
		}
	}
	for _, f := range p.files {
		for _, decl := range f.Decls {
			fd, ok := decl.(*ast.FuncDecl)
			if !ok || fd.Body == nil {
				continue
			}
			ast.Inspect(fd.Body, func(n ast.Node) bool {
				switch s := n.(type) {
				case *ast.AssignStmt:
					if s.Tok != token.DEFINE {
						for _, lhs := range s.Lhs {
							root(lhs)
						}
					}
				case *ast.IncDecStmt:
					root(s.X)
				case *ast.CallExpr:
					if id, ok := s.Fun.(*ast.Ident); ok && (id.Name == "delete" || id.Name == "clear") && len(s.Args) > 0 {
						root(s.Args[0])
					}
				}
				return true
			})
		}
	}
	return out
}

func selector(e ast.Expr) string {
	sel, ok := e.(*ast.SelectorExpr)
	if !ok {
		return ""
	}
	pkg, ok := sel.X.(*ast.Ident)
	if !ok {
		return ""
	}
	return pkg.Name + "." + sel.Sel.Name
}
