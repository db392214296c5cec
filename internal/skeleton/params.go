package skeleton

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/papapumpkin/animc/internal/glob"
)

// ParamsExt is the extension of the parameter file paired with a character.
const ParamsExt = ".chrparams"

// Directive names recognized in [[animation]] entries.
const (
	directiveInclude  = "#include"
	directiveFilePath = "#filepath"
)

type paramsFile struct {
	Animations []struct {
		Name string `toml:"name"`
		Path string `toml:"path"`
	} `toml:"animation"`
	AimBlends []struct {
		Token string `toml:"token"`
	} `toml:"aim_blend"`
	LookBlends []struct {
		Token string `toml:"token"`
	} `toml:"look_blend"`
	IKLimbs []struct {
		Handle string `toml:"handle"`
		Root   string `toml:"root"`
		End    string `toml:"end"`
	} `toml:"ik_limb"`
}

type params struct {
	members    []membership
	aimTokens  []string
	lookTokens []string
	ikLimbs    []IKLimb
}

// paramsLoader resolves one parameter file and its includes. visiting holds
// the files on the current include chain; done holds files already merged.
type paramsLoader struct {
	sourceRoot string
	visiting   map[string]bool
	done       map[string]bool
}

func loadParams(file, sourceRoot string) (*params, error) {
	l := &paramsLoader{
		sourceRoot: sourceRoot,
		visiting:   make(map[string]bool),
		done:       make(map[string]bool),
	}
	out := &params{}
	if err := l.load(file, out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *paramsLoader) load(file string, out *params, top bool) error {
	key := normalizeKey(file)
	if l.visiting[key] {
		return fmt.Errorf("skeleton: %s: %w", file, ErrIncludeCycle)
	}
	if l.done[key] {
		return nil
	}
	l.visiting[key] = true
	defer func() {
		delete(l.visiting, key)
		l.done[key] = true
	}()

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("skeleton: read params %s: %w", file, err)
	}
	var pf paramsFile
	if err := toml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("skeleton: parse params %s: %w", file, err)
	}

	base := ""
	for _, a := range pf.Animations {
		switch strings.ToLower(a.Name) {
		case directiveInclude:
			if err := l.load(l.resolve(a.Path), out, false); err != nil {
				return err
			}
		case directiveFilePath:
			base = strings.Trim(strings.ToLower(filepath.ToSlash(a.Path)), "/")
		default:
			m, err := compileMember(base, a.Path)
			if err != nil {
				return fmt.Errorf("skeleton: params %s: %w", file, err)
			}
			out.members = append(out.members, m)
		}
	}

	// Blend tokens and IK limbs come from the character's own file only.
	if top {
		for _, b := range pf.AimBlends {
			out.aimTokens = append(out.aimTokens, b.Token)
		}
		for _, b := range pf.LookBlends {
			out.lookTokens = append(out.lookTokens, b.Token)
		}
		for _, k := range pf.IKLimbs {
			out.ikLimbs = append(out.ikLimbs, IKLimb{Handle: k.Handle, Root: k.Root, End: k.End})
		}
	}
	return nil
}

func (l *paramsLoader) resolve(p string) string {
	p = filepath.FromSlash(strings.ReplaceAll(p, "\\", "/"))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.sourceRoot, p)
}

func compileMember(base, p string) (membership, error) {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	nameOnly := false
	switch {
	case base != "":
		p = path.Join(base, p)
	case !strings.Contains(p, "/"):
		nameOnly = true
	}
	m, err := glob.Path(p)
	if err != nil {
		return membership{}, err
	}
	return membership{matcher: m, nameOnly: nameOnly}, nil
}

// normalizeKey produces the cache and visited-set key for a file path.
func normalizeKey(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return strings.ToLower(filepath.ToSlash(filepath.Clean(p)))
}
