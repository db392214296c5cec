package compression

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/papapumpkin/animc/internal/glob"
)

// NoRule marks a joint plan that fell through to the globals.
const NoRule = -1

// JointPlan is the resolved tolerance for one joint. Deleted axes carry
// +Inf; kept axes carry 0.
type JointPlan struct {
	Joint    string
	Rule     int // index into Descriptor.Bones, or NoRule
	Position float64
	Rotation float64
	Scale    float64
}

// Deleted reports whether every axis of the joint is dropped.
func (p JointPlan) Deleted() bool {
	return math.IsInf(p.Position, 1) && math.IsInf(p.Rotation, 1) && math.IsInf(p.Scale, 1)
}

func legacyPosition(eps float64) float64 {
	if eps <= 0 {
		return 0
	}
	return math.Sqrt(eps)
}

func legacyRotation(eps float64) float64 {
	if eps <= 0 {
		return 0
	}
	return 2 * math.Acos(math.Max(-1, 1-eps)) * 180 / math.Pi
}

// Plan computes per-joint tolerances. Each joint takes the first bone rule,
// in declaration order, whose pattern matches its name.
func (d *Descriptor) Plan(joints []string, platformScale float64) ([]JointPlan, error) {
	matchers := make([]glob.Matcher, len(d.Bones))
	for i, r := range d.Bones {
		m, err := glob.Bone(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compression: bone rule %d: %w", i, err)
		}
		matchers[i] = m
	}

	gp, gr, gs := d.Format.Globals()
	plans := make([]JointPlan, len(joints))
	for ji, name := range joints {
		plan := JointPlan{
			Joint:    name,
			Rule:     NoRule,
			Position: gp * platformScale,
			Rotation: gr * platformScale,
			Scale:    gs * platformScale,
		}
		for ri, m := range matchers {
			if !m.Match(name) {
				continue
			}
			r := d.Bones[ri]
			plan.Rule = ri
			plan.Position = axisTolerance(r.Position, r.PositionOverride, gp, r.Multiplier, platformScale)
			plan.Rotation = axisTolerance(r.Rotation, r.RotationOverride, gr, r.Multiplier, platformScale)
			plan.Scale = axisTolerance(r.Scale, r.ScaleOverride, gs, r.Multiplier, platformScale)
			break
		}
		plans[ji] = plan
	}
	return plans, nil
}

func axisTolerance(mode AxisMode, override *float64, global, multiplier, scale float64) float64 {
	switch mode {
	case AxisDelete:
		return math.Inf(1)
	case AxisKeep:
		return 0
	}
	if override != nil {
		return *override * scale
	}
	return global * multiplier * scale
}

// Fingerprint returns a stable digest of everything that affects a plan.
func (d *Descriptor) Fingerprint() string {
	var b strings.Builder
	b.WriteString(d.Format.Name())
	if l, ok := d.Format.(Legacy); ok {
		b.WriteString("|q" + strconv.Itoa(l.Quality))
	}
	gp, gr, gs := d.Format.Globals()
	writeFloats(&b, gp, gr, gs)
	for _, r := range d.Bones {
		b.WriteString("|" + r.Pattern + ":" + r.Position.String() + r.Rotation.String() + r.Scale.String())
		writeFloats(&b, r.Multiplier)
		for _, o := range []*float64{r.PositionOverride, r.RotationOverride, r.ScaleOverride} {
			if o == nil {
				b.WriteString(",-")
				continue
			}
			writeFloats(&b, *o)
		}
	}
	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

func writeFloats(b *strings.Builder, vs ...float64) {
	for _, v := range vs {
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
}

// PlanCache memoizes joint plans per skeleton and descriptor fingerprint.
// Many animations share a preset, so the cache is shared by all jobs.
type PlanCache struct {
	mu    sync.Mutex
	plans map[string][]JointPlan
}

// NewPlanCache creates an empty cache.
func NewPlanCache() *PlanCache {
	return &PlanCache{plans: make(map[string][]JointPlan)}
}

// Plan returns the cached plan for (skeleton, descriptor), computing it on a
// miss. The returned slice is shared and must not be modified.
func (c *PlanCache) Plan(skeleton string, joints []string, d *Descriptor, platformScale float64) ([]JointPlan, error) {
	key := skeleton + "|" + strconv.FormatFloat(platformScale, 'g', -1, 64) + "|" + d.Fingerprint()

	c.mu.Lock()
	p, ok := c.plans[key]
	c.mu.Unlock()
	if ok {
		return p, nil
	}

	p, err := d.Plan(joints, platformScale)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.plans[key]; ok {
		return existing, nil
	}
	c.plans[key] = p
	return p, nil
}

// Len returns the number of cached plans.
func (c *PlanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.plans)
}
