package compiler

import (
	"context"
	"fmt"

	"github.com/papapumpkin/animc/internal/artifact"
	"github.com/papapumpkin/animc/internal/compression"
)

// trackAlign is the payload alignment used when track alignment is on.
const trackAlign = 16

// Input is what a backend receives for one animation.
type Input struct {
	AnimationPath string
	Source        []byte
	Descriptor    *compression.Descriptor
	Plan          []compression.JointPlan
}

// Output is the backend's compressed result.
type Output struct {
	Payload     []byte
	Controllers int
	Tolerances  []artifact.Tolerance
}

// Backend compresses raw tracks under a resolved joint plan.
type Backend interface {
	Compress(ctx context.Context, in *Input) (*Output, error)
}

// PlanBackend records the resolved tolerance plan and carries the raw track
// bytes through as the payload. Deleted joints do not count as controllers.
type PlanBackend struct {
	AlignTracks bool
}

// Compress implements Backend.
func (b *PlanBackend) Compress(_ context.Context, in *Input) (*Output, error) {
	if len(in.Source) == 0 {
		return nil, fmt.Errorf("compiler: %s has no track data: %w", in.AnimationPath, ErrCompileFailure)
	}
	out := &Output{Tolerances: make([]artifact.Tolerance, 0, len(in.Plan))}
	for _, p := range in.Plan {
		out.Tolerances = append(out.Tolerances, artifact.Tolerance{
			Joint:    p.Joint,
			Rule:     p.Rule,
			Position: p.Position,
			Rotation: p.Rotation,
			Scale:    p.Scale,
		})
		if !p.Deleted() {
			out.Controllers++
		}
	}
	out.Payload = append([]byte(nil), in.Source...)
	if b.AlignTracks {
		for len(out.Payload)%trackAlign != 0 {
			out.Payload = append(out.Payload, 0)
		}
	}
	return out, nil
}
