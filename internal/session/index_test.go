package session

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/papapumpkin/animc/internal/animpath"
)

func TestRun_DeletedSourceLeavesIndex(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	forward := f.addAnimation(t, "animations/hero/run_forward.i_caf", "hero")
	back := f.addAnimation(t, "animations/hero/run_back.i_caf", "hero")
	if rep := run(t, f.config()); rep.Rebuild == nil || rep.Rebuild.Animations != 2 {
		t.Fatalf("first run = %+v", rep)
	}

	for _, p := range []string{back, animpath.SettingsPath(back)} {
		if err := os.Remove(p); err != nil {
			t.Fatal(err)
		}
	}
	stamp(t, forward, sourceTime.Add(time.Minute))

	rep := run(t, f.config())
	if rep.Recompiled != 1 {
		t.Fatalf("recompiled = %d, want 1", rep.Recompiled)
	}
	if rep.Rebuild == nil || rep.Rebuild.Animations != 1 {
		t.Fatalf("rebuild = %+v, %v", rep.Rebuild, rep.RebuildErr)
	}
	index, err := os.ReadFile(f.out(animpath.AnimationsIndex))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(index, []byte("run_back")) {
		t.Error("deleted animation still listed in the animation index")
	}
	if !bytes.Contains(index, []byte("animations/hero/run_forward.caf")) {
		t.Error("remaining animation missing from the animation index")
	}
}
