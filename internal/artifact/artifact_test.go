package artifact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec()
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func sample() *Artifact {
	return &Artifact{
		Meta: Metadata{
			AnimationPath: "animations/hero/run_forward.caf",
			Archive:       "animations/hero/movement.dba",
			Skeleton:      "hero",
			PoseIndex:     -1,
			Controllers:   3,
			Format:        "legacy",
			SourceSize:    12,
			Tolerances: []Tolerance{
				{Joint: "Root", Rule: -1, Position: 0.01, Rotation: 0.5, Scale: 0.001},
				{Joint: "L_Hand", Rule: 0, Position: math.Inf(1), Rotation: math.Inf(1), Scale: math.Inf(1)},
			},
		},
		Payload: []byte("track-bytes!"),
	}
}

func TestEncodeDecode_BothOrders(t *testing.T) {
	t.Parallel()
	c := newCodec(t)

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		data, err := c.Encode(sample(), order)
		if err != nil {
			t.Fatalf("Encode(%v): %v", order, err)
		}
		got, err := c.Decode(data)
		if err != nil {
			t.Fatalf("Decode(%v): %v", order, err)
		}
		if got.Order != order {
			t.Errorf("Order = %v, want %v", got.Order, order)
		}
		if diff := cmp.Diff(sample().Meta, got.Meta); diff != "" {
			t.Errorf("metadata mismatch (-want +got):\n%s", diff)
		}
		if !bytes.Equal(got.Payload, sample().Payload) {
			t.Errorf("payload = %q", got.Payload)
		}
	}
}

func TestEncode_Deterministic(t *testing.T) {
	t.Parallel()
	c := newCodec(t)
	a, _ := c.Encode(sample(), binary.LittleEndian)
	b, _ := c.Encode(sample(), binary.LittleEndian)
	if !bytes.Equal(a, b) {
		t.Error("encoding the same artifact twice produced different bytes")
	}
}

func TestDecode_Corrupt(t *testing.T) {
	t.Parallel()
	c := newCodec(t)
	good, _ := c.Encode(sample(), binary.LittleEndian)

	cases := map[string][]byte{
		"empty":     nil,
		"bad magic": append([]byte("XXXX"), good[4:]...),
		"truncated": good[:len(good)-1],
	}
	for name, data := range cases {
		if _, err := c.Decode(data); !errors.Is(err, ErrCorrupt) {
			t.Errorf("%s: error = %v, want ErrCorrupt", name, err)
		}
	}
}

func TestWriteFile_StampsAndReadsBack(t *testing.T) {
	t.Parallel()
	c := newCodec(t)
	path := filepath.Join(t.TempDir(), "out", "run_forward.$caf")
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := c.WriteFile(path, sample(), binary.BigEndian, stamp); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(stamp) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), stamp)
	}

	meta, err := c.ReadMetadata(path)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.Archive != "animations/hero/movement.dba" || meta.IsPose() {
		t.Errorf("metadata = %+v", meta)
	}
	full, err := c.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if full.Order != binary.ByteOrder(binary.BigEndian) {
		t.Error("byte order not preserved")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %v", entries)
	}
}
