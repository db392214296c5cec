// Package artifact reads and writes compiled animation files: a fixed binary
// header, deterministic CBOR metadata, and the backend payload.
package artifact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Format constants.
const (
	Magic      = "ACAF"
	Version    = 1
	HeaderSize = 16
)

// Endianness markers stored in the header.
const (
	LittleEndian byte = 0
	BigEndian    byte = 1
)

// ErrCorrupt is returned for files that are not valid compiled artifacts.
var ErrCorrupt = errors.New("corrupt compiled artifact")

// Tolerance records the resolved plan for one joint.
type Tolerance struct {
	Joint    string  `cbor:"1,keyasint"`
	Rule     int     `cbor:"2,keyasint"`
	Position float64 `cbor:"3,keyasint"`
	Rotation float64 `cbor:"4,keyasint"`
	Scale    float64 `cbor:"5,keyasint"`
}

// Metadata describes a compiled animation. The archive id is decided at
// compile time and is what the rebuild trusts.
type Metadata struct {
	AnimationPath string      `cbor:"1,keyasint"`
	Archive       string      `cbor:"2,keyasint,omitempty"`
	Skeleton      string      `cbor:"3,keyasint"`
	Pose          string      `cbor:"4,keyasint,omitempty"`
	PoseIndex     int         `cbor:"5,keyasint"`
	Additive      bool        `cbor:"6,keyasint,omitempty"`
	Controllers   int         `cbor:"7,keyasint"`
	Format        string      `cbor:"8,keyasint"`
	Preset        string      `cbor:"9,keyasint,omitempty"`
	SourceSize    int64       `cbor:"10,keyasint"`
	Tolerances    []Tolerance `cbor:"11,keyasint,omitempty"`
}

// IsPose reports whether the artifact is a pose-reference animation.
func (m *Metadata) IsPose() bool {
	return m.Pose != ""
}

// Artifact is a decoded compiled animation.
type Artifact struct {
	Meta    Metadata
	Payload []byte
	Order   binary.ByteOrder
}

// Codec encodes artifacts with core deterministic CBOR so identical input
// produces identical bytes. A Codec is safe for concurrent use.
type Codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCodec builds the CBOR modes.
func NewCodec() (*Codec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("artifact: cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("artifact: cbor decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Encode serializes a into the given byte order.
func (c *Codec) Encode(a *Artifact, order binary.ByteOrder) ([]byte, error) {
	meta, err := c.enc.Marshal(&a.Meta)
	if err != nil {
		return nil, fmt.Errorf("artifact: encode metadata: %w", err)
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(meta)+len(a.Payload))
	copy(buf, Magic)
	buf[4] = endianByte(order)
	buf[5] = Version
	order.PutUint32(buf[8:], uint32(len(meta)))
	order.PutUint32(buf[12:], uint32(len(a.Payload)))
	buf = append(buf, meta...)
	buf = append(buf, a.Payload...)
	return buf, nil
}

// Decode parses a complete artifact.
func (c *Codec) Decode(data []byte) (*Artifact, error) {
	order, metaLen, payloadLen, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	end := HeaderSize + metaLen + payloadLen
	if len(data) != end {
		return nil, fmt.Errorf("artifact: size %d, header says %d: %w", len(data), end, ErrCorrupt)
	}
	a := &Artifact{Order: order}
	if err := c.dec.Unmarshal(data[HeaderSize:HeaderSize+metaLen], &a.Meta); err != nil {
		return nil, fmt.Errorf("artifact: metadata: %v: %w", err, ErrCorrupt)
	}
	a.Payload = data[HeaderSize+metaLen:]
	return a, nil
}

// ReadFile loads and decodes an artifact file.
func (c *Codec) ReadFile(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", path, err)
	}
	a, err := c.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// ReadMetadata decodes only the header and metadata of an artifact file.
func (c *Codec) ReadMetadata(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, fmt.Errorf("artifact: %s: short header: %w", path, ErrCorrupt)
	}
	_, metaLen, _, err := parseHeader(head)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(f, meta); err != nil {
		return nil, fmt.Errorf("artifact: %s: short metadata: %w", path, ErrCorrupt)
	}
	var m Metadata
	if err := c.dec.Unmarshal(meta, &m); err != nil {
		return nil, fmt.Errorf("artifact: %s: metadata: %v: %w", path, err, ErrCorrupt)
	}
	return &m, nil
}

// WriteFile writes a atomically and stamps the file with mtime, which ties
// the output to the source it was compiled from.
func (c *Codec) WriteFile(path string, a *Artifact, order binary.ByteOrder, mtime time.Time) error {
	data, err := c.Encode(a, order)
	if err != nil {
		return err
	}
	return WriteStamped(path, data, mtime)
}

// WriteStamped writes data through a temporary file and rename, then sets
// both file times to mtime.
func WriteStamped(path string, data []byte, mtime time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("artifact: mkdir for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("artifact: temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("artifact: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("artifact: close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("artifact: rename %s: %w", path, err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			return fmt.Errorf("artifact: stamp %s: %w", path, err)
		}
	}
	return nil
}

// ByteOrder maps a header endianness marker to its byte order.
func ByteOrder(marker byte) binary.ByteOrder {
	if marker == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func endianByte(order binary.ByteOrder) byte {
	if order == binary.ByteOrder(binary.BigEndian) {
		return BigEndian
	}
	return LittleEndian
}

func parseHeader(data []byte) (binary.ByteOrder, int, int, error) {
	if len(data) < HeaderSize || string(data[:4]) != Magic {
		return nil, 0, 0, fmt.Errorf("artifact: bad magic: %w", ErrCorrupt)
	}
	if data[4] != LittleEndian && data[4] != BigEndian {
		return nil, 0, 0, fmt.Errorf("artifact: bad endianness marker %d: %w", data[4], ErrCorrupt)
	}
	if data[5] != Version {
		return nil, 0, 0, fmt.Errorf("artifact: unsupported version %d: %w", data[5], ErrCorrupt)
	}
	order := ByteOrder(data[4])
	return order, int(order.Uint32(data[8:])), int(order.Uint32(data[12:])), nil
}
