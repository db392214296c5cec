// Package dba packs compiled animations into database archives and writes
// the global animation and directional-blend index files, laid out for a
// target byte order and pointer width.
package dba

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"github.com/papapumpkin/animc/internal/artifact"
)

// Format constants.
const (
	archiveMagic    = "DBA\x00"
	animIndexMagic  = "AIMG"
	blendIndexMagic = "ADBI"
	formatVersion   = 905

	streamAlign  = 16
	defaultAlign = 4

	flagBigEndian uint16 = 1 << 0
	flagPointer64 uint16 = 1 << 1
	flagStream    uint16 = 1 << 2

	noArchive = ^uint64(0)
)

// ErrBadArchive is returned when unpacking malformed archive data.
var ErrBadArchive = errors.New("malformed database archive")

// Target describes the platform layout of produced files.
type Target struct {
	Order         binary.ByteOrder
	PointerSize   int // 4 or 8
	StreamPrepare bool
	Compression   CompressionTag
}

// Member is one compiled animation packed into an archive.
type Member struct {
	Path string // unified animation path
	Data []byte // artifact bytes in the target byte order
}

// Packer builds archive and index blobs for one target. It is used by the
// single-threaded rebuild and is not safe for concurrent use.
type Packer struct {
	target Target
	codecs *codecs
}

// NewPacker creates a Packer. Close releases its compressor state.
func NewPacker(t Target) (*Packer, error) {
	if t.PointerSize != 4 && t.PointerSize != 8 {
		return nil, fmt.Errorf("dba: pointer size %d not supported", t.PointerSize)
	}
	if t.Order == nil {
		t.Order = binary.LittleEndian
	}
	c, err := newCodecs()
	if err != nil {
		return nil, err
	}
	return &Packer{target: t, codecs: c}, nil
}

// Close releases compressor resources.
func (p *Packer) Close() {
	p.codecs.close()
}

// Target returns the layout the packer writes.
func (p *Packer) Target() Target {
	return p.target
}

// PathCRC is the lookup key stored for an animation path.
func PathCRC(path string) uint32 {
	return crc32.ChecksumIEEE([]byte(path))
}

func (p *Packer) flags() uint16 {
	var f uint16
	if p.target.Order == binary.ByteOrder(binary.BigEndian) {
		f |= flagBigEndian
	}
	if p.target.PointerSize == 8 {
		f |= flagPointer64
	}
	if p.target.StreamPrepare {
		f |= flagStream
	}
	return f
}

// Archive packs members in the given order. Layout: header, entry table,
// string table, then payloads aligned for streaming when requested.
func (p *Packer) Archive(members []Member) ([]byte, error) {
	type stored struct {
		data []byte
		tag  CompressionTag
		raw  int
	}
	payloads := make([]stored, len(members))
	for i, m := range members {
		data, tag, err := p.codecs.compress(m.Data, p.target.Compression)
		if err != nil {
			return nil, fmt.Errorf("dba: member %s: %w", m.Path, err)
		}
		payloads[i] = stored{data: data, tag: tag, raw: len(m.Data)}
	}

	strs := newStringTable()
	nameOffsets := make([]uint64, len(members))
	for i, m := range members {
		nameOffsets[i] = strs.add(m.Path)
	}

	w := newBinWriter(p.target)
	w.raw([]byte(archiveMagic))
	w.u16(formatVersion)
	w.u16(p.flags() | uint16(p.target.Compression)<<8)
	w.u32(uint32(len(members)))
	w.u32(uint32(strs.len()))

	entrySize := 4 + 4 + 2*p.target.PointerSize + 4 + 4
	headerSize := 16
	offset := alignUp(headerSize+entrySize*len(members)+strs.len(), p.align())
	for i, m := range members {
		w.u32(PathCRC(m.Path))
		w.u8(uint8(payloads[i].tag))
		w.raw([]byte{0, 0, 0})
		w.ptr(nameOffsets[i])
		w.ptr(uint64(offset))
		w.u32(uint32(len(payloads[i].data)))
		w.u32(uint32(payloads[i].raw))
		offset = alignUp(offset+len(payloads[i].data), p.align())
	}
	w.raw(strs.bytes())
	for _, s := range payloads {
		w.pad(p.align())
		w.raw(s.data)
	}
	w.pad(p.align())
	return w.bytes(), nil
}

// Unpack decodes an archive produced by Archive, returning members in
// stored order.
func (p *Packer) Unpack(data []byte) ([]Member, error) {
	if len(data) < 16 || string(data[:4]) != archiveMagic {
		return nil, ErrBadArchive
	}
	order := binary.ByteOrder(binary.LittleEndian)
	flags := binary.LittleEndian.Uint16(data[6:])
	if binary.BigEndian.Uint16(data[4:]) == formatVersion {
		order = binary.BigEndian
		flags = binary.BigEndian.Uint16(data[6:])
	}
	if order.Uint16(data[4:]) != formatVersion {
		return nil, fmt.Errorf("dba: version %d: %w", order.Uint16(data[4:]), ErrBadArchive)
	}
	ptrSize := 4
	if flags&flagPointer64 != 0 {
		ptrSize = 8
	}
	count := int(order.Uint32(data[8:]))
	strLen := int(order.Uint32(data[12:]))
	entrySize := 4 + 4 + 2*ptrSize + 4 + 4
	strStart := 16 + count*entrySize
	if strStart+strLen > len(data) {
		return nil, fmt.Errorf("dba: truncated table: %w", ErrBadArchive)
	}
	strTab := data[strStart : strStart+strLen]

	readPtr := func(b []byte) uint64 {
		if ptrSize == 8 {
			return order.Uint64(b)
		}
		return uint64(order.Uint32(b))
	}

	out := make([]Member, count)
	for i := 0; i < count; i++ {
		e := data[16+i*entrySize:]
		tag := CompressionTag(e[4])
		nameOff := readPtr(e[8:])
		payOff := readPtr(e[8+ptrSize:])
		storedSize := int(order.Uint32(e[8+2*ptrSize:]))
		rawSize := int(order.Uint32(e[12+2*ptrSize:]))

		name, err := cString(strTab, nameOff)
		if err != nil {
			return nil, err
		}
		if payOff > uint64(len(data)) || uint64(storedSize) > uint64(len(data))-payOff {
			return nil, fmt.Errorf("dba: member %s out of range: %w", name, ErrBadArchive)
		}
		raw, err := p.codecs.decompress(data[payOff:payOff+uint64(storedSize)], tag, rawSize)
		if err != nil {
			return nil, fmt.Errorf("dba: member %s: %w", name, err)
		}
		out[i] = Member{Path: name, Data: raw}
	}
	return out, nil
}

func (p *Packer) align() int {
	if p.target.StreamPrepare {
		return streamAlign
	}
	return defaultAlign
}

// IndexEntry locates one standard animation.
type IndexEntry struct {
	Path        string
	Archive     string // empty for standalone animations
	Skeleton    string
	Controllers int
	Additive    bool
}

// AnimationIndex encodes the standard-animation index. Entries are sorted by
// path so the output does not depend on compile order.
func (p *Packer) AnimationIndex(entries []IndexEntry) []byte {
	sorted := append([]IndexEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	strs := newStringTable()
	type row struct {
		name, archive, skeleton uint64
	}
	rows := make([]row, len(sorted))
	for i, e := range sorted {
		rows[i].name = strs.add(e.Path)
		rows[i].archive = noArchive
		if e.Archive != "" {
			rows[i].archive = strs.add(e.Archive)
		}
		rows[i].skeleton = strs.add(e.Skeleton)
	}

	w := newBinWriter(p.target)
	w.raw([]byte(animIndexMagic))
	w.u16(formatVersion)
	w.u16(p.flags())
	w.u32(uint32(len(sorted)))
	w.u32(uint32(strs.len()))
	for i, e := range sorted {
		w.u32(PathCRC(e.Path))
		w.ptr(rows[i].name)
		w.ptr(rows[i].archive)
		w.ptr(rows[i].skeleton)
		w.u32(uint32(e.Controllers))
		var f uint32
		if e.Additive {
			f = 1
		}
		w.u32(f)
	}
	w.raw(strs.bytes())
	return w.bytes()
}

// BlendEntry describes one pose-reference animation.
type BlendEntry struct {
	Path     string
	Skeleton string
	Kind     string // AIM or LOOK
	Index    int    // blend index, -1 for file-name convention
}

// BlendIndex encodes the directional-blend index. An empty entry list is a
// valid index.
func (p *Packer) BlendIndex(entries []BlendEntry) []byte {
	sorted := append([]BlendEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	strs := newStringTable()
	names := make([]uint64, len(sorted))
	skels := make([]uint64, len(sorted))
	for i, e := range sorted {
		names[i] = strs.add(e.Path)
		skels[i] = strs.add(e.Skeleton)
	}

	w := newBinWriter(p.target)
	w.raw([]byte(blendIndexMagic))
	w.u16(formatVersion)
	w.u16(p.flags())
	w.u32(uint32(len(sorted)))
	w.u32(uint32(strs.len()))
	for i, e := range sorted {
		w.u32(PathCRC(e.Path))
		w.ptr(names[i])
		w.ptr(skels[i])
		var kind uint32
		if e.Kind == "LOOK" {
			kind = 1
		}
		w.u32(kind)
		w.u32(uint32(int32(e.Index)))
	}
	w.raw(strs.bytes())
	return w.bytes()
}

// WriteIfChanged writes data to path unless the file already holds the same
// bytes, compared by BLAKE3 digest. It reports whether the file was written.
func WriteIfChanged(path string, data []byte) (bool, error) {
	existing, err := os.ReadFile(path)
	if err == nil && len(existing) == len(data) && blake3.Sum256(existing) == blake3.Sum256(data) {
		return false, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("dba: read %s: %w", path, err)
	}
	if err := artifact.WriteStamped(path, data, time.Time{}); err != nil {
		return false, err
	}
	return true, nil
}

func cString(tab []byte, off uint64) (string, error) {
	if off >= uint64(len(tab)) {
		return "", fmt.Errorf("dba: string offset %d: %w", off, ErrBadArchive)
	}
	end := bytes.IndexByte(tab[off:], 0)
	if end < 0 {
		return "", fmt.Errorf("dba: unterminated string: %w", ErrBadArchive)
	}
	return string(tab[off : off+uint64(end)]), nil
}
