package linker

import (
	"fmt"
	"path/filepath"

	"gold/pkg/utils"
)

// Object files are a compact little-endian container emitted by the
// compiler back end: a fixed header followed by section, symbol and
// relocation records. Strings are u16-length-prefixed.

var objectMagic = [4]byte{0x7f, 'G', 'L', 'D'}

const objectVersion = 1

type objectHeader struct {
	Magic   [4]byte
	Version uint16
	Machine uint16
}

const objectHeaderSize = 8

type SectionKind uint8

const (
	SectionUnknown SectionKind = iota
	SectionText
	SectionData
	SectionBss
	SectionROData
)

func (k SectionKind) String() string {
	switch k {
	case SectionText:
		return ".text"
	case SectionData:
		return ".data"
	case SectionBss:
		return ".bss"
	case SectionROData:
		return ".rodata"
	default:
		return "unknown"
	}
}

type Section struct {
	Name    string
	Addr    uint64
	Size    uint64
	Kind    SectionKind
	P2Align uint16
	Data    []byte
}

// ObjectSymbol is one symbol record as it appears in an object file.
type ObjectSymbol struct {
	Name         string
	Value        uint64
	Size         uint64
	Binding      SymbolBinding
	Kind         SymbolKind
	SectionIndex uint16
}

// Relocation is one reference site recorded in an object file.
type Relocation struct {
	SymbolName   string
	SectionIndex uint16
	Offset       uint64
	Type         RefType
	Addend       int64
}

type ObjectFile struct {
	Path     string
	BaseName string
	FileSize int64
	Machine  MachineType

	Sections    []Section
	Symbols     []ObjectSymbol
	Relocations []Relocation

	Loaded bool
}

// ParseObjectFile decodes the object container in contents. The path is
// retained as provenance for every symbol the file defines.
func ParseObjectFile(path string, contents []byte) (*ObjectFile, error) {
	if len(contents) < objectHeaderSize {
		return nil, fmt.Errorf("%w: %s: file too small", ErrBadObjectFile, path)
	}

	hdr, err := utils.Read[objectHeader](contents)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadObjectFile, path, err)
	}
	if hdr.Magic != objectMagic {
		return nil, fmt.Errorf("%w: %s: not an object file", ErrBadObjectFile, path)
	}
	if hdr.Version != objectVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrBadObjectFile, path, hdr.Version)
	}

	obj := &ObjectFile{
		Path:     path,
		BaseName: filepath.Base(path),
		FileSize: int64(len(contents)),
		Machine:  MachineType(hdr.Machine),
	}

	r := &recordReader{data: contents, pos: objectHeaderSize}

	sectionCount := r.u32()
	for i := uint32(0); i < sectionCount && r.err == nil; i++ {
		sec := Section{
			Name:    r.str(),
			Addr:    r.u64(),
			Size:    r.u64(),
			Kind:    SectionKind(r.u8()),
			P2Align: r.u16(),
		}
		sec.Data = r.bytes(r.u32())
		obj.Sections = append(obj.Sections, sec)
	}

	symbolCount := r.u32()
	for i := uint32(0); i < symbolCount && r.err == nil; i++ {
		obj.Symbols = append(obj.Symbols, ObjectSymbol{
			Name:         r.str(),
			Value:        r.u64(),
			Size:         r.u64(),
			Binding:      SymbolBinding(r.u8()),
			Kind:         SymbolKind(r.u8()),
			SectionIndex: r.u16(),
		})
	}

	relocCount := r.u32()
	for i := uint32(0); i < relocCount && r.err == nil; i++ {
		obj.Relocations = append(obj.Relocations, Relocation{
			SymbolName:   r.str(),
			SectionIndex: r.u16(),
			Offset:       r.u64(),
			Type:         RefType(r.u8()),
			Addend:       r.i64(),
		})
	}

	if r.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadObjectFile, path, r.err)
	}

	obj.Loaded = true
	return obj, nil
}

// SectionName maps a record's section index to its name; out-of-range
// indexes (including the conventional 0xffff "no section") yield "".
func (o *ObjectFile) SectionName(idx uint16) string {
	if int(idx) >= len(o.Sections) {
		return ""
	}
	return o.Sections[idx].Name
}

func (o *ObjectFile) Section(name string) *Section {
	for i := range o.Sections {
		if o.Sections[i].Name == name {
			return &o.Sections[i]
		}
	}
	return nil
}

func (o *ObjectFile) Symbol(name string) *ObjectSymbol {
	for i := range o.Symbols {
		if o.Symbols[i].Name == name {
			return &o.Symbols[i]
		}
	}
	return nil
}

func (o *ObjectFile) UndefinedSymbols() []string {
	var names []string
	for i := range o.Symbols {
		if o.Symbols[i].Binding == BindUndefined {
			names = append(names, o.Symbols[i].Name)
		}
	}
	return names
}

// recordReader is a bounds-checked cursor over the object contents with a
// sticky error, so record loops stay flat.
type recordReader struct {
	data []byte
	pos  int
	err  error
}

func (r *recordReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("truncated at offset %d", r.pos)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *recordReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *recordReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return uint16(b[0]) | uint16(b[1])<<8
}

func (r *recordReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (r *recordReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (r *recordReader) i64() int64 {
	return int64(r.u64())
}

func (r *recordReader) str() string {
	n := r.u16()
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *recordReader) bytes(n uint32) []byte {
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
