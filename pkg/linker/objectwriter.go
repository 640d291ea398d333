package linker

import (
	"bytes"
	"encoding/binary"

	"github.com/spf13/afero"

	"gold/pkg/utils"
)

// Encode serializes the object file into its on-disk container form. The
// compiler back end uses this after code generation; the tests use it to
// synthesize inputs.
func (o *ObjectFile) Encode() []byte {
	buf := &bytes.Buffer{}

	hdr := make([]byte, objectHeaderSize)
	utils.Write(hdr, objectHeader{
		Magic:   objectMagic,
		Version: objectVersion,
		Machine: uint16(o.Machine),
	})
	buf.Write(hdr)

	w := &recordWriter{buf: buf}

	w.u32(uint32(len(o.Sections)))
	for i := range o.Sections {
		sec := &o.Sections[i]
		w.str(sec.Name)
		w.u64(sec.Addr)
		w.u64(sec.Size)
		w.u8(uint8(sec.Kind))
		w.u16(sec.P2Align)
		w.u32(uint32(len(sec.Data)))
		buf.Write(sec.Data)
	}

	w.u32(uint32(len(o.Symbols)))
	for i := range o.Symbols {
		sym := &o.Symbols[i]
		w.str(sym.Name)
		w.u64(sym.Value)
		w.u64(sym.Size)
		w.u8(uint8(sym.Binding))
		w.u8(uint8(sym.Kind))
		w.u16(sym.SectionIndex)
	}

	w.u32(uint32(len(o.Relocations)))
	for i := range o.Relocations {
		rel := &o.Relocations[i]
		w.str(rel.SymbolName)
		w.u16(rel.SectionIndex)
		w.u64(rel.Offset)
		w.u8(uint8(rel.Type))
		w.i64(rel.Addend)
	}

	return buf.Bytes()
}

// WriteObjectFile encodes obj and writes it at path.
func WriteObjectFile(fs afero.Fs, path string, obj *ObjectFile) error {
	return afero.WriteFile(fs, path, obj.Encode(), 0o644)
}

type recordWriter struct {
	buf *bytes.Buffer
}

func (w *recordWriter) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *recordWriter) u16(v uint16) { binary.Write(w.buf, binary.LittleEndian, v) }
func (w *recordWriter) u32(v uint32) { binary.Write(w.buf, binary.LittleEndian, v) }
func (w *recordWriter) u64(v uint64) { binary.Write(w.buf, binary.LittleEndian, v) }
func (w *recordWriter) i64(v int64)  { binary.Write(w.buf, binary.LittleEndian, v) }

func (w *recordWriter) str(s string) {
	w.u16(uint16(len(s)))
	w.buf.WriteString(s)
}
