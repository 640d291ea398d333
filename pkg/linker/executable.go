package linker

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"gold/pkg/utils"
)

// ImageBase is where the first loadable byte of the image lands.
const ImageBase = 0x400000

// ExecHeader is the 64-bit executable file header, laid out like ELF64.
type ExecHeader struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

const ExecHeaderSize = 64

// Generator turns a resolved symbol/section set into a platform executable
// image. The orchestrator drives it at fixed pipeline steps; swapping in a
// different format is a matter of providing another implementation.
type Generator interface {
	Generate(view *SymbolView, objs []*ObjectFile, outputPath string, meta *ExecutableMetadata) error
	SetPermissions(outputPath string, perm fs.FileMode) error
	Validate(outputPath string, meta *ExecutableMetadata) error
}

// ImageGenerator writes a flat executable image: one header chunk followed
// by every input section laid out at its aligned address, with relocation
// sites patched from the resolver's resolved partition.
type ImageGenerator struct {
	fs     afero.Fs
	logger logrus.FieldLogger
}

func NewImageGenerator(fs afero.Fs, logger logrus.FieldLogger) *ImageGenerator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ImageGenerator{fs: fs, logger: logger}
}

// chunk is one laid-out piece of the output image.
type chunk struct {
	obj     *ObjectFile
	secIdx  int
	addr    uint64
	fileOff uint64
	size    uint64
	noBits  bool
}

func (g *ImageGenerator) Generate(view *SymbolView, objs []*ObjectFile, outputPath string, meta *ExecutableMetadata) error {
	if view == nil || len(objs) == 0 || outputPath == "" || meta == nil {
		return fmt.Errorf("%w: generator needs objects, an output path and metadata", ErrInvalidInput)
	}

	base := meta.BaseAddress
	if base == 0 {
		base = ImageBase
		meta.BaseAddress = base
	}

	chunks, fileSize := layoutChunks(objs, base)
	buf := make([]byte, fileSize)

	for _, c := range chunks {
		if c.noBits {
			continue
		}
		copy(buf[c.fileOff:], c.obj.Sections[c.secIdx].Data)
	}

	patched, skipped := patchRelocations(buf, chunks, view)

	entry := base
	if addr, ok := view.Address(meta.EntryPoint); ok {
		entry = addr
	} else if meta.EntryPoint != "" {
		g.logger.WithField("entry", meta.EntryPoint).
			Warn("entry point symbol has no address, using image base")
	}

	writeExecHeader(buf, objs, entry)

	if err := afero.WriteFile(g.fs, outputPath, buf, 0o644); err != nil {
		return fmt.Errorf("write executable %s: %w", outputPath, err)
	}

	meta.ExecutableSize = int64(len(buf))
	meta.SymbolCount = len(view.Resolved) + len(view.Undefined)
	meta.SectionCount = len(chunks)

	g.logger.WithFields(logrus.Fields{
		"output":  outputPath,
		"size":    len(buf),
		"chunks":  len(chunks),
		"patched": patched,
		"skipped": skipped,
	}).Debug("generated executable image")

	return nil
}

func (g *ImageGenerator) SetPermissions(outputPath string, perm fs.FileMode) error {
	if err := g.fs.Chmod(outputPath, perm); err != nil {
		return fmt.Errorf("set permissions on %s: %w", outputPath, err)
	}
	return nil
}

// Validate checks that the produced artifact is structurally sane: a
// regular file, large enough to hold the header, carrying the right magic,
// with an executable bit set.
func (g *ImageGenerator) Validate(outputPath string, meta *ExecutableMetadata) error {
	info, err := g.fs.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("executable not found: %s: %w", outputPath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", outputPath)
	}
	if info.Size() < ExecHeaderSize {
		return fmt.Errorf("%s is too small to be an executable (%d bytes)", outputPath, info.Size())
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", outputPath)
	}

	f, err := g.fs.Open(outputPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", outputPath, err)
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := f.Read(magic); err != nil {
		return fmt.Errorf("read %s: %w", outputPath, err)
	}
	if !bytes.Equal(magic, []byte(elf.ELFMAG)) {
		return fmt.Errorf("%s has a corrupt header", outputPath)
	}

	if meta != nil {
		meta.ExecutableSize = info.Size()
	}
	return nil
}

// layoutChunks assigns every input section an address and file offset,
// header first. NOBITS (bss) sections take address space but no file bytes.
func layoutChunks(objs []*ObjectFile, base uint64) ([]chunk, uint64) {
	var chunks []chunk

	addr := base + ExecHeaderSize
	fileOff := uint64(ExecHeaderSize)

	for _, obj := range objs {
		for i := range obj.Sections {
			sec := &obj.Sections[i]
			size := sec.Size
			if size == 0 {
				size = uint64(len(sec.Data))
			}
			if size == 0 {
				continue
			}

			align := uint64(1) << sec.P2Align
			addr = utils.AlignTo(addr, align)

			c := chunk{
				obj:    obj,
				secIdx: i,
				addr:   addr,
				size:   size,
				noBits: sec.Kind == SectionBss,
			}
			if !c.noBits {
				fileOff = utils.AlignTo(fileOff, align)
				c.fileOff = fileOff
				fileOff += uint64(len(sec.Data))
			}
			addr += size
			chunks = append(chunks, c)
		}
	}

	return chunks, fileOff
}

// patchRelocations writes resolved addresses into the copied payloads.
// Absolute sites get S+A, relative sites S+A-P, both as 64-bit slots.
// Sites whose symbol has no address are left untouched; they only occur
// when the policy allowed undefined symbols.
func patchRelocations(buf []byte, chunks []chunk, view *SymbolView) (patched, skipped int) {
	byChunk := make(map[*ObjectFile]map[int]*chunk)
	for i := range chunks {
		c := &chunks[i]
		if byChunk[c.obj] == nil {
			byChunk[c.obj] = make(map[int]*chunk)
		}
		byChunk[c.obj][c.secIdx] = c
	}

	for obj := range byChunk {
		for _, rel := range obj.Relocations {
			c := byChunk[obj][int(rel.SectionIndex)]
			if c == nil || c.noBits {
				skipped++
				continue
			}
			if data := c.obj.Sections[c.secIdx].Data; rel.Offset+8 > uint64(len(data)) {
				skipped++
				continue
			}

			s, ok := view.Address(rel.SymbolName)
			if !ok {
				skipped++
				continue
			}

			slot := buf[c.fileOff+rel.Offset:]
			switch rel.Type {
			case RefAbsolute:
				utils.Write(slot, uint64(int64(s)+rel.Addend))
			case RefRelative:
				p := c.addr + rel.Offset
				utils.Write(slot, uint64(int64(s)+rel.Addend-int64(p)))
			default:
				skipped++
				continue
			}
			patched++
		}
	}
	return patched, skipped
}

func writeExecHeader(buf []byte, objs []*ObjectFile, entry uint64) {
	machine := MachineTypeNone
	for _, obj := range objs {
		if obj.Machine != MachineTypeNone {
			machine = obj.Machine
			break
		}
	}

	hdr := ExecHeader{}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)

	hdr.Type = uint16(elf.ET_EXEC)
	hdr.Machine = uint16(MachineTypeStringer{machine}.ELFMachine())
	hdr.Version = uint32(elf.EV_CURRENT)
	hdr.Entry = entry
	hdr.Ehsize = ExecHeaderSize

	utils.Write(buf, hdr)
}

// NewExecutableMetadata fills platform defaults the way the host looks.
func NewExecutableMetadata() ExecutableMetadata {
	format := "Unknown"
	switch runtime.GOOS {
	case "linux":
		format = "ELF"
	case "darwin":
		format = "Mach-O"
	case "windows":
		format = "PE"
	}

	return ExecutableMetadata{
		TargetPlatform:     runtime.GOOS,
		TargetArchitecture: MachineTypeStringer{HostMachineType()}.String(),
		Format:             format,
		EntryPoint:         "main",
		BaseAddress:        ImageBase,
		FilePermissions:    0o755,
	}
}
