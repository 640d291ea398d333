package linker

import (
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleObject() *ObjectFile {
	return &ObjectFile{
		Path:    "sample.o",
		Machine: MachineTypeX86_64,
		Sections: []Section{
			{Name: ".text", Size: 16, Kind: SectionText, P2Align: 4, Data: make([]byte, 16)},
			{Name: ".data", Size: 8, Kind: SectionData, P2Align: 3, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
			{Name: ".bss", Size: 32, Kind: SectionBss, P2Align: 3},
		},
		Symbols: []ObjectSymbol{
			{Name: "main", Value: 0x1000, Size: 16, Binding: BindGlobal, Kind: KindFunction, SectionIndex: 0},
			{Name: "g_state", Value: 0x2000, Size: 8, Binding: BindGlobal, Kind: KindVariable, SectionIndex: 1},
			{Name: "helper", Binding: BindUndefined, SectionIndex: 0xffff},
		},
		Relocations: []Relocation{
			{SymbolName: "helper", SectionIndex: 0, Offset: 4, Type: RefAbsolute, Addend: 0},
			{SymbolName: "g_state", SectionIndex: 0, Offset: 12, Type: RefRelative, Addend: -4},
		},
	}
}

func TestObjectFileEncodeParseRoundTrip(t *testing.T) {
	orig := sampleObject()

	parsed, err := ParseObjectFile("sample.o", orig.Encode())
	require.NoError(t, err)

	assert.True(t, parsed.Loaded)
	assert.Equal(t, "sample.o", parsed.Path)
	assert.Equal(t, "sample.o", parsed.BaseName)
	assert.Equal(t, MachineTypeX86_64, parsed.Machine)

	require.Len(t, parsed.Sections, 3)
	assert.Equal(t, orig.Sections[0].Name, parsed.Sections[0].Name)
	assert.Equal(t, orig.Sections[1].Data, parsed.Sections[1].Data)
	assert.Equal(t, uint64(32), parsed.Sections[2].Size)
	assert.Empty(t, parsed.Sections[2].Data)

	require.Len(t, parsed.Symbols, 3)
	assert.Equal(t, orig.Symbols, parsed.Symbols)
	require.Len(t, parsed.Relocations, 2)
	assert.Equal(t, orig.Relocations, parsed.Relocations)

	assert.Equal(t, []string{"helper"}, parsed.UndefinedSymbols())
	require.NotNil(t, parsed.Section(".data"))
	assert.Nil(t, parsed.Section(".rodata"))
	require.NotNil(t, parsed.Symbol("main"))
	assert.Equal(t, "", parsed.SectionName(0xffff))
	assert.Equal(t, ".text", parsed.SectionName(0))
}

func TestParseObjectFileRejectsBadInput(t *testing.T) {
	cases := map[string][]byte{
		"empty":         nil,
		"short":         {0x7f, 'G'},
		"bad magic":     append([]byte("ELF!"), make([]byte, 16)...),
		"bad version":   {0x7f, 'G', 'L', 'D', 0xff, 0xff, 0x00, 0x00},
		"truncated body": sampleObject().Encode()[:40],
	}

	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseObjectFile("in.o", contents)
			require.ErrorIs(t, err, ErrBadObjectFile)
			assert.Contains(t, err.Error(), "in.o")
		})
	}
}

func TestGetFileType(t *testing.T) {
	assert.Equal(t, FileTypeEmpty, GetFileType(nil))
	assert.Equal(t, FileTypeObject, GetFileType(sampleObject().Encode()))
	assert.Equal(t, FileTypeArchive, GetFileType([]byte("!<arch>\nrest")))
	assert.Equal(t, FileTypeUnknown, GetFileType([]byte("random text")))
}

// arBytes assembles a minimal static archive around the given members.
func arBytes(members map[string][]byte, order []string) []byte {
	out := []byte(archiveMagic)
	for _, name := range order {
		data := members[name]
		hdr := fmt.Sprintf("%-16s%-12s%-6s%-6s%-8s%-10d`\n",
			name+"/", "0", "0", "0", "644", len(data))
		out = append(out, hdr...)
		out = append(out, data...)
		if len(data)%2 == 1 {
			out = append(out, '\n')
		}
	}
	return out
}

func TestReadArchiveMembers(t *testing.T) {
	a := sampleObject().Encode()
	b := []byte("odd") // odd size forces the padding path

	contents := arBytes(map[string][]byte{"a.o": a, "b.o": b}, []string{"a.o", "b.o"})

	members, err := ReadArchiveMembers("lib.a", contents)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "a.o", members[0].Name)
	assert.Equal(t, a, members[0].Contents)
	assert.Equal(t, "b.o", members[1].Name)
	assert.Equal(t, b, members[1].Contents)
}

func TestReadArchiveMembersSkipsEmptyMembers(t *testing.T) {
	a := sampleObject().Encode()
	contents := arBytes(map[string][]byte{"a.o": a, "pad.o": nil}, []string{"pad.o", "a.o"})

	members, err := ReadArchiveMembers("lib.a", contents)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "a.o", members[0].Name)
}

func TestReadArchiveMembersUnterminatedStringTable(t *testing.T) {
	hdr := func(name string, size int) string {
		return fmt.Sprintf("%-16s%-12s%-6s%-6s%-8s%-10d`\n", name, "0", "0", "0", "644", size)
	}

	// The "//" string table lacks the "/\n" terminator its "/0" long-name
	// reference needs; the member must still come back, nameless.
	strTab := "longname.o"
	data := []byte{1, 2, 3, 4}
	contents := []byte(archiveMagic)
	contents = append(contents, hdr("//", len(strTab))...)
	contents = append(contents, strTab...)
	contents = append(contents, hdr("/0", len(data))...)
	contents = append(contents, data...)

	members, err := ReadArchiveMembers("bad.a", contents)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "", members[0].Name)
	assert.Equal(t, data, members[0].Contents)
}

func TestReadArchiveMembersRejectsNonArchive(t *testing.T) {
	_, err := ReadArchiveMembers("notar.a", []byte("not an archive"))
	require.ErrorIs(t, err, ErrBadObjectFile)

	truncated := arBytes(map[string][]byte{"a.o": {1, 2, 3, 4}}, []string{"a.o"})
	_, err = ReadArchiveMembers("trunc.a", truncated[:len(truncated)-3])
	require.ErrorIs(t, err, ErrBadObjectFile)
}

func TestManagerLoadsAndCaches(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, WriteObjectFile(fs, "sample.o", sampleObject()))

	m := NewObjectFileManager(fs, testLogger())

	first, err := m.LoadFile("sample.o")
	require.NoError(t, err)
	second, err := m.LoadFile("sample.o")
	require.NoError(t, err)
	assert.Same(t, first, second)

	stats := m.Statistics()
	assert.Equal(t, uint64(1), stats.FilesLoaded)
	assert.Equal(t, uint64(1), stats.CacheHits)
	assert.Equal(t, uint64(1), stats.CacheMisses)
	assert.Equal(t, uint64(3), stats.SymbolsProcessed)

	assert.True(t, m.IsLoaded("sample.o"))
	assert.Len(t, m.AllFiles(0), 1)

	sym, owner := m.FindSymbol("main")
	require.NotNil(t, sym)
	assert.Equal(t, first, owner)
	assert.Equal(t, []string{"helper"}, m.UndefinedSymbols(0))
}

func TestManagerLoadsArchiveMembers(t *testing.T) {
	fs := afero.NewMemMapFs()

	a := sampleObject()
	b := &ObjectFile{
		Machine: MachineTypeX86_64,
		Sections: []Section{
			{Name: ".text", Size: 8, Kind: SectionText, Data: make([]byte, 8)},
		},
		Symbols: []ObjectSymbol{
			{Name: "helper", Value: 0x3000, Size: 8, Binding: BindGlobal, Kind: KindFunction},
		},
	}
	contents := arBytes(map[string][]byte{"a.o": a.Encode(), "b.o": b.Encode()}, []string{"a.o", "b.o"})
	require.NoError(t, afero.WriteFile(fs, "lib.a", contents, 0o644))

	m := NewObjectFileManager(fs, testLogger())
	first, err := m.LoadFile("lib.a")
	require.NoError(t, err)

	assert.Equal(t, "lib.a(a.o)", first.Path)
	assert.True(t, m.IsLoaded("lib.a(b.o)"))
	assert.Len(t, m.AllFiles(0), 2)

	sym, _ := m.FindSymbol("helper")
	require.NotNil(t, sym)
	assert.Equal(t, uint64(0x3000), sym.Value)
}

func TestManagerRejectsBadInputs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "empty.o", nil, 0o644))
	require.NoError(t, afero.WriteFile(fs, "garbage.o", []byte("garbage"), 0o644))

	m := NewObjectFileManager(fs, testLogger())

	_, err := m.LoadFile("missing.o")
	require.Error(t, err)

	_, err = m.LoadFile("empty.o")
	require.ErrorIs(t, err, ErrBadObjectFile)

	_, err = m.LoadFile("garbage.o")
	require.ErrorIs(t, err, ErrBadObjectFile)
	assert.ErrorIs(t, m.LastError(), ErrBadObjectFile)

	loaded, err := m.LoadFiles([]string{"garbage.o"})
	require.Error(t, err)
	assert.Zero(t, loaded)
}

func TestManagerClear(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, WriteObjectFile(fs, "sample.o", sampleObject()))

	m := NewObjectFileManager(fs, testLogger())
	_, err := m.LoadFile("sample.o")
	require.NoError(t, err)

	m.Clear()

	assert.False(t, m.IsLoaded("sample.o"))
	assert.Empty(t, m.AllFiles(0))
	assert.Equal(t, ManagerStats{}, m.Statistics())
}
