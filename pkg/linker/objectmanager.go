package linker

import (
	"bytes"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

type FileType uint8

const (
	FileTypeUnknown FileType = iota
	FileTypeEmpty
	FileTypeObject
	FileTypeArchive
)

func GetFileType(contents []byte) FileType {
	if len(contents) == 0 {
		return FileTypeEmpty
	}
	if len(contents) >= 4 && bytes.Equal(contents[:4], objectMagic[:]) {
		return FileTypeObject
	}
	if len(contents) >= len(archiveMagic) && string(contents[:len(archiveMagic)]) == archiveMagic {
		return FileTypeArchive
	}
	return FileTypeUnknown
}

// ManagerStats are cumulative object loading counters.
type ManagerStats struct {
	FilesLoaded      uint64
	CacheHits        uint64
	CacheMisses      uint64
	SymbolsProcessed uint64
}

// ObjectFileManager loads object files and archives and keeps them around
// for the duration of a link. Loaded files are cached by path; asking for
// the same path twice parses once.
type ObjectFileManager struct {
	fs     afero.Fs
	logger logrus.FieldLogger

	files  []*ObjectFile
	byPath map[string]*ObjectFile

	stats   ManagerStats
	lastErr error
}

func NewObjectFileManager(fs afero.Fs, logger logrus.FieldLogger) *ObjectFileManager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ObjectFileManager{
		fs:     fs,
		logger: logger,
		byPath: make(map[string]*ObjectFile),
	}
}

// LoadFile loads and parses one object file. Archive inputs contribute one
// ObjectFile per member, registered as "archive.a(member.o)"; the returned
// file is the first member.
func (m *ObjectFileManager) LoadFile(path string) (*ObjectFile, error) {
	if obj, ok := m.byPath[path]; ok {
		m.stats.CacheHits++
		return obj, nil
	}
	m.stats.CacheMisses++

	contents, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return nil, m.fail(fmt.Errorf("load %s: %w", path, err))
	}

	switch GetFileType(contents) {
	case FileTypeObject:
		obj, err := ParseObjectFile(path, contents)
		if err != nil {
			return nil, m.fail(err)
		}
		m.register(path, obj)
		return obj, nil

	case FileTypeArchive:
		members, err := ReadArchiveMembers(path, contents)
		if err != nil {
			return nil, m.fail(err)
		}
		if len(members) == 0 {
			return nil, m.fail(fmt.Errorf("%w: %s: empty archive", ErrBadObjectFile, path))
		}
		var first *ObjectFile
		for _, member := range members {
			memberPath := fmt.Sprintf("%s(%s)", path, member.Name)
			obj, err := ParseObjectFile(memberPath, member.Contents)
			if err != nil {
				return nil, m.fail(err)
			}
			m.register(memberPath, obj)
			if first == nil {
				first = obj
				m.byPath[path] = obj
			}
		}
		return first, nil

	case FileTypeEmpty:
		return nil, m.fail(fmt.Errorf("%w: %s: empty file", ErrBadObjectFile, path))
	default:
		return nil, m.fail(fmt.Errorf("%w: %s: unknown file type", ErrBadObjectFile, path))
	}
}

// LoadFiles loads every path, stopping at the first failure. It returns the
// number of requested paths that loaded successfully.
func (m *ObjectFileManager) LoadFiles(paths []string) (int, error) {
	loaded := 0
	for _, path := range paths {
		if _, err := m.LoadFile(path); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

func (m *ObjectFileManager) register(path string, obj *ObjectFile) {
	m.files = append(m.files, obj)
	m.byPath[path] = obj
	m.stats.FilesLoaded++
	m.stats.SymbolsProcessed += uint64(len(obj.Symbols))

	m.logger.WithFields(logrus.Fields{
		"path":     path,
		"sections": len(obj.Sections),
		"symbols":  len(obj.Symbols),
		"relocs":   len(obj.Relocations),
	}).Debug("loaded object file")
}

func (m *ObjectFileManager) IsLoaded(path string) bool {
	_, ok := m.byPath[path]
	return ok
}

func (m *ObjectFileManager) Find(path string) *ObjectFile {
	return m.byPath[path]
}

// AllFiles returns up to max loaded files in load order; max <= 0 means all.
func (m *ObjectFileManager) AllFiles(max int) []*ObjectFile {
	if max <= 0 || max > len(m.files) {
		max = len(m.files)
	}
	out := make([]*ObjectFile, max)
	copy(out, m.files[:max])
	return out
}

// FindSymbol searches every loaded file for a defined symbol of that name.
func (m *ObjectFileManager) FindSymbol(name string) (*ObjectSymbol, *ObjectFile) {
	for _, obj := range m.files {
		if sym := obj.Symbol(name); sym != nil && sym.Binding != BindUndefined {
			return sym, obj
		}
	}
	return nil, nil
}

// UndefinedSymbols collects up to max undefined symbol names across all
// loaded files; max <= 0 means no limit.
func (m *ObjectFileManager) UndefinedSymbols(max int) []string {
	var names []string
	for _, obj := range m.files {
		for _, name := range obj.UndefinedSymbols() {
			if max > 0 && len(names) >= max {
				return names
			}
			names = append(names, name)
		}
	}
	return names
}

func (m *ObjectFileManager) Statistics() ManagerStats {
	return m.stats
}

func (m *ObjectFileManager) LastError() error {
	return m.lastErr
}

// Clear drops every loaded file and resets the statistics.
func (m *ObjectFileManager) Clear() {
	m.files = nil
	m.byPath = make(map[string]*ObjectFile)
	m.stats = ManagerStats{}
	m.lastErr = nil
}

func (m *ObjectFileManager) fail(err error) error {
	m.lastErr = err
	return err
}
