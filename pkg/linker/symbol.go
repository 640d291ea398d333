package linker

import "strings"

// SymbolStatus classifies an entry in the global symbol table. The zero
// value is StatusUndefined so a freshly created placeholder entry is
// correct by construction.
type SymbolStatus uint8

const (
	StatusUndefined SymbolStatus = iota
	StatusDefined
	StatusWeak
	StatusCommon
)

func (s SymbolStatus) String() string {
	switch s {
	case StatusUndefined:
		return "undefined"
	case StatusDefined:
		return "defined"
	case StatusWeak:
		return "weak"
	case StatusCommon:
		return "common"
	default:
		return "invalid"
	}
}

type SymbolKind uint8

const (
	KindUnknown SymbolKind = iota
	KindFunction
	KindVariable
)

func (k SymbolKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// SymbolBinding is the visibility/strength classification a symbol carries
// in an object file.
type SymbolBinding uint8

const (
	BindUndefined SymbolBinding = iota
	BindLocal
	BindGlobal
	BindWeak
	BindCommon
)

func (b SymbolBinding) String() string {
	switch b {
	case BindUndefined:
		return "undefined"
	case BindLocal:
		return "local"
	case BindGlobal:
		return "global"
	case BindWeak:
		return "weak"
	case BindCommon:
		return "common"
	default:
		return "invalid"
	}
}

// RefType is the relocation flavor of a reference site.
type RefType uint8

const (
	RefAbsolute RefType = iota
	RefRelative
)

func (t RefType) String() string {
	switch t {
	case RefAbsolute:
		return "absolute"
	case RefRelative:
		return "relative"
	default:
		return "invalid"
	}
}

// Reference records one usage site of a symbol: a relocation to be patched
// once the owning entry has a concrete address.
type Reference struct {
	ReferencingFile string
	SectionName     string
	Offset          uint64
	Type            RefType
	Addend          int64
	Resolved        bool
}

// SymbolEntry is one slot in the global symbol table, keyed by name. The
// entry exclusively owns its reference list; references live and die with
// the entry.
type SymbolEntry struct {
	Name    string
	Address uint64
	Size    uint64
	Status  SymbolStatus
	Kind    SymbolKind

	// Provenance of the last accepted definition.
	DefiningFile string
	SectionName  string

	Resolved   bool
	References []*Reference

	// weakSeen records that at least one weak definition was offered,
	// even when a strong definition won.
	weakSeen bool

	next *SymbolEntry
}

func (e *SymbolEntry) ReferenceCount() int {
	return len(e.References)
}

// define installs a concrete definition on the entry.
func (e *SymbolEntry) define(status SymbolStatus, sym *ObjectSymbol, sourceFile, section string) {
	e.Status = status
	e.Address = sym.Value
	e.Size = sym.Size
	e.DefiningFile = sourceFile
	e.SectionName = section
	e.Resolved = true
	if sym.Kind != KindUnknown {
		e.Kind = sym.Kind
	} else if e.Kind == KindUnknown {
		e.Kind = inferSymbolKind(e.Name)
	}
}

// inferSymbolKind guesses a kind from the compiler's name mangling
// convention when the object metadata carries none.
func inferSymbolKind(name string) SymbolKind {
	switch {
	case strings.HasPrefix(name, "fn_") || strings.HasPrefix(name, "func_"):
		return KindFunction
	case strings.HasPrefix(name, "var_") || strings.HasPrefix(name, "g_"):
		return KindVariable
	default:
		return KindUnknown
	}
}
