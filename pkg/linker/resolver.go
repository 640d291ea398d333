package linker

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Policy controls resolution behavior. Case sensitivity is resolver-wide,
// not per-symbol, and is fixed once the table has been created.
type Policy struct {
	AllowUndefinedSymbols   bool
	PreferStrongOverWeak    bool
	CaseSensitiveSymbols    bool
	MaxResolutionIterations int
}

func DefaultPolicy() Policy {
	return Policy{
		AllowUndefinedSymbols:   false,
		PreferStrongOverWeak:    true,
		CaseSensitiveSymbols:    true,
		MaxResolutionIterations: 10,
	}
}

// ResolverStats are cumulative across ResolveAll calls, reset only by
// ResetStatistics or Clear.
type ResolverStats struct {
	TotalResolutions      uint64
	SuccessfulResolutions uint64
	SymbolsProcessed      uint64
	TotalResolutionTime   time.Duration
}

// Resolver owns the global symbol table and implements cross-file symbol
// resolution: insertion with strong/weak/common tie-breaking, reference
// tracking and the global resolve-all pass. One resolver serves one link
// operation on one goroutine; instances share nothing.
type Resolver struct {
	table  *SymbolTable
	policy Policy
	logger logrus.FieldLogger

	resolutionComplete bool
	lastResult         *ResolutionResult

	stats   ResolverStats
	lastErr error
}

// NewResolver allocates a resolver with a zeroed bucket array of the given
// size (DefaultTableSize if zero) and the default policy.
func NewResolver(initialTableSize int, logger logrus.FieldLogger) *Resolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	policy := DefaultPolicy()
	return &Resolver{
		table:  NewSymbolTable(initialTableSize, policy.CaseSensitiveSymbols),
		policy: policy,
		logger: logger,
	}
}

// Configure adjusts the resolution policy. Changing case sensitivity
// rebuilds bucket placement for any entries already present.
func (r *Resolver) Configure(allowUndefined, preferStrong, caseSensitive bool) {
	r.policy.AllowUndefinedSymbols = allowUndefined
	r.policy.PreferStrongOverWeak = preferStrong

	if caseSensitive != r.policy.CaseSensitiveSymbols {
		r.policy.CaseSensitiveSymbols = caseSensitive

		// Insert relinks e.next, so collect every entry before rehoming
		// any of them; inserting mid-walk would sever the old chains.
		var entries []*SymbolEntry
		r.table.ForEach(func(e *SymbolEntry) {
			entries = append(entries, e)
		})

		rebuilt := NewSymbolTable(r.table.Size(), caseSensitive)
		for _, e := range entries {
			rebuilt.Insert(e)
		}
		r.table = rebuilt
	}
}

func (r *Resolver) Policy() Policy {
	return r.policy
}

// AddSymbol inserts or updates the entry for one object file symbol.
//
// Tie-breaking:
//   - strong beats weak unconditionally; two strongs conflict; a weak after
//     a strong is a no-op, not an override;
//   - an undefined placeholder is superseded by any concrete definition;
//   - the first weak definition wins when no strong one ever appears;
//   - duplicate locals across files are accepted silently.
func (r *Resolver) AddSymbol(sym *ObjectSymbol, sourceFile string, sectionName string) error {
	if sym == nil || sym.Name == "" {
		return r.fail(fmt.Errorf("%w: symbol without a name", ErrInvalidInput))
	}

	entry := r.table.Lookup(sym.Name)
	if entry == nil {
		entry = &SymbolEntry{Name: sym.Name, Kind: sym.Kind}
		if entry.Kind == KindUnknown {
			entry.Kind = inferSymbolKind(sym.Name)
		}
		switch sym.Binding {
		case BindUndefined:
			entry.Status = StatusUndefined
		case BindGlobal, BindLocal:
			entry.define(StatusDefined, sym, sourceFile, sectionName)
		case BindWeak:
			entry.weakSeen = true
			entry.define(StatusWeak, sym, sourceFile, sectionName)
		case BindCommon:
			entry.define(StatusCommon, sym, sourceFile, sectionName)
		default:
			return r.fail(fmt.Errorf("%w: symbol %q has invalid binding %d", ErrInvalidInput, sym.Name, sym.Binding))
		}
		r.table.Insert(entry)
		return nil
	}

	switch sym.Binding {
	case BindGlobal:
		switch entry.Status {
		case StatusUndefined:
			entry.define(StatusDefined, sym, sourceFile, sectionName)
		case StatusDefined:
			err := fmt.Errorf("%w of %q: defined in %s and %s",
				ErrSymbolConflict, sym.Name, entry.DefiningFile, sourceFile)
			return r.fail(err)
		case StatusWeak, StatusCommon:
			if r.policy.PreferStrongOverWeak {
				entry.define(StatusDefined, sym, sourceFile, sectionName)
			}
		default:
			return r.fail(fmt.Errorf("%w: symbol %q has invalid status %d", ErrInvalidInput, sym.Name, entry.Status))
		}

	case BindLocal:
		// A duplicate local with no strong definition outstanding is
		// tolerated; locals from separate units may share a name.
		if entry.Status == StatusUndefined {
			entry.define(StatusDefined, sym, sourceFile, sectionName)
		}

	case BindWeak:
		entry.weakSeen = true
		if entry.Status == StatusUndefined {
			entry.define(StatusWeak, sym, sourceFile, sectionName)
		}

	case BindCommon:
		if entry.Status == StatusUndefined {
			entry.define(StatusCommon, sym, sourceFile, sectionName)
		}

	case BindUndefined:
		// Another reference-producing unit; the entry already tracks it.

	default:
		return r.fail(fmt.Errorf("%w: symbol %q has invalid binding %d", ErrInvalidInput, sym.Name, sym.Binding))
	}

	return nil
}

// AddObjectFile registers every symbol and relocation record of obj.
// It returns the number of symbols added or updated.
func (r *Resolver) AddObjectFile(obj *ObjectFile) (int, error) {
	if obj == nil {
		return 0, r.fail(fmt.Errorf("%w: nil object file", ErrInvalidInput))
	}

	added := 0
	for i := range obj.Symbols {
		sym := &obj.Symbols[i]
		section := obj.SectionName(sym.SectionIndex)
		if err := r.AddSymbol(sym, obj.Path, section); err != nil {
			return added, err
		}
		added++
	}

	for i := range obj.Relocations {
		rel := &obj.Relocations[i]
		section := obj.SectionName(rel.SectionIndex)
		if err := r.AddReference(rel.SymbolName, obj.Path, section, rel.Offset, rel.Type, rel.Addend); err != nil {
			return added, err
		}
	}

	return added, nil
}

// AddReference records one usage site of the named symbol. Forward
// references are legal: the entry is created as undefined when no
// definition has been seen yet.
func (r *Resolver) AddReference(symbolName, referencingFile, sectionName string, offset uint64, typ RefType, addend int64) error {
	if symbolName == "" {
		return r.fail(fmt.Errorf("%w: reference without a symbol name", ErrInvalidInput))
	}

	entry := r.table.Lookup(symbolName)
	if entry == nil {
		entry = &SymbolEntry{
			Name:   symbolName,
			Status: StatusUndefined,
			Kind:   inferSymbolKind(symbolName),
		}
		r.table.Insert(entry)
	}

	entry.References = append([]*Reference{{
		ReferencingFile: referencingFile,
		SectionName:     sectionName,
		Offset:          offset,
		Type:            typ,
		Addend:          addend,
	}}, entry.References...)

	return nil
}

// ResolveAll classifies every entry in one pass over the table. It succeeds
// when no entry is undefined, or when the policy allows undefined symbols.
// The returned result supersedes any previously stored one; cumulative
// statistics are updated regardless of outcome.
func (r *Resolver) ResolveAll() (*ResolutionResult, error) {
	start := time.Now()
	result := &ResolutionResult{}

	r.table.ForEach(func(e *SymbolEntry) {
		result.TotalSymbols++
		if e.weakSeen {
			result.WeakSymbols++
		}
		switch e.Status {
		case StatusDefined, StatusWeak, StatusCommon:
			result.ResolvedSymbols++
		case StatusUndefined:
			result.UndefinedSymbols++
			result.UndefinedSymbolNames = append(result.UndefinedSymbolNames, e.Name)
		}
	})

	result.ResolutionTime = time.Since(start)
	result.HashCollisions = r.table.Stats().Collisions

	r.stats.TotalResolutions++
	r.stats.SymbolsProcessed += uint64(result.TotalSymbols)
	r.stats.TotalResolutionTime += result.ResolutionTime

	result.Success = result.UndefinedSymbols == 0 || r.policy.AllowUndefinedSymbols
	r.lastResult = result

	if !result.Success {
		err := fmt.Errorf("%w: %d of %d symbols undefined",
			ErrUndefinedSymbols, result.UndefinedSymbols, result.TotalSymbols)
		r.logger.WithFields(logrus.Fields{
			"undefined": result.UndefinedSymbols,
			"total":     result.TotalSymbols,
		}).Error("symbol resolution failed")
		return result, r.fail(err)
	}

	r.stats.SuccessfulResolutions++
	r.resolutionComplete = true

	r.logger.WithFields(logrus.Fields{
		"total":    result.TotalSymbols,
		"resolved": result.ResolvedSymbols,
		"weak":     result.WeakSymbols,
		"elapsed":  result.ResolutionTime,
	}).Debug("symbol resolution complete")

	return result, nil
}

// ApplyRelocations marks every reference of every resolved entry as bound
// to the entry's address. This is bookkeeping only; byte patching is the
// executable generator's job, driven by this partition. It returns the
// number of references marked.
func (r *Resolver) ApplyRelocations(obj *ObjectFile) int {
	marked := 0
	r.table.ForEach(func(e *SymbolEntry) {
		if !e.Resolved {
			return
		}
		for _, ref := range e.References {
			if obj != nil && ref.ReferencingFile != obj.Path {
				continue
			}
			if !ref.Resolved {
				ref.Resolved = true
				marked++
			}
		}
	})
	return marked
}

// FindSymbol returns the entry for name, valid until the next mutating
// call. It never allocates.
func (r *Resolver) FindSymbol(name string) (*SymbolEntry, bool) {
	entry := r.table.Lookup(name)
	return entry, entry != nil
}

// UndefinedSymbols lists undefined entry names in bucket traversal order.
func (r *Resolver) UndefinedSymbols() []string {
	var names []string
	r.table.ForEach(func(e *SymbolEntry) {
		if e.Status == StatusUndefined {
			names = append(names, e.Name)
		}
	})
	return names
}

// IsComplete reports whether a successful ResolveAll has run, along with
// the current number of undefined entries.
func (r *Resolver) IsComplete() (bool, int) {
	undefined := 0
	r.table.ForEach(func(e *SymbolEntry) {
		if e.Status == StatusUndefined {
			undefined++
		}
	})
	return r.resolutionComplete, undefined
}

// SymbolView partitions the table into resolved and undefined entries, in
// bucket traversal order. The executable generator consumes this view.
func (r *Resolver) SymbolView() *SymbolView {
	view := &SymbolView{addresses: make(map[string]uint64)}
	r.table.ForEach(func(e *SymbolEntry) {
		if e.Resolved {
			view.Resolved = append(view.Resolved, e)
			view.addresses[e.Name] = e.Address
		} else {
			view.Undefined = append(view.Undefined, e)
		}
	})
	return view
}

func (r *Resolver) SymbolCount() int {
	return r.table.Len()
}

func (r *Resolver) TableStats() TableStats {
	return r.table.Stats()
}

func (r *Resolver) LastResult() *ResolutionResult {
	return r.lastResult
}

func (r *Resolver) Statistics() ResolverStats {
	return r.stats
}

func (r *Resolver) ResetStatistics() {
	r.stats = ResolverStats{}
}

func (r *Resolver) LastError() error {
	return r.lastErr
}

// Clear drops every entry and reference and resets all state, keeping the
// current policy and bucket count.
func (r *Resolver) Clear() {
	r.table.Clear()
	r.resolutionComplete = false
	r.lastResult = nil
	r.stats = ResolverStats{}
	r.lastErr = nil
}

func (r *Resolver) fail(err error) error {
	r.lastErr = err
	return err
}

// SymbolView is the partitioned symbol set handed to the executable
// generator: entries with a concrete address versus entries still
// undefined, plus an address lookup for relocation patching.
type SymbolView struct {
	Resolved  []*SymbolEntry
	Undefined []*SymbolEntry

	addresses map[string]uint64
}

func (v *SymbolView) Address(name string) (uint64, bool) {
	addr, ok := v.addresses[name]
	return addr, ok
}
