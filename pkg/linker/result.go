package linker

import (
	"io/fs"
	"time"
)

// ResolutionResult is the value snapshot produced by one ResolveAll pass.
// It is detached from resolver state; a later pass supersedes it.
type ResolutionResult struct {
	Success bool

	TotalSymbols     int
	ResolvedSymbols  int
	UndefinedSymbols int

	// WeakSymbols counts entries that saw at least one weak definition,
	// whether or not a strong definition ended up winning.
	WeakSymbols int

	// Names of undefined entries in bucket traversal order.
	UndefinedSymbolNames []string

	ResolutionTime time.Duration
	HashCollisions uint64
}

// ExecutableMetadata describes the produced artifact.
type ExecutableMetadata struct {
	TargetPlatform     string
	TargetArchitecture string
	Format             string

	EntryPoint  string
	BaseAddress uint64

	ExecutableSize  int64
	SymbolCount     int
	SectionCount    int
	HasDebugInfo    bool
	FilePermissions fs.FileMode
}

// LinkingResult is the outcome of one LinkFiles call. The caller owns it;
// it never aliases linker-internal state.
type LinkingResult struct {
	Success        bool
	ExecutablePath string
	Error          string

	ObjectsLinked         int
	TotalSymbolsProcessed int
	SymbolsResolved       int
	SymbolsUnresolved     int
	UndefinedSymbolNames  []string

	LinkingTime time.Duration
	Metadata    ExecutableMetadata
}
