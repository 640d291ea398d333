package linker

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// LinkState tracks the orchestrator through its pipeline. Transitions are
// sequential; the first failure terminates the whole operation.
type LinkState uint8

const (
	StateCreated LinkState = iota
	StateConfigured
	StateLoading
	StateAddingSymbols
	StateResolving
	StateGeneratingExecutable
	StateSettingPermissions
	StateValidating
	StateSucceeded
	StateFailed
)

func (s LinkState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateLoading:
		return "loading"
	case StateAddingSymbols:
		return "adding symbols"
	case StateResolving:
		return "resolving"
	case StateGeneratingExecutable:
		return "generating executable"
	case StateSettingPermissions:
		return "setting permissions"
	case StateValidating:
		return "validating"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Request carries the per-link configuration.
type Request struct {
	ObjectFiles []string
	OutputPath  string
	EntryPoint  string

	AllowUndefinedSymbols bool

	// Accepted but recorded only; debug info emission is out of scope.
	GenerateDebugInfo bool

	// Accepted with a sequential fallback; parallel linking is not
	// implemented.
	ParallelLinking bool
}

func NewRequest() Request {
	return Request{EntryPoint: "main"}
}

// LinkerStats are cumulative across LinkFiles calls.
type LinkerStats struct {
	TotalObjectsLinked        uint64
	TotalExecutablesGenerated uint64
	TotalLinkingTime          time.Duration
}

// Linker drives the pipeline: load object files, register symbols, resolve,
// generate the executable, set permissions, validate, report. One instance
// serves one link at a time on one goroutine.
type Linker struct {
	fs     afero.Fs
	logger logrus.FieldLogger

	manager   *ObjectFileManager
	resolver  *Resolver
	generator Generator

	request     Request
	state       LinkState
	initialized bool
	linking     bool

	stats   LinkerStats
	lastErr error
}

func NewLinker(fs afero.Fs, logger logrus.FieldLogger) *Linker {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	l := &Linker{
		fs:          fs,
		logger:      logger,
		manager:     NewObjectFileManager(fs, logger),
		resolver:    NewResolver(DefaultTableSize, logger),
		generator:   NewImageGenerator(fs, logger),
		state:       StateCreated,
		initialized: true,
	}
	l.request = NewRequest()
	return l
}

// SetGenerator swaps the executable generator; the default writes a flat
// ELF-style image.
func (l *Linker) SetGenerator(g Generator) {
	if g != nil {
		l.generator = g
	}
}

// Configure installs a request and propagates its policy to the resolver.
func (l *Linker) Configure(req Request) error {
	if !l.initialized {
		return l.fail(ErrNotConfigured)
	}
	if req.EntryPoint == "" {
		req.EntryPoint = "main"
	}
	l.request = req
	l.resolver.Configure(req.AllowUndefinedSymbols, true, true)
	l.state = StateConfigured
	return nil
}

// Execute links the configured request.
func (l *Linker) Execute() *LinkingResult {
	return l.LinkFiles(l.request.ObjectFiles, l.request.OutputPath)
}

// LinkFiles runs the whole pipeline. Any step failure short-circuits the
// remaining steps and returns a failed result; the human-readable error is
// retained on the linker, overwriting any prior one.
func (l *Linker) LinkFiles(objectPaths []string, outputPath string) *LinkingResult {
	start := time.Now()
	result := &LinkingResult{Metadata: NewExecutableMetadata()}
	result.Metadata.EntryPoint = l.request.EntryPoint
	result.Metadata.HasDebugInfo = l.request.GenerateDebugInfo

	if !l.initialized {
		return l.failResult(result, "%v", ErrNotConfigured)
	}
	if len(objectPaths) == 0 {
		return l.failResult(result, "%v: no object files given", ErrInvalidInput)
	}
	if outputPath == "" {
		return l.failResult(result, "%v: no output path given", ErrInvalidInput)
	}
	if l.linking {
		return l.failResult(result, "%v: link already in progress", ErrInvalidInput)
	}

	l.linking = true
	defer func() { l.linking = false }()

	if l.request.ParallelLinking {
		l.logger.Warn("parallel linking not implemented, falling back to sequential")
	}

	// Load every object file.
	l.state = StateLoading
	loaded, err := l.manager.LoadFiles(objectPaths)
	if err != nil || loaded != len(objectPaths) {
		return l.failResult(result, "failed to load object files: %d of %d object files loaded: %v",
			loaded, len(objectPaths), err)
	}

	// Feed every symbol table into the resolver.
	l.state = StateAddingSymbols
	objs := l.manager.AllFiles(0)
	for _, obj := range objs {
		added, err := l.resolver.AddObjectFile(obj)
		result.TotalSymbolsProcessed += added
		if err != nil {
			return l.failResult(result, "failed to register symbols from %s: %v", obj.Path, err)
		}
	}

	// Resolve.
	l.state = StateResolving
	resolution, err := l.resolver.ResolveAll()
	result.SymbolsResolved = resolution.ResolvedSymbols
	result.SymbolsUnresolved = resolution.UndefinedSymbols
	if err != nil {
		result.UndefinedSymbolNames = resolution.UndefinedSymbolNames
		return l.failResult(result, "symbol resolution failed: %d undefined symbols", resolution.UndefinedSymbols)
	}

	for _, obj := range objs {
		l.resolver.ApplyRelocations(obj)
	}

	// Generate the executable image.
	l.state = StateGeneratingExecutable
	view := l.resolver.SymbolView()
	if err := l.generator.Generate(view, objs, outputPath, &result.Metadata); err != nil {
		return l.failResult(result, "failed to generate executable: %v", err)
	}

	// Platform permissions.
	l.state = StateSettingPermissions
	if err := l.generator.SetPermissions(outputPath, result.Metadata.FilePermissions); err != nil {
		return l.failResult(result, "failed to set executable permissions: %v", err)
	}

	// Post-generation validation.
	l.state = StateValidating
	if err := l.generator.Validate(outputPath, &result.Metadata); err != nil {
		return l.failResult(result, "generated executable failed validation: %v", err)
	}

	l.state = StateSucceeded
	result.Success = true
	result.ExecutablePath = outputPath
	result.ObjectsLinked = len(objs)
	result.LinkingTime = time.Since(start)

	l.stats.TotalObjectsLinked += uint64(len(objectPaths))
	l.stats.TotalExecutablesGenerated++
	l.stats.TotalLinkingTime += result.LinkingTime

	l.logger.WithFields(logrus.Fields{
		"output":   outputPath,
		"objects":  len(objs),
		"symbols":  result.TotalSymbolsProcessed,
		"resolved": result.SymbolsResolved,
		"elapsed":  result.LinkingTime,
	}).Info("link succeeded")

	return result
}

func (l *Linker) State() LinkState {
	return l.state
}

func (l *Linker) Resolver() *Resolver {
	return l.resolver
}

func (l *Linker) Manager() *ObjectFileManager {
	return l.manager
}

func (l *Linker) Statistics() LinkerStats {
	return l.stats
}

// IsReady reports whether the linker can accept a new link operation.
func (l *Linker) IsReady() bool {
	return l.initialized && !l.linking
}

func (l *Linker) LastError() error {
	return l.lastErr
}

// ClearCache drops loaded object files and symbol state; statistics on the
// linker itself survive.
func (l *Linker) ClearCache() {
	l.manager.Clear()
	l.resolver.Clear()
	l.state = StateCreated
	l.lastErr = nil
}

func (l *Linker) fail(err error) error {
	l.lastErr = err
	return err
}

func (l *Linker) failResult(result *LinkingResult, format string, args ...any) *LinkingResult {
	err := fmt.Errorf(format, args...)
	step := l.state
	l.lastErr = err
	l.state = StateFailed

	result.Success = false
	result.Error = err.Error()

	l.logger.WithField("step", step.String()).Error(err.Error())
	return result
}
