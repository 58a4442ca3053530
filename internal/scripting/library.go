package scripting

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"
)

// Library compiles game scripts once and instantiates a fresh sandbox per use.
//
// Library is safe for concurrent use.
type Library struct {
	dir    string
	limit  int
	logger *zap.Logger

	mu     sync.Mutex
	protos map[string]*lua.FunctionProto
}

// NewLibrary creates a Library resolving relative script names against dir.
//
// Precondition: logger must be non-nil.
func NewLibrary(dir string, instLimit int, logger *zap.Logger) *Library {
	return &Library{
		dir:    dir,
		limit:  instLimit,
		logger: logger,
		protos: make(map[string]*lua.FunctionProto),
	}
}

// Path resolves a script name to a file path.
func (l *Library) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(l.dir, name)
}

// Compile parses and compiles the named script, caching the result.
//
// Postcondition: Returns the compiled chunk or a parse/compile error.
func (l *Library) Compile(name string) (*lua.FunctionProto, error) {
	path := l.Path(name)

	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.protos[path]; ok {
		return p, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scripting: opening %q: %w", path, err)
	}
	defer f.Close()

	chunk, err := parse.Parse(bufio.NewReader(f), path)
	if err != nil {
		return nil, fmt.Errorf("scripting: parsing %q: %w", path, err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, fmt.Errorf("scripting: compiling %q: %w", path, err)
	}
	l.protos[path] = proto
	l.logger.Debug("script compiled", zap.String("path", path))
	return proto, nil
}

// Instantiate creates a sandbox, installs modules, and runs the named script
// so its globals are defined.
//
// Postcondition: Returns a ready Sandbox the caller must Close, or an error.
func (l *Library) Instantiate(name string, modules ...Module) (*Sandbox, error) {
	proto, err := l.Compile(name)
	if err != nil {
		return nil, err
	}
	sb := NewSandbox(l.limit)
	for _, m := range modules {
		sb.Register(m)
	}
	if err := sb.Run(proto); err != nil {
		sb.Close()
		return nil, fmt.Errorf("scripting: loading %q: %w", l.Path(name), err)
	}
	return sb, nil
}
