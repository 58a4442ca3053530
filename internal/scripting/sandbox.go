// Package scripting provides a sandboxed GopherLua environment for
// script-defined games. It knows nothing about lobbies or sessions; game
// functions are injected as modules by the caller.
package scripting

import (
	"context"
	"fmt"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// DefaultInstructionLimit is the opcode budget per call when none is configured.
const DefaultInstructionLimit = 100_000

// countingContext cancels itself after Done has been called limit times.
// GopherLua calls Done once per opcode while a context is set, which makes
// this an exact instruction budget.
type countingContext struct {
	context.Context
	cancel    context.CancelFunc
	remaining *atomic.Int64
}

func (c *countingContext) Done() <-chan struct{} {
	if c.remaining.Add(-1) <= 0 {
		c.cancel()
	}
	return c.Context.Done()
}

// newCountingContext returns a context that cancels after limit calls to Done.
//
// Precondition: limit > 0.
func newCountingContext(limit int) (context.Context, context.CancelFunc) {
	base, cancel := context.WithCancel(context.Background())
	rem := &atomic.Int64{}
	rem.Store(int64(limit))
	return &countingContext{Context: base, cancel: cancel, remaining: rem}, cancel
}

// Module is a global Lua table of Go functions.
type Module struct {
	Name  string
	Funcs map[string]lua.LGFunction
}

// Sandbox is one restricted Lua VM. Every entry point runs under a fresh
// instruction budget, so a long-lived VM is limited per call rather than
// over its lifetime.
//
// A Sandbox is not safe for concurrent use.
type Sandbox struct {
	L     *lua.LState
	limit int
}

// NewSandbox creates a VM with:
//   - only the base, table, string and math libraries
//   - dofile, loadfile, load, collectgarbage and require removed
//   - a per-call budget of instLimit opcodes
//
// Precondition: instLimit >= 0; 0 selects DefaultInstructionLimit.
// Postcondition: The caller owns the Sandbox and must Close it.
func NewSandbox(instLimit int) *Sandbox {
	limit := instLimit
	if limit <= 0 {
		limit = DefaultInstructionLimit
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "collectgarbage", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return &Sandbox{L: L, limit: limit}
}

// Register installs m as a global table.
func (s *Sandbox) Register(m Module) {
	tbl := s.L.NewTable()
	for name, fn := range m.Funcs {
		s.L.SetField(tbl, name, s.L.NewFunction(fn))
	}
	s.L.SetGlobal(m.Name, tbl)
}

// budgeted runs fn with a fresh instruction budget installed.
func (s *Sandbox) budgeted(fn func() error) error {
	ctx, cancel := newCountingContext(s.limit)
	defer cancel()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()
	return fn()
}

// DoString executes src under the budget.
func (s *Sandbox) DoString(src string) error {
	return s.budgeted(func() error { return s.L.DoString(src) })
}

// Run executes a compiled chunk under the budget.
func (s *Sandbox) Run(proto *lua.FunctionProto) error {
	return s.budgeted(func() error {
		s.L.Push(s.L.NewFunctionFromProto(proto))
		return s.L.PCall(0, lua.MultRet, nil)
	})
}

// Has reports whether the named global is a function.
func (s *Sandbox) Has(name string) bool {
	return s.L.GetGlobal(name).Type() == lua.LTFunction
}

// Call invokes the named global function under the budget and returns its
// first result. A missing function is not an error: it returns (LNil, false, nil).
func (s *Sandbox) Call(name string, args ...lua.LValue) (lua.LValue, bool, error) {
	fn := s.L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return lua.LNil, false, nil
	}
	err := s.budgeted(func() error {
		return s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...)
	})
	if err != nil {
		return lua.LNil, true, fmt.Errorf("lua %s: %w", name, err)
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	return ret, true, nil
}

// Close releases the VM.
func (s *Sandbox) Close() {
	s.L.Close()
}
