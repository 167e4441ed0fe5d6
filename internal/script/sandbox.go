// Package script provides the deterministic Lua sandbox that owns all game
// variables.
//
// Game definitions express conditions ("coins > 5 and has_key") and scripts
// ("coins = coins + 1") as Lua source. The sandbox executes them against a
// single Lua state per session and can enumerate exactly the variables the
// game created, by diffing the global table against the set of names present
// at construction.
//
// The sandbox is deliberately cut off from the host: only the base, table,
// string, and math libraries are opened, and the file-loading base functions
// are removed. There is no clock, filesystem, or network access. A Sandbox is
// single-threaded by contract — one session, one goroutine; concurrent access
// is a programming error.
package script

import (
	"fmt"
	"log/slog"
	"math"

	lua "github.com/yuin/gopher-lua"
)

// Sandbox is a Lua evaluation environment for one session.
type Sandbox struct {
	state *lua.LState

	// baseline holds the global names present after library setup. Anything
	// not in this set is a user-defined variable.
	baseline map[string]struct{}
}

// New creates a sandbox with the base, table, string, and math libraries
// loaded and the host-reaching base functions removed.
func New() (*Sandbox, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("script: open %s library: %w", lib.name, err)
		}
	}

	// The base library drags in file loading; scripts must not reach the host.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}

	// Route print through the logger instead of the process stdout.
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]any, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		slog.Debug("script: print", "args", parts)
		return 0
	}))

	s := &Sandbox{
		state:    L,
		baseline: make(map[string]struct{}),
	}
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		s.baseline[k.String()] = struct{}{}
	})
	return s, nil
}

// Close releases the underlying Lua state. The sandbox must not be used
// afterwards.
func (s *Sandbox) Close() {
	s.state.Close()
}

// SetVariable assigns a global variable. Supported value types are bool, all
// Go integer widths, float32/float64, and string; anything else is an error.
func (s *Sandbox) SetVariable(name string, value any) error {
	lv, err := toLua(value)
	if err != nil {
		return fmt.Errorf("script: set %q: %w", name, err)
	}
	s.state.SetGlobal(name, lv)
	return nil
}

// Variable returns the current value of a global variable. The second return
// is false when the variable is not defined.
func (s *Sandbox) Variable(name string) (any, bool) {
	lv := s.state.GetGlobal(name)
	if lv == lua.LNil {
		return nil, false
	}
	return fromLua(lv), true
}

// UserVariables returns every variable the game defined or its scripts
// created, excluding the sandbox's own built-in names. Lua tables and
// functions are skipped — the inventory holds scalars only.
func (s *Sandbox) UserVariables() map[string]any {
	vars := make(map[string]any)
	s.state.G.Global.ForEach(func(k, v lua.LValue) {
		name := k.String()
		if _, builtin := s.baseline[name]; builtin {
			return
		}
		switch v.Type() {
		case lua.LTBool, lua.LTNumber, lua.LTString:
			vars[name] = fromLua(v)
		}
	})
	return vars
}

// Execute runs a statement (or statement list). A failure is logged and
// reported, never panicked; partial effects of earlier statements in the
// chunk persist, matching Lua semantics.
func (s *Sandbox) Execute(code string) error {
	if err := s.state.DoString(code); err != nil {
		slog.Warn("script: execute failed", "code", code, "err", err)
		return fmt.Errorf("script: execute: %w", err)
	}
	// Discard any values the chunk returned.
	s.state.SetTop(0)
	return nil
}

// EvaluateExpression evaluates a boolean-ish expression by wrapping it in a
// return form. An empty or blank expression is vacuously true. Any evaluation
// error yields (nil, false) after logging — a broken condition disables its
// action rather than crashing the turn.
func (s *Sandbox) EvaluateExpression(expr string) (any, bool) {
	if isBlank(expr) {
		return true, true
	}
	if err := s.state.DoString("return (" + expr + ")"); err != nil {
		slog.Warn("script: evaluate failed", "expr", expr, "err", err)
		return nil, false
	}
	top := s.state.GetTop()
	if top == 0 {
		return nil, true
	}
	v := fromLua(s.state.Get(-1))
	s.state.SetTop(0)
	return v, true
}

// Truthy applies Lua truthiness to a Go value: nil and false are falsy,
// everything else (including 0 and "") is truthy.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

// toLua converts a Go scalar to a Lua value.
func toLua(value any) (lua.LValue, error) {
	switch v := value.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(v), nil
	case int:
		return lua.LNumber(v), nil
	case int32:
		return lua.LNumber(v), nil
	case int64:
		return lua.LNumber(v), nil
	case float32:
		return lua.LNumber(v), nil
	case float64:
		return lua.LNumber(v), nil
	case string:
		return lua.LString(v), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", value)
	}
}

// fromLua converts a Lua value to its Go counterpart. Whole numbers come back
// as int64 so that counters stay integral across round trips.
func fromLua(lv lua.LValue) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	default:
		return nil
	}
}
