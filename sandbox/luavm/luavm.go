// Package luavm builds per-invocation Lua interpreter states with
// dangerous capabilities stripped and the tool surface installed.
// Every call to Build produces a fresh *lua.LState; no state is shared
// or reused across invocations.
package luavm

import (
	lua "github.com/yuin/gopher-lua"
)

// strippedGlobals are the capability-namespace globals that must be
// nil-ed out after the base libraries are opened.
// SkipOpenLibs already keeps most of these absent; the explicit nil-ing
// covers names the opened libraries (base, in particular) reintroduce
// and guards against a future library addition reintroducing one.
var strippedGlobals = []string{
	"os", "io",
	"require", "module", "package",
	"load", "loadstring", "dofile", "loadfile",
	"debug",
}

// ToolInstaller installs the http/json global tables backed by the
// tool mediator. Defined as a function type rather than an interface so
// sandbox/toolmediator has no import-time dependency on luavm.
type ToolInstaller func(L *lua.LState)

// Build constructs a fresh sandboxed interpreter state. install, when
// non-nil, is invoked after capability stripping to register the
// http/json callback tables.
func Build(install ToolInstaller) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: false,
	})

	for _, pair := range []struct {
		name string
		fn   func(*lua.LState) int
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		pair.fn(L)
	}

	for _, name := range strippedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	if install != nil {
		install(L)
	}

	return L, nil
}

// VerifyStripped re-checks that every name in strippedGlobals resolves
// to nil in L, used by tests asserting sandbox tightness. Returns the
// first name found still reachable, or "" if the sandbox is tight.
func VerifyStripped(L *lua.LState) string {
	for _, name := range strippedGlobals {
		if v := L.GetGlobal(name); v != lua.LNil {
			return name
		}
	}
	return ""
}
