// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package lua

import (
	"context"
	"log/slog"
	"sort"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/prismhost/prismhost/internal/plugin"
)

// entryFunction is the global every entry script must define.
const entryFunction = "load"

// Compile-time interface check.
var _ plugin.EntryPoint = (*EntryPoint)(nil)

// Valuer lets a host context describe itself to Lua.
type Valuer interface {
	LuaValue(L *lua.LState) lua.LValue
}

// EntryPoint runs a compiled entry script's load(host) in a fresh sandbox.
type EntryPoint struct {
	identity string
	entry    string
	proto    *lua.FunctionProto
	factory  *StateFactory
	logger   *slog.Logger
}

// Load executes the script's top level, then calls load(host). The host
// context must be nil, a map[string]string, a map[string]any of scalars, or
// a Valuer. load must return a boolean.
func (e *EntryPoint) Load(ctx context.Context, host plugin.HostContext) (bool, error) {
	errb := oops.In("lua").With("plugin", e.identity).With("entry", e.entry)

	L, err := e.factory.NewState(ctx)
	if err != nil {
		return false, errb.Hint("failed to create state").Wrap(err)
	}
	defer L.Close()

	e.registerHostTable(ctx, L)

	L.Push(L.NewFunctionFromProto(e.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return false, errb.Hint("entry script raised an error").Wrap(err)
	}

	fn := L.GetGlobal(entryFunction)
	if fn.Type() != lua.LTFunction {
		return false, errb.Errorf("entry script does not define %s(host)", entryFunction)
	}

	arg, err := hostValue(L, host)
	if err != nil {
		return false, errb.Wrap(err)
	}

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, arg); err != nil {
		return false, errb.With("operation", entryFunction).Wrap(err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	ok, isBool := ret.(lua.LBool)
	if !isBool {
		return false, errb.With("returned", ret.Type().String()).
			Errorf("%s(host) must return a boolean", entryFunction)
	}
	return bool(ok), nil
}

// registerHostTable exposes prismhost.identity and prismhost.log(msg).
func (e *EntryPoint) registerHostTable(ctx context.Context, L *lua.LState) {
	t := L.NewTable()
	L.SetField(t, "identity", lua.LString(e.identity))
	L.SetField(t, "log", L.NewFunction(func(L *lua.LState) int {
		e.logger.InfoContext(ctx, L.CheckString(1), "plugin", e.identity)
		return 0
	}))
	L.SetGlobal("prismhost", t)
}

// hostValue converts the opaque host context into a Lua argument.
func hostValue(L *lua.LState, host plugin.HostContext) (lua.LValue, error) {
	switch h := host.(type) {
	case nil:
		return lua.LNil, nil
	case Valuer:
		return h.LuaValue(L), nil
	case map[string]string:
		t := L.NewTable()
		for _, k := range sortedKeys(h) {
			L.SetField(t, k, lua.LString(h[k]))
		}
		return t, nil
	case map[string]any:
		t := L.NewTable()
		for _, k := range sortedKeys(h) {
			v, err := scalarValue(h[k])
			if err != nil {
				return nil, oops.With("key", k).Wrap(err)
			}
			L.SetField(t, k, v)
		}
		return t, nil
	default:
		return nil, oops.Errorf("unsupported host context type %T", host)
	}
}

func scalarValue(v any) (lua.LValue, error) {
	switch x := v.(type) {
	case nil:
		return lua.LNil, nil
	case string:
		return lua.LString(x), nil
	case bool:
		return lua.LBool(x), nil
	case int:
		return lua.LNumber(x), nil
	case int64:
		return lua.LNumber(x), nil
	case float64:
		return lua.LNumber(x), nil
	default:
		return nil, oops.Errorf("unsupported host context value type %T", v)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
