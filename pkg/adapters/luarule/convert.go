package luarule

import (
	"fmt"
	"sort"

	"github.com/aretw0/canopy/pkg/ports"
	lua "github.com/yuin/gopher-lua"
)

func viewTable(L *lua.LState, view ports.RunView) *lua.LTable {
	env := view.Environment()
	tbl := L.NewTable()
	L.SetField(tbl, "request", lua.LString(view.Request()))
	L.SetField(tbl, "run_id", lua.LString(view.RunID()))
	L.SetField(tbl, "node", lua.LString(view.NodeID()))
	L.SetField(tbl, "step", lua.LNumber(view.Step()))

	tools := L.NewTable()
	envTbl := L.NewTable()
	for _, name := range env.Tools() {
		tools.Append(lua.LString(name))
		objects := L.NewTable()
		for _, res := range env.Results(name) {
			for _, obj := range res.Objects {
				objects.Append(toLua(L, obj))
			}
		}
		L.SetField(envTbl, name, objects)
	}
	L.SetField(tbl, "tools", tools)
	L.SetField(tbl, "env", envTbl)

	history := L.NewTable()
	for _, entry := range view.History() {
		history.Append(lua.LString(entry.ToolName))
	}
	L.SetField(tbl, "history", history)
	return tbl
}

// toLua converts a Go value to a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(toLua(L, item))
		}
		return tbl
	case []map[string]any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(toLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(lua.LString(item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			L.SetField(tbl, k, toLua(L, val[k]))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// toGo converts a Lua value to a Go value. Tables with only a sequence part
// become []any; all others become map[string]any.
func toGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		f := float64(val)
		if f == float64(int64(f)) {
			return int(f)
		}
		return f
	case *lua.LTable:
		if n := val.Len(); n > 0 {
			list := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				list = append(list, toGo(val.RawGetInt(i)))
			}
			return list
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = toGo(item)
		})
		return out
	default:
		return val.String()
	}
}

func toObjects(raw any) ([]map[string]any, error) {
	list, ok := raw.([]any)
	if !ok {
		if m, ok := raw.(map[string]any); ok && len(m) == 0 {
			return []map[string]any{}, nil
		}
		return nil, fmt.Errorf("objects must be a list of tables")
	}
	out := make([]map[string]any, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("objects[%d] is not a table", i+1)
		}
		out = append(out, obj)
	}
	return out, nil
}
