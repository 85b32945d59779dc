package script

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lucia/internal/apply"
	"github.com/dokzlo13/lucia/internal/hue"
)

// hueModule provides hue.* functions to Lua.
//
// Functions that can fail return two values: (result, error_string).
//   - On success: (result, nil)
//   - On error: (nil or false, "error message")
//
// State setters take percent brightness and kelvin temperature; conversion
// to device units happens here.
type hueModule struct {
	reader   Reader
	applier  Applier
	username string
}

func newHueModule(reader Reader, applier Applier, username string) *hueModule {
	return &hueModule{
		reader:   reader,
		applier:  applier,
		username: username,
	}
}

// Loader is the module loader for Lua
func (m *hueModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "lights", L.NewFunction(m.lights))
	L.SetField(mod, "groups", L.NewFunction(m.groups))
	L.SetField(mod, "set_light", L.NewFunction(m.setter(apply.KindLight)))
	L.SetField(mod, "set_group", L.NewFunction(m.setter(apply.KindGroup)))

	L.Push(mod)
	return 1
}

// lights() -> (array of light tables, err)
func (m *hueModule) lights(L *lua.LState) int {
	lights, err := m.reader.Lights(L.Context(), m.username)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get lights")
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	tbl := L.CreateTable(len(lights), 0)
	for i := range lights {
		tbl.RawSetInt(i+1, lightToLua(L, &lights[i]))
	}

	L.Push(tbl)
	L.Push(lua.LNil)
	return 2
}

// groups() -> (array of group tables, err)
func (m *hueModule) groups(L *lua.LState) int {
	groups, err := m.reader.Groups(L.Context(), m.username)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get groups")
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	tbl := L.CreateTable(len(groups), 0)
	for i := range groups {
		tbl.RawSetInt(i+1, groupToLua(L, &groups[i]))
	}

	L.Push(tbl)
	L.Push(lua.LNil)
	return 2
}

// setter returns set_light/set_group(id, {brightness=, temperature=, on=}) -> (ok, err)
func (m *hueModule) setter(kind apply.Kind) lua.LGFunction {
	return func(L *lua.LState) int {
		id, err := checkID(L, 1)
		if err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}

		tbl, ok := L.Get(2).(*lua.LTable)
		if !ok {
			L.Push(lua.LFalse)
			L.Push(lua.LString("state must be a table"))
			return 2
		}
		change, err := parseChange(tbl)
		if err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}

		target := apply.Target{Kind: kind, ID: id}
		if _, err := m.applier.Apply(L.Context(), m.username, []apply.Target{target}, change); err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}

		L.Push(lua.LTrue)
		L.Push(lua.LNil)
		return 2
	}
}

// checkID accepts both string and number ids.
func checkID(L *lua.LState, n int) (string, error) {
	switch v := L.Get(n).(type) {
	case lua.LString:
		if v == "" {
			return "", errors.New("empty id")
		}
		return string(v), nil
	case lua.LNumber:
		f := float64(v)
		if f != math.Trunc(f) || f < 0 {
			return "", fmt.Errorf("invalid id: %v", v)
		}
		return strconv.FormatInt(int64(f), 10), nil
	default:
		return "", errors.New("id must be string or number")
	}
}

// parseChange builds a StateChange from {brightness=pct, temperature=kelvin, on=bool}.
func parseChange(tbl *lua.LTable) (hue.StateChange, error) {
	var change hue.StateChange

	switch v := tbl.RawGetString("brightness").(type) {
	case *lua.LNilType:
	case lua.LNumber:
		bri, err := hue.ToDeviceBrightness(float64(v))
		if err != nil {
			return change, err
		}
		change = change.WithBri(bri)
	default:
		return change, errors.New("brightness must be a number")
	}

	switch v := tbl.RawGetString("temperature").(type) {
	case *lua.LNilType:
	case lua.LNumber:
		k := float64(v)
		if k < 1 || k > math.MaxUint16 {
			return change, fmt.Errorf("temperature %vK: %w", k, hue.ErrOutOfRange)
		}
		ct, err := hue.ToMired(uint16(math.Round(k)))
		if err != nil {
			return change, err
		}
		change = change.WithCT(ct)
	default:
		return change, errors.New("temperature must be a number")
	}

	switch v := tbl.RawGetString("on").(type) {
	case *lua.LNilType:
	case lua.LBool:
		change = change.WithOn(bool(v))
	default:
		return change, errors.New("on must be a boolean")
	}

	if change.IsEmpty() {
		return change, errors.New("no state given: set brightness, temperature or on")
	}
	return change, nil
}

func lightToLua(L *lua.LState, light *hue.Light) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "id", lua.LString(light.ID))
	L.SetField(tbl, "name", lua.LString(light.Name))
	L.SetField(tbl, "type", lua.LString(light.Type))
	L.SetField(tbl, "model", lua.LString(light.ModelID))
	setStateFields(L, tbl, light.State)
	L.SetField(tbl, "reachable", lua.LBool(light.State.Reachable))
	return tbl
}

func groupToLua(L *lua.LState, group *hue.Group) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "id", lua.LString(group.ID))
	L.SetField(tbl, "name", lua.LString(group.Name))
	L.SetField(tbl, "type", lua.LString(group.Type))
	L.SetField(tbl, "class", lua.LString(group.Class))
	L.SetField(tbl, "lights", stringsToLua(L, group.Lights))
	setStateFields(L, tbl, group.Action)
	L.SetField(tbl, "all_on", lua.LBool(group.State.AllOn))
	L.SetField(tbl, "any_on", lua.LBool(group.State.AnyOn))
	return tbl
}

// setStateFields exposes the state in both device and user units.
func setStateFields(L *lua.LState, tbl *lua.LTable, state hue.LightState) {
	L.SetField(tbl, "on", lua.LBool(state.On))
	L.SetField(tbl, "bri", lua.LNumber(state.Bri))
	L.SetField(tbl, "brightness", lua.LNumber(math.Round(hue.FromDeviceBrightness(state.Bri))))
	if state.CT > 0 {
		L.SetField(tbl, "ct", lua.LNumber(state.CT))
		L.SetField(tbl, "temperature", lua.LNumber(hue.ToKelvin(state.CT)))
	}
}
