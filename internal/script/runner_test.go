package script

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lucia/internal/apply"
	"github.com/dokzlo13/lucia/internal/hue"
)

type fakeReader struct {
	lights []hue.Light
	groups []hue.Group
	err    error
	users  []string
}

func (f *fakeReader) Lights(_ context.Context, username string) ([]hue.Light, error) {
	f.users = append(f.users, username)
	return f.lights, f.err
}

func (f *fakeReader) Groups(_ context.Context, username string) ([]hue.Group, error) {
	f.users = append(f.users, username)
	return f.groups, f.err
}

type applyCall struct {
	username string
	targets  []apply.Target
	change   hue.StateChange
}

type fakeApplier struct {
	calls []applyCall
	err   error
}

func (f *fakeApplier) Apply(_ context.Context, username string, targets []apply.Target, change hue.StateChange) (apply.Report, error) {
	f.calls = append(f.calls, applyCall{username: username, targets: targets, change: change})
	return apply.Report{}, f.err
}

func newTestRunner() (*Runner, *fakeReader, *fakeApplier) {
	reader := &fakeReader{
		lights: []hue.Light{
			{ID: "1", Name: "Desk", Type: "Extended color light", State: hue.LightState{On: true, Bri: 254, CT: 370, Reachable: true}},
			{ID: "2", Name: "Hall", Type: "Dimmable light", State: hue.LightState{Bri: 0}},
		},
		groups: []hue.Group{
			{ID: "1", Name: "Office", Type: "Room", Class: "Office", Lights: []string{"1", "2"},
				State: hue.GroupState{AnyOn: true}, Action: hue.LightState{On: true, Bri: 128}},
		},
	}
	applier := &fakeApplier{}
	return NewRunner(reader, applier, "user"), reader, applier
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.DebugLevel)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestHueLights(t *testing.T) {
	r, reader, _ := newTestRunner()

	err := r.RunString(context.Background(), "lights", `
		local hue = require("hue")
		local lights, err = hue.lights()
		assert(err == nil, err)
		assert(#lights == 2)
		assert(lights[1].id == "1")
		assert(lights[1].name == "Desk")
		assert(lights[1].on == true)
		assert(lights[1].bri == 254)
		assert(lights[1].brightness == 100)
		assert(lights[1].ct == 370)
		assert(lights[1].temperature == 2703)
		assert(lights[1].reachable == true)
		assert(lights[2].on == false)
		assert(lights[2].temperature == nil)
	`)
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, reader.users)
}

func TestHueGroups(t *testing.T) {
	r, _, _ := newTestRunner()

	err := r.RunString(context.Background(), "groups", `
		local hue = require("hue")
		local groups, err = hue.groups()
		assert(err == nil, err)
		assert(#groups == 1)
		local g = groups[1]
		assert(g.name == "Office")
		assert(g.class == "Office")
		assert(#g.lights == 2 and g.lights[2] == "2")
		assert(g.any_on == true and g.all_on == false)
		assert(g.bri == 128 and g.brightness == 50)
	`)
	require.NoError(t, err)
}

func TestHueLights_ReaderError(t *testing.T) {
	r, reader, _ := newTestRunner()
	reader.err = errors.New("bridge transport failure")

	err := r.RunString(context.Background(), "lights-error", `
		local hue = require("hue")
		local lights, err = hue.lights()
		assert(lights == nil)
		assert(err == "bridge transport failure", err)
	`)
	require.NoError(t, err)
}

func TestHueSetLight_ConvertsUnits(t *testing.T) {
	r, _, applier := newTestRunner()

	err := r.RunString(context.Background(), "set-light", `
		local hue = require("hue")
		local ok, err = hue.set_light("3", { brightness = 50, temperature = 2700, on = true })
		assert(ok == true, err)
		assert(err == nil)
	`)
	require.NoError(t, err)

	require.Len(t, applier.calls, 1)
	call := applier.calls[0]
	assert.Equal(t, "user", call.username)
	assert.Equal(t, []apply.Target{{Kind: apply.KindLight, ID: "3"}}, call.targets)
	assert.Equal(t, hue.StateChange{}.WithBri(128).WithCT(370).WithOn(true), call.change)
}

func TestHueSetGroup_NumericID(t *testing.T) {
	r, _, applier := newTestRunner()

	err := r.RunString(context.Background(), "set-group", `
		local hue = require("hue")
		assert(hue.set_group(2, { on = false }))
	`)
	require.NoError(t, err)

	require.Len(t, applier.calls, 1)
	assert.Equal(t, []apply.Target{{Kind: apply.KindGroup, ID: "2"}}, applier.calls[0].targets)
	assert.Equal(t, hue.StateChange{}.WithOn(false), applier.calls[0].change)
}

func TestHueSet_InvalidInput(t *testing.T) {
	r, _, applier := newTestRunner()

	err := r.RunString(context.Background(), "invalid", `
		local hue = require("hue")

		local ok, err = hue.set_light("1", { brightness = 150 })
		assert(ok == false)
		assert(string.find(err, "out of range"), err)

		ok, err = hue.set_light("1", { temperature = 0 })
		assert(ok == false and string.find(err, "out of range"), err)

		ok, err = hue.set_light("1", {})
		assert(ok == false and string.find(err, "no state given"), err)

		ok, err = hue.set_light("1", { on = "yes" })
		assert(ok == false and err == "on must be a boolean", err)

		ok, err = hue.set_light(1.5, { on = true })
		assert(ok == false and string.find(err, "invalid id"), err)

		ok, err = hue.set_light(1, 50)
		assert(ok == false and err == "state must be a table", err)

		ok, err = hue.set_group(1)
		assert(ok == false and err == "state must be a table", err)
	`)
	require.NoError(t, err)
	assert.Empty(t, applier.calls)
}

func TestHueSet_ApplyError(t *testing.T) {
	r, _, applier := newTestRunner()
	applier.err = errors.New("light 9: bridge error 3")

	err := r.RunString(context.Background(), "apply-error", `
		local hue = require("hue")
		local ok, err = hue.set_light("9", { on = true })
		assert(ok == false)
		assert(err == "light 9: bridge error 3", err)
	`)
	require.NoError(t, err)
	assert.Len(t, applier.calls, 1)
}

func TestLogModule(t *testing.T) {
	buf := captureLogs(t)
	r, _, _ := newTestRunner()

	err := r.RunString(context.Background(), "log", `
		local log = require("log")
		log.info("hello from lua", { room = "office", count = 3, ids = { "1", "2" } })
		log.warn("careful")
	`)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"message":"hello from lua"`)
	assert.Contains(t, out, `"source":"lua"`)
	assert.Contains(t, out, `"room":"office"`)
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"ids":["1","2"]`)
	assert.Contains(t, out, `"level":"warn"`)
}

func TestRunString_ScriptError(t *testing.T) {
	r, _, _ := newTestRunner()

	err := r.RunString(context.Background(), "broken", `error("boom")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunString_ContextCancelled(t *testing.T) {
	r, _, _ := newTestRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.RunString(ctx, "spin", `while true do end`)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunFile(t *testing.T) {
	r, _, applier := newTestRunner()
	path := filepath.Join(t.TempDir(), "evening.lua")
	require.NoError(t, os.WriteFile(path, []byte(`
		local hue = require("hue")
		local lights = hue.lights()
		for _, l in ipairs(lights) do
			hue.set_light(l.id, { brightness = 20 })
		end
	`), 0o644))

	require.NoError(t, r.RunFile(context.Background(), path))
	require.Len(t, applier.calls, 2)
	assert.Equal(t, "2", applier.calls[1].targets[0].ID)

	err := r.RunFile(context.Background(), filepath.Join(t.TempDir(), "missing.lua"))
	assert.Error(t, err)
}
