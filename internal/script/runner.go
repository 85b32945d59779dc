// Package script runs user Lua scripts against the bridge.
//
// A script sees two preloaded modules:
//
//	local hue = require("hue")
//	local log = require("log")
//
//	local lights, err = hue.lights()
//	if err then
//	    log.error("listing failed", { err = err })
//	    return
//	end
//	for _, l in ipairs(lights) do
//	    hue.set_light(l.id, { brightness = 40, temperature = 2700 })
//	end
//
// Every script gets a fresh VM. The VM is bound to the caller's context, so
// cancelling it aborts a running script.
package script

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lucia/internal/apply"
	"github.com/dokzlo13/lucia/internal/hue"
)

// Reader lists bridge resources.
type Reader interface {
	Lights(ctx context.Context, username string) ([]hue.Light, error)
	Groups(ctx context.Context, username string) ([]hue.Group, error)
}

// Applier sends a state change to targets. Implemented by *apply.Applier.
type Applier interface {
	Apply(ctx context.Context, username string, targets []apply.Target, change hue.StateChange) (apply.Report, error)
}

// Runner executes Lua scripts.
type Runner struct {
	reader   Reader
	applier  Applier
	username string
}

// NewRunner creates a Runner acting as username.
func NewRunner(reader Reader, applier Applier, username string) *Runner {
	return &Runner{
		reader:   reader,
		applier:  applier,
		username: username,
	}
}

// RunFile executes the script at path.
func (r *Runner) RunFile(ctx context.Context, path string) error {
	log.Info().Str("path", path).Msg("Running Lua script")
	return r.run(ctx, func(L *lua.LState) error { return L.DoFile(path) })
}

// RunString executes source. name is used in log lines only.
func (r *Runner) RunString(ctx context.Context, name, source string) error {
	log.Debug().Str("name", name).Msg("Running Lua chunk")
	return r.run(ctx, func(L *lua.LState) error { return L.DoString(source) })
}

func (r *Runner) run(ctx context.Context, exec func(*lua.LState) error) error {
	L := lua.NewState()
	defer L.Close()

	L.SetContext(ctx)
	r.registerModules(L)

	if err := exec(L); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("lua script aborted: %w", ctxErr)
		}
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	return nil
}

func (r *Runner) registerModules(L *lua.LState) {
	L.PreloadModule("log", newLogModule().Loader)
	L.PreloadModule("hue", newHueModule(r.reader, r.applier, r.username).Loader)
}
