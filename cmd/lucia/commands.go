package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/dokzlo13/lucia/internal/app"
)

type command func(ctx context.Context, a *app.App, args []string) error

var commands = map[string]command{
	"discover":  discoverCmd,
	"configure": configureCmd,
	"devices":   devicesCmd,
	"groups":    groupsCmd,
	"light":     lightCmd,
	"history":   historyCmd,
	"script":    scriptCmd,
}

func newFlagSet(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: lucia %s [flags] %s\n\nFlags:\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

func discoverCmd(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("discover", "")
	timeout := fs.Duration("timeout", 0, "How long to listen for bridge announcements (default from config, 5s)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.Discover(ctx, *timeout)
}

func configureCmd(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("configure", "")
	var req app.ConfigureRequest
	fs.StringVar(&req.Address, "address", "", "Bridge IP address, optionally with port (required)")
	fs.StringVar(&req.Address, "a", "", "Bridge IP address (shorthand)")
	fs.DurationVar(&req.PollInterval, "poll-interval", 0, "Delay between pairing attempts (default from config, 3s)")
	fs.DurationVar(&req.MaxDuration, "max-poll", 0, "Give up pairing after this long (default from config, 5m)")
	fs.StringVar(&req.DeviceType, "device-type", "", "Device label registered on the bridge (default app_name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if req.Address == "" {
		fs.Usage()
		return errUsage
	}
	return a.Configure(ctx, req)
}

func devicesCmd(ctx context.Context, a *app.App, args []string) error {
	if err := newFlagSet("devices", "").Parse(args); err != nil {
		return err
	}
	return a.Devices(ctx)
}

func groupsCmd(ctx context.Context, a *app.App, args []string) error {
	if err := newFlagSet("groups", "").Parse(args); err != nil {
		return err
	}
	return a.Groups(ctx)
}

func lightCmd(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("light", "<light-id>... (flags may appear before or after ids)")
	var req app.LightRequest

	fs.Func("b", "Brightness percentage (0-100)", func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		req.Brightness = &v
		return nil
	})
	fs.Func("t", "Color temperature in kelvin (range is device dependent)", func(s string) error {
		v, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return err
		}
		k := uint16(v)
		req.Temperature = &k
		return nil
	})
	fs.Func("p", "Power: on or off", func(s string) error {
		on, err := parsePower(s)
		if err != nil {
			return err
		}
		req.Power = &on
		return nil
	})
	fs.Func("g", "Group id to update (repeatable)", func(s string) error {
		req.GroupIDs = append(req.GroupIDs, s)
		return nil
	})
	ids, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	req.LightIDs = ids

	return a.Light(ctx, req)
}

// parseInterspersed parses flags that may appear before, between or after
// positional arguments, which it returns in order. Everything after "--" is
// positional.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if consumed := len(args) - len(rest); consumed > 0 && args[consumed-1] == "--" {
			return append(positional, rest...), nil
		}
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func historyCmd(_ context.Context, a *app.App, args []string) error {
	fs := newFlagSet("history", "")
	limit := fs.Int("n", 20, "Number of entries to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.History(*limit)
}

func scriptCmd(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("script", "<file.lua>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	return a.Script(ctx, fs.Arg(0))
}

func parsePower(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	on, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("want on or off, got %q", s)
	}
	return on, nil
}
