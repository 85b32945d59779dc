package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lucia/internal/app"
	"github.com/dokzlo13/lucia/internal/config"
)

const usageText = `Usage: lucia [-c config] [-v] <command> [flags]

Commands:
  discover    Print the first Hue bridge found on the local network
  configure   Pair with a bridge and store its credential
  devices     List all lights known by the configured bridge
  groups      List all groups known by the configured bridge
  light       Set brightness, temperature or power of lights and groups
  history     Show recent pairing and state change results
  script      Run a Lua script against the configured bridge

Run 'lucia <command> -h' for command flags.

Global flags:
`

// errUsage is returned after usage was printed for bad invocations.
var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("lucia", flag.ContinueOnError)
	global.Usage = func() {
		fmt.Fprint(global.Output(), usageText)
		global.PrintDefaults()
	}

	// Support both -c and --config for config path
	var configPath string
	global.StringVar(&configPath, "config", config.DefaultPath(), "Path to configuration file")
	global.StringVar(&configPath, "c", config.DefaultPath(), "Path to configuration file (shorthand)")
	verbose := global.Bool("v", false, "Enable debug logging")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errUsage
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.Log.GetLevel()
	if *verbose {
		level = "debug"
	}
	setupLogging(level, cfg.Log.JSON, cfg.Log.Colors)

	name, cmdArgs := global.Arg(0), global.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(global.Output(), "unknown command %q\n\n", name)
		global.Usage()
		return errUsage
	}

	ctx := app.SignalContext()
	application := app.New(cfg, configPath)
	defer application.Close()

	log.Debug().Str("command", name).Str("config", configPath).Str("run_id", application.RunID()).Msg("Starting lucia")
	return cmd(ctx, application, cmdArgs)
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
