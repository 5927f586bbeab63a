package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/focuspoint"
	"github.com/menta2k/focuspoint/internal/config"
	"github.com/menta2k/focuspoint/pkg/backend"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

type cliArgs struct {
	ConfigFile string `help:"Configuration file (default ~/.config/focuspoint/config.json)" type:"path" name:"config-file" short:"c"`
	Verbose    bool   `help:"Enable verbose logging" short:"v"`
	Quality    int    `help:"Output quality, clamped to [10,100]"`
	Rules      string `help:"Backend rules, e.g. \"png:composition-pipeline;*:external-tool\""`
	Convert    string `help:"External raster tool command, e.g. \"gm convert\""`

	Compute computeCmd `cmd:"" help:"Print the crop rectangle for a size, ratio and focus point"`
	Crop    cropCmd    `cmd:"" help:"Crop an image around its focus point"`
	Batch   batchCmd   `cmd:"" help:"Run a JSON lines manifest of crops"`
	Suggest suggestCmd `cmd:"" help:"Suggest a focus point for an image"`
	Data    dataCmd    `cmd:"" help:"Print derived fp: values"`
	Config  configCmd  `cmd:"" help:"Manage the configuration file"`
	Version versionCmd `cmd:"" help:"Print the version"`
}

// app is what every command runs against
type app struct {
	ctx    context.Context
	cfg    *config.Config
	engine *focuspoint.Engine
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("focuspoint"),
		kong.Description("Focus point aware image cropping"),
		kong.UsageOnError(),
	)

	level := zerolog.InfoLevel
	if args.Verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
	})).Level(level)
	zerolog.DefaultContextLogger = &log.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = log.Logger.WithContext(ctx)

	cfg, err := loadConfig(ctx, args.ConfigFile)
	if err != nil {
		return err
	}
	if args.Quality != 0 {
		cfg.Quality = args.Quality
	}
	if args.Rules != "" {
		cfg.BackendRules = args.Rules
	}
	if args.Convert != "" {
		cfg.ExternalTool.Command = args.Convert
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.BackendRules != "" {
		_, skipped := backend.ParseRules(cfg.BackendRules)
		for _, entry := range skipped {
			log.Ctx(ctx).Warn().Str("rule", entry).Msg("skipping invalid backend rule")
		}
	}

	return cliCtx.Run(&app{
		ctx:    ctx,
		cfg:    cfg,
		engine: focuspoint.NewWithOptions(cfg.Options()),
	})
}

// loadConfig reads path, or the default location when path is empty. A
// missing default file means defaults.
func loadConfig(ctx context.Context, path string) (*config.Config, error) {
	explicit := path != ""
	if !explicit {
		path = config.GetConfigPath()
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			log.Ctx(ctx).Debug().Str("path", path).Msg("no configuration file, using defaults")
			return config.Default(), nil
		}
		return nil, err
	}
	log.Ctx(ctx).Debug().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

type versionCmd struct{}

func (cmd *versionCmd) Run() error {
	fmt.Println(focuspoint.GetVersion())
	return nil
}
