package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/focuspoint"
	"github.com/menta2k/focuspoint/internal/config"
	"github.com/menta2k/focuspoint/internal/utils"
	"github.com/menta2k/focuspoint/pkg/backend"
	"github.com/menta2k/focuspoint/pkg/fpdata"
	"github.com/menta2k/focuspoint/pkg/geometry"
	"github.com/menta2k/focuspoint/pkg/ollama"
	"github.com/menta2k/focuspoint/pkg/types"
	"github.com/menta2k/focuspoint/pkg/vision"
)

type focusFlags struct {
	X int `help:"Horizontal focus in [-100,100], 100 is the right edge" default:"0"`
	Y int `help:"Vertical focus in [-100,100], 100 is the top edge" default:"0"`
}

func (f focusFlags) point() types.FocusPoint {
	return types.FocusPoint{X: f.X, Y: f.Y}
}

type computeCmd struct {
	Width  int    `help:"Source width in pixels" required:""`
	Height int    `help:"Source height in pixels" required:""`
	Ratio  string `help:"Aspect ratio, e.g. 16:9" required:""`
	focusFlags
}

type computeOutput struct {
	Rectangle   types.CropRectangle `json:"rectangle"`
	Geometry    string              `json:"geometry"`
	Orientation string              `json:"orientation"`
}

func (cmd *computeCmd) Run(a *app) error {
	rect, err := a.engine.ComputeCrop(cmd.Width, cmd.Height, cmd.Ratio, cmd.X, cmd.Y)
	if err != nil {
		return err
	}
	src := types.Dimensions{Width: cmd.Width, Height: cmd.Height}
	return printJSON(os.Stdout, computeOutput{
		Rectangle:   rect,
		Geometry:    rect.Geometry(),
		Orientation: geometry.Orientation(src, rect.Size()).String(),
	})
}

type cropCmd struct {
	Source  string `arg:"" help:"Source image" type:"existingfile"`
	Ratio   string `help:"Aspect ratio, e.g. 16:9" required:""`
	Out     string `help:"Destination file (default derived from the source name)" short:"o"`
	Backend string `help:"Force a backend: external-tool, composition-pipeline or canvas-copy"`
	Debug   bool   `help:"Also write a PNG with the crop rectangle and focus point drawn"`
	focusFlags
}

func (cmd *cropCmd) Run(a *app) error {
	req, err := newRequest(a.cfg, cmd.Source, cmd.Out, cmd.Ratio, cmd.point(), cmd.Backend)
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(filepath.Dir(req.Destination)); err != nil {
		return err
	}

	res, err := a.engine.CropFile(a.ctx, req)
	if err != nil {
		return err
	}
	log.Ctx(a.ctx).Info().
		Str("destination", req.Destination).
		Str("geometry", res.Rectangle.Geometry()).
		Str("backend", string(res.Backend)).
		Msg("cropped")

	if cmd.Debug {
		dbg := utils.GenerateOutputFilename(req.Destination, "", "_debug", "", "png")
		if err := a.engine.DebugOverlay(req.Source, dbg, res.Rectangle, req.Focus); err != nil {
			return fmt.Errorf("failed to write debug overlay: %w", err)
		}
		log.Ctx(a.ctx).Info().Str("path", dbg).Msg("debug overlay written")
	}

	return printJSON(os.Stdout, res)
}

func newRequest(cfg *config.Config, src, dst, ratio string, focus types.FocusPoint, backendName string) (focuspoint.Request, error) {
	req := focuspoint.Request{
		Source:      src,
		Destination: dst,
		Ratio:       ratio,
		Focus:       focus,
	}
	if req.Destination == "" {
		req.Destination = utils.GenerateOutputFilename(src, cfg.Output.Dir, cfg.Output.Suffix, ratio, "")
	}
	if backendName != "" {
		name, ok := backend.Lookup(backendName)
		if !ok {
			return req, fmt.Errorf("unknown backend %q", backendName)
		}
		req.Backend = name
	}
	return req, nil
}

type batchCmd struct {
	Manifest string `arg:"" help:"JSON lines file of {\"source\",\"destination\",\"ratio\",\"x\",\"y\"} objects, - for stdin" default:"-" optional:""`
	Workers  int    `help:"Parallel crops (default from config, 0 means one per CPU)"`
}

type manifestEntry struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Ratio       string `json:"ratio"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	Backend     string `json:"backend"`
}

func (cmd *batchCmd) Run(a *app) error {
	in := io.Reader(os.Stdin)
	if cmd.Manifest != "-" {
		f, err := os.Open(cmd.Manifest)
		if err != nil {
			return fmt.Errorf("failed to open manifest: %w", err)
		}
		defer f.Close()
		in = f
	}

	reqs, err := readManifest(a.cfg, in)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		log.Ctx(a.ctx).Warn().Msg("no requests in manifest")
		return nil
	}
	for _, req := range reqs {
		if err := utils.EnsureDir(filepath.Dir(req.Destination)); err != nil {
			return err
		}
	}

	engine := a.engine
	if cmd.Workers > 0 {
		opts := a.cfg.Options()
		opts.Workers = cmd.Workers
		engine = focuspoint.NewWithOptions(opts)
	}

	results, err := engine.CropBatch(a.ctx, reqs)
	var done []focuspoint.Result
	for _, res := range results {
		if res.Request.Destination != "" {
			done = append(done, res)
		}
	}
	printJSONL(done)

	if err != nil {
		log.Ctx(a.ctx).Error().Err(err).Int("ok", len(done)).Int("total", len(reqs)).Msg("finished with errors")
		return err
	}
	log.Ctx(a.ctx).Info().Int("total", len(reqs)).Msg("batch finished")
	return nil
}

func readManifest(cfg *config.Config, r io.Reader) ([]focuspoint.Request, error) {
	var reqs []focuspoint.Request
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var entry manifestEntry
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", line, err)
		}
		if entry.Source == "" {
			return nil, fmt.Errorf("manifest line %d: missing source", line)
		}
		req, err := newRequest(cfg, entry.Source, entry.Destination, entry.Ratio,
			types.FocusPoint{X: entry.X, Y: entry.Y}, entry.Backend)
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", line, err)
		}
		reqs = append(reqs, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return reqs, nil
}

type suggestCmd struct {
	Source string `arg:"" help:"Source image" type:"existingfile"`
	Method string `help:"smartcrop or model (default from config)"`
	URL    string `help:"Ollama server URL" name:"url"`
	Model  string `help:"Ollama vision model"`
}

func (cmd *suggestCmd) Run(a *app) error {
	s := a.cfg.Suggest
	if cmd.Method != "" {
		s.Method = cmd.Method
	}
	if cmd.URL != "" {
		s.OllamaURL = cmd.URL
	}
	if cmd.Model != "" {
		s.Model = cmd.Model
	}

	var suggester vision.Suggester
	switch s.Method {
	case "", config.MethodSmartcrop:
		suggester = vision.NewSmartcropSuggester()
	case config.MethodModel:
		client, err := ollama.NewClient(s.OllamaURL, nil)
		if err != nil {
			return err
		}
		suggester = vision.NewModelSuggester(client, s.Model)
	default:
		return fmt.Errorf("unknown method %q", s.Method)
	}

	sug, err := a.engine.SuggestFocus(a.ctx, cmd.Source, suggester)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, sug)
}

type dataCmd struct {
	Source string   `arg:"" help:"Source image" type:"existingfile"`
	Keys   []string `arg:"" optional:"" help:"Keys such as fp:x or yp_positive (default all)"`
	focusFlags
}

func (cmd *dataCmd) Run(a *app) error {
	info, err := a.engine.Inspect(cmd.Source)
	if err != nil {
		return err
	}
	src := fpdata.Source{Focus: cmd.point(), Dimensions: info.Dimensions}

	keys := cmd.Keys
	if len(keys) == 0 {
		keys = fpdata.Keys()
	}
	for _, key := range keys {
		v, ok := fpdata.Resolve(key, src)
		if !ok {
			return fmt.Errorf("unknown key %q", key)
		}
		fmt.Printf("%s=%s\n", key, v)
	}
	return nil
}

type configCmd struct {
	Init configInitCmd `cmd:"" help:"Write a configuration file with default values"`
}

type configInitCmd struct {
	Path  string `arg:"" optional:"" help:"Destination (default ~/.config/focuspoint/config.json)" type:"path"`
	Force bool   `help:"Overwrite an existing file"`
}

func (cmd *configInitCmd) Run(a *app) error {
	path := cmd.Path
	if path == "" {
		path = config.GetConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !cmd.Force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := config.Default().SaveToFile(path); err != nil {
		return err
	}
	log.Ctx(a.ctx).Info().Str("path", path).Msg("configuration written")
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONL[T any](data []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range data {
		if err := enc.Encode(item); err != nil {
			log.Error().Err(err).Msg("Failed to encode item to JSON")
			continue
		}
	}
}
