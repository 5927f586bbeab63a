// Package focuspoint crops images around an editor-chosen focus point.
//
// A focus point is stored as two integers in [-100, 100], 0 being the image
// center. For a requested aspect ratio the engine computes the largest box of
// that ratio that fits the source, slides it along the axis with slack so the
// focus point stays visible, and writes the crop through one of three
// interchangeable backends chosen by file extension.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/menta2k/focuspoint"
//		"github.com/menta2k/focuspoint/pkg/types"
//	)
//
//	func main() {
//		engine := focuspoint.New()
//
//		res, err := engine.CropFile(context.Background(), focuspoint.Request{
//			Source:      "photo.png",
//			Destination: "photo_1x1.png",
//			Ratio:       "1:1",
//			Focus:       types.FocusPoint{X: 100, Y: 0},
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Printf("cropped %s via %s\n", res.Rectangle, res.Backend)
//	}
//
// The package consists of these components:
//
// 1. Geometry (pkg/geometry): ratio parsing, box sizing and focus positioning
// 2. Backend (pkg/backend): extension based executor selection
// 3. Cropper (pkg/cropper): the external-tool, composition-pipeline and canvas-copy executors
// 4. Vision (pkg/vision): focus point suggestion for images without one
//
// Backends:
//
//   - external-tool runs ImageMagick "convert -crop WxH+X+Y"
//   - composition-pipeline renders a place-then-crop recipe with imaging
//   - canvas-copy copies the window into a new buffer; transparency is dropped
package focuspoint

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/menta2k/focuspoint/internal/utils"
	"github.com/menta2k/focuspoint/pkg/analyzer"
	"github.com/menta2k/focuspoint/pkg/backend"
	"github.com/menta2k/focuspoint/pkg/cropper"
	"github.com/menta2k/focuspoint/pkg/geometry"
	"github.com/menta2k/focuspoint/pkg/processing"
	"github.com/menta2k/focuspoint/pkg/types"
	"github.com/menta2k/focuspoint/pkg/vision"
)

// Version of the focuspoint library
const Version = "1.0.0"

// ErrDuplicateDestination is returned by CropBatch when two requests write the same file
var ErrDuplicateDestination = errors.New("duplicate destination")

// Options configures an Engine. The zero value uses the defaults.
type Options struct {
	// Quality is the output quality, clamped to [10, 100]; 0 means 75
	Quality int
	// BackendRules is the "ext,ext:backend;..." rule list, backend.DefaultRules when empty
	BackendRules string
	// ConvertCommand is the external raster tool, "convert" when empty
	ConvertCommand string
	// Workers bounds CropBatch parallelism; 0 means runtime.NumCPU()
	Workers int
}

// Engine computes and executes focus point crops. It holds no mutable state
// and is safe for concurrent use.
type Engine struct {
	opts      Options
	analyzer  *analyzer.ImageAnalyzer
	cropper   *cropper.Cropper
	processor *processing.Processor
}

// New creates an Engine with default options
func New() *Engine {
	return NewWithOptions(Options{})
}

// NewWithOptions creates an Engine with custom options
func NewWithOptions(opts Options) *Engine {
	return &Engine{
		opts:     opts,
		analyzer: analyzer.New(),
		cropper: cropper.New(cropper.Options{
			Quality: opts.Quality,
			Rules:   opts.BackendRules,
			Command: opts.ConvertCommand,
		}),
		processor: processing.NewProcessor(),
	}
}

// Request describes one crop
type Request struct {
	Source      string           `json:"source"`
	Destination string           `json:"destination"`
	Ratio       string           `json:"ratio"`
	Focus       types.FocusPoint `json:"focus"`
	// Backend overrides the rule based selection when set
	Backend backend.Name `json:"backend,omitempty"`
}

// Result describes a finished crop
type Result struct {
	Request     Request               `json:"request"`
	Source      types.Dimensions      `json:"source"`
	Rectangle   types.CropRectangle   `json:"rectangle"`
	Orientation types.CropOrientation `json:"orientation"`
	Backend     backend.Name          `json:"backend"`
}

// ComputeCrop returns the crop rectangle for a source size, ratio and raw focus point
func (e *Engine) ComputeCrop(width, height int, ratio string, rawX, rawY int) (types.CropRectangle, error) {
	return geometry.ComputeCrop(width, height, ratio, rawX, rawY)
}

// ExecuteCrop writes rect of src to dst through the backend selected for src
func (e *Engine) ExecuteCrop(ctx context.Context, src, dst string, rect types.CropRectangle) error {
	return e.cropper.Crop(ctx, src, dst, rect)
}

// SelectBackend returns the backend the rules pick for path
func (e *Engine) SelectBackend(path string) backend.Name {
	return e.cropper.Select(path)
}

// Inspect probes the dimensions and format of an image file
func (e *Engine) Inspect(path string) (analyzer.ImageInfo, error) {
	info, err := e.analyzer.Inspect(path)
	if err != nil {
		return analyzer.ImageInfo{}, err
	}
	return info, nil
}

// CropFile computes the crop for req and writes it. Ratio and geometry errors
// are returned before anything is written.
func (e *Engine) CropFile(ctx context.Context, req Request) (Result, error) {
	ratio, err := geometry.ParseRatio(req.Ratio)
	if err != nil {
		return Result{}, err
	}

	info, err := e.Inspect(req.Source)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", cropper.ErrCropExecutionFailed, err)
	}

	rect, err := geometry.Compute(info.Dimensions, ratio, req.Focus)
	if err != nil {
		return Result{}, err
	}

	name := req.Backend
	if name == "" {
		name = e.cropper.Select(req.Source)
	} else if n, ok := backend.Lookup(string(name)); ok {
		name = n
	}

	zerolog.Ctx(ctx).Debug().
		Str("source", req.Source).
		Str("ratio", ratio.String()).
		Int("focus_x", req.Focus.X).
		Int("focus_y", req.Focus.Y).
		Str("rectangle", rect.Geometry()).
		Str("backend", string(name)).
		Msg("crop computed")

	if err := e.cropper.CropWith(ctx, name, req.Source, req.Destination, rect); err != nil {
		return Result{}, err
	}

	return Result{
		Request:     req,
		Source:      info.Dimensions,
		Rectangle:   rect,
		Orientation: geometry.Orientation(info.Dimensions, rect.Size()),
		Backend:     name,
	}, nil
}

// CropBatch runs independent requests concurrently. Results keep the request
// order; a failed request leaves a zero Result and its error is joined into the
// returned error. Requests sharing a destination are rejected before any work.
func (e *Engine) CropBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	seen := make(map[string]int, len(reqs))
	for i, req := range reqs {
		dst := filepath.Clean(req.Destination)
		if j, ok := seen[dst]; ok {
			return nil, fmt.Errorf("%w: requests %d and %d both write %s", ErrDuplicateDestination, j, i, dst)
		}
		seen[dst] = i
	}

	workers := e.opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]Result, len(reqs))
	p := pool.New().WithErrors().WithMaxGoroutines(workers)
	for i, req := range reqs {
		p.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := e.CropFile(ctx, req)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("source", req.Source).Msg("crop failed")
				return fmt.Errorf("request %d (%s): %w", i, req.Source, err)
			}
			results[i] = res
			return nil
		})
	}

	return results, p.Wait()
}

// SuggestFocus loads path and asks s for a focus point
func (e *Engine) SuggestFocus(ctx context.Context, path string, s vision.Suggester) (*vision.Suggestion, error) {
	img, err := e.processor.LoadImage(path)
	if err != nil {
		return nil, err
	}
	return s.Suggest(ctx, img)
}

// DebugOverlay writes a copy of src with the crop rectangle and focus point drawn on it
func (e *Engine) DebugOverlay(src, dst string, rect types.CropRectangle, focus types.FocusPoint) error {
	img, err := e.processor.LoadImage(src)
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(filepath.Dir(dst)); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	overlay := e.processor.CreateDebugOverlay(img, rect, focus)
	return e.processor.SaveImage(overlay, dst, "", cropper.ClampQuality(e.opts.Quality), false)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
