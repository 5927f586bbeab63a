// Package cropper writes a crop rectangle of a source image to a destination
// file through one of three interchangeable executors, chosen per file
// extension by a backend.Selector.
package cropper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/menta2k/focuspoint/internal/utils"
	"github.com/menta2k/focuspoint/pkg/analyzer"
	"github.com/menta2k/focuspoint/pkg/backend"
	"github.com/menta2k/focuspoint/pkg/geometry"
	"github.com/menta2k/focuspoint/pkg/types"
)

// ErrCropExecutionFailed is matched by every error an executor returns
var ErrCropExecutionFailed = errors.New("crop execution failed")

// Quality bounds for encoders and the external tool
const (
	MinQuality     = 10
	MaxQuality     = 100
	DefaultQuality = 75
)

// ClampQuality forces q into [MinQuality, MaxQuality]. Zero means unset and
// yields DefaultQuality.
func ClampQuality(q int) int {
	switch {
	case q == 0:
		return DefaultQuality
	case q < MinQuality:
		return MinQuality
	case q > MaxQuality:
		return MaxQuality
	}
	return q
}

// Executor produces dst containing exactly the rect pixels of src
type Executor interface {
	Crop(ctx context.Context, src, dst string, rect types.CropRectangle) error
}

// ExecutionError describes a failed executor run
type ExecutionError struct {
	Backend     backend.Name
	Source      string
	Destination string
	// Output is the diagnostic output of the underlying tool, if any
	Output string
	Err    error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("crop via %s (%s -> %s) failed: %v", e.Backend, e.Source, e.Destination, e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCropExecutionFailed) hold
func (e *ExecutionError) Is(target error) bool {
	return target == ErrCropExecutionFailed
}

func failure(name backend.Name, src, dst, output string, err error) error {
	return &ExecutionError{Backend: name, Source: src, Destination: dst, Output: output, Err: err}
}

// Options configures a Cropper. The zero value is usable.
type Options struct {
	// Quality is the encoder quality, see ClampQuality
	Quality int
	// Rules is the backend rule list, backend.DefaultRules when empty
	Rules string
	// Command is the external raster tool, "convert" when empty
	Command string
}

// Cropper dispatches crops to executors through a lookup table
type Cropper struct {
	selector  *backend.Selector
	executors map[backend.Name]Executor
	analyzer  *analyzer.ImageAnalyzer
}

// New creates a Cropper with the three built-in executors
func New(opts Options) *Cropper {
	rules := opts.Rules
	if rules == "" {
		rules = backend.DefaultRules
	}
	quality := ClampQuality(opts.Quality)

	return &Cropper{
		selector: backend.ParseSelector(rules),
		executors: map[backend.Name]Executor{
			backend.ExternalTool:        NewExternalTool(opts.Command, quality),
			backend.CompositionPipeline: NewPipeline(quality),
			backend.CanvasCopy:          NewCanvasCopy(quality),
		},
		analyzer: analyzer.New(),
	}
}

// SetExecutor replaces the executor registered for name
func (c *Cropper) SetExecutor(name backend.Name, e Executor) {
	c.executors[name] = e
}

// Select returns the executor name for a file path
func (c *Cropper) Select(path string) backend.Name {
	return c.selector.Select(filepath.Ext(path))
}

// Crop selects the executor by the source extension and runs it
func (c *Cropper) Crop(ctx context.Context, src, dst string, rect types.CropRectangle) error {
	return c.CropWith(ctx, c.Select(src), src, dst, rect)
}

// CropWith runs the named executor. rect must lie inside the source, which is
// checked from the image header before anything runs.
//
// The executor writes to a temporary file next to dst that is renamed over dst
// on success. A failed run removes only that temporary file, so an existing
// dst, or src itself for an in-place crop, is left untouched. There is no retry
// with another executor.
func (c *Cropper) CropWith(ctx context.Context, name backend.Name, src, dst string, rect types.CropRectangle) error {
	logger := zerolog.Ctx(ctx).With().
		Str("backend", string(name)).
		Str("source", src).
		Str("destination", dst).
		Str("geometry", rect.Geometry()).
		Logger()

	if rect.Width <= 0 || rect.Height <= 0 || rect.X < 0 || rect.Y < 0 {
		return fmt.Errorf("%w: crop rectangle %s", geometry.ErrInvalidDimensions, rect)
	}

	e, ok := c.executors[name]
	if !ok {
		return failure(name, src, dst, "", fmt.Errorf("unknown executor %q", name))
	}

	info, err := c.analyzer.Inspect(src)
	if err != nil {
		return failure(name, src, dst, "", err)
	}
	if !rect.Within(info.Dimensions) {
		return fmt.Errorf("%w: crop rectangle %s outside source %s", geometry.ErrInvalidDimensions, rect, info.Dimensions)
	}

	tmp, err := tempPath(dst)
	if err != nil {
		return failure(name, src, dst, "", err)
	}

	logger.Debug().Str("temp", tmp).Msg("cropping")
	err = e.Crop(ctx, src, tmp, rect)
	if err == nil {
		err = commit(tmp, dst)
	}
	if err != nil {
		if rmErr := utils.RemoveIfExists(tmp); rmErr != nil {
			logger.Warn().Err(rmErr).Str("temp", tmp).Msg("failed to remove partial output")
		}
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			execErr.Destination = dst
		} else {
			err = failure(name, src, dst, "", err)
		}
		return err
	}
	logger.Debug().Msg("cropped")
	return nil
}

// tempPath reserves a file in the directory of dst carrying the same
// extension, so executors pick the same output format.
func tempPath(dst string) (string, error) {
	ext := filepath.Ext(dst)
	stem := strings.TrimSuffix(filepath.Base(dst), ext)
	f, err := os.CreateTemp(filepath.Dir(dst), "."+stem+".*"+ext)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Chmod(0644); err != nil {
		f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// commit moves a finished crop into place. An executor that reported success
// without writing anything is a failure.
func commit(tmp, dst string) error {
	fi, err := os.Stat(tmp)
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return errors.New("executor wrote no output")
	}
	return os.Rename(tmp, dst)
}
