package cropper

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/menta2k/focuspoint/pkg/analyzer"
	"github.com/menta2k/focuspoint/pkg/backend"
	"github.com/menta2k/focuspoint/pkg/processing"
	"github.com/menta2k/focuspoint/pkg/types"
)

// DefaultMaxSize caps the canvas of a recipe that sets no MaxWidth/MaxHeight
const DefaultMaxSize = 2000

// StepKind is the operation of a recipe step
type StepKind string

const (
	// StepImage places an image file at the canvas origin
	StepImage StepKind = "IMAGE"
	// StepCrop crops the canvas
	StepCrop StepKind = "CROP"
)

// Step is one operation of a Recipe
type Step struct {
	Kind StepKind `json:"kind"`
	// File, Width and Height apply to StepImage. A zero size keeps the decoded size.
	File   string `json:"file,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	// Crop applies to StepCrop
	Crop image.Rectangle `json:"crop,omitempty"`
}

// Recipe is a declarative image composition rendered in one pass
type Recipe struct {
	Format string `json:"format"`
	// Width and Height are the canvas size
	Width  int `json:"width"`
	Height int `json:"height"`
	// MaxWidth and MaxHeight cap the canvas; zero means DefaultMaxSize
	MaxWidth              int    `json:"max_width"`
	MaxHeight             int    `json:"max_height"`
	TransparentBackground bool   `json:"transparent_background"`
	Quality               int    `json:"quality"`
	Steps                 []Step `json:"steps"`
}

// Pipeline is the composition-pipeline executor
type Pipeline struct {
	Quality   int
	processor *processing.Processor
	analyzer  *analyzer.ImageAnalyzer
}

// NewPipeline creates the composition-pipeline executor
func NewPipeline(quality int) *Pipeline {
	return &Pipeline{
		Quality:   ClampQuality(quality),
		processor: processing.NewProcessor(),
		analyzer:  analyzer.New(),
	}
}

// Recipe builds the place-then-crop recipe for src. The canvas cap is set to
// the source size, otherwise images larger than DefaultMaxSize get truncated.
func (p *Pipeline) Recipe(src, dst string, size types.Dimensions, rect types.CropRectangle) Recipe {
	return Recipe{
		Format:                processing.FormatFromPath(dst),
		Width:                 size.Width,
		Height:                size.Height,
		MaxWidth:              size.Width,
		MaxHeight:             size.Height,
		TransparentBackground: true,
		Quality:               p.Quality,
		Steps: []Step{
			{Kind: StepImage, File: src, Width: size.Width, Height: size.Height},
			{Kind: StepCrop, Crop: rect.Rect()},
		},
	}
}

// Crop renders the recipe for rect and writes it to dst
func (p *Pipeline) Crop(ctx context.Context, src, dst string, rect types.CropRectangle) error {
	info, err := p.analyzer.Inspect(src)
	if err != nil {
		return failure(backend.CompositionPipeline, src, dst, "", err)
	}
	if !rect.Within(info.Dimensions) {
		return failure(backend.CompositionPipeline, src, dst, "",
			fmt.Errorf("crop %s outside source %s", rect, info.Dimensions))
	}

	recipe := p.Recipe(src, dst, info.Dimensions, rect)
	img, err := p.Render(ctx, recipe)
	if err != nil {
		return failure(backend.CompositionPipeline, src, dst, "", err)
	}

	if err := p.processor.SaveImage(img, dst, recipe.Format, recipe.Quality, false); err != nil {
		return failure(backend.CompositionPipeline, src, dst, "", err)
	}
	return nil
}

// Render executes the recipe steps in order on a fresh canvas
func (p *Pipeline) Render(ctx context.Context, r Recipe) (image.Image, error) {
	maxW, maxH := r.MaxWidth, r.MaxHeight
	if maxW <= 0 {
		maxW = DefaultMaxSize
	}
	if maxH <= 0 {
		maxH = DefaultMaxSize
	}
	w, h := min(r.Width, maxW), min(r.Height, maxH)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid canvas %dx%d", r.Width, r.Height)
	}

	bg := color.Color(color.White)
	if r.TransparentBackground {
		bg = color.Transparent
	}
	canvas := imaging.New(w, h, bg)

	for i, step := range r.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch step.Kind {
		case StepImage:
			img, err := p.processor.LoadImage(step.File)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			b := img.Bounds()
			if step.Width > 0 && step.Height > 0 && (b.Dx() != step.Width || b.Dy() != step.Height) {
				img = imaging.Resize(img, step.Width, step.Height, imaging.Lanczos)
				b = img.Bounds()
			}
			cb := canvas.Bounds()
			if b.Dx() > cb.Dx() || b.Dy() > cb.Dy() {
				img = imaging.Fit(img, cb.Dx(), cb.Dy(), imaging.Lanczos)
			}
			canvas = imaging.Paste(canvas, img, image.Point{})

		case StepCrop:
			area := step.Crop.Intersect(canvas.Bounds())
			if area.Empty() {
				return nil, fmt.Errorf("step %d: crop %v outside canvas %v", i, step.Crop, canvas.Bounds())
			}
			canvas = imaging.Crop(canvas, area)

		default:
			return nil, fmt.Errorf("step %d: unknown kind %q", i, step.Kind)
		}
	}

	return canvas, nil
}
