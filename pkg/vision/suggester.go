// Package vision suggests a focus point for images that have none stored.
package vision

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/muesli/smartcrop"
	"github.com/rs/zerolog"

	"github.com/menta2k/focuspoint/pkg/processing"
	"github.com/menta2k/focuspoint/pkg/types"
)

// Suggestion is a proposed focus point
type Suggestion struct {
	Focus types.FocusPoint `json:"focus"`
	// Cx and Cy are the subject center in [0,1], origin top-left
	Cx         float64 `json:"cx"`
	Cy         float64 `json:"cy"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// Suggester derives a focus point from image content
type Suggester interface {
	Suggest(ctx context.Context, img image.Image) (*Suggestion, error)
}

func suggestion(method string, cx, cy float64) *Suggestion {
	cx, cy = clamp(cx, 0, 1), clamp(cy, 0, 1)
	return &Suggestion{
		Focus:  types.FocusPointFromCenter(cx, cy),
		Cx:     cx,
		Cy:     cy,
		Method: method,
	}
}

// SmartcropSuggester finds the most interesting square of the image with
// smartcrop and uses its center
type SmartcropSuggester struct {
	resampler imaging.ResampleFilter
}

// NewSmartcropSuggester creates a SmartcropSuggester
func NewSmartcropSuggester() *SmartcropSuggester {
	return &SmartcropSuggester{resampler: imaging.Lanczos}
}

// resizer implements smartcrop.Resizer on top of imaging
type resizer struct {
	resampler imaging.ResampleFilter
}

func (r *resizer) Resize(img image.Image, width, height uint) image.Image {
	return imaging.Resize(img, int(width), int(height), r.resampler)
}

// Suggest runs the analysis and returns the center of the best square crop.
// smartcrop itself cannot be interrupted; a cancelled ctx only stops the wait.
func (s *SmartcropSuggester) Suggest(ctx context.Context, img image.Image) (*Suggestion, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("empty image")
	}
	side := min(b.Dx(), b.Dy())

	analyzer := smartcrop.NewAnalyzer(&resizer{resampler: s.resampler})

	type cropResult struct {
		crop image.Rectangle
		err  error
	}
	resultChan := make(chan cropResult, 1)
	go func() {
		crop, err := analyzer.FindBestCrop(img, side, side)
		resultChan <- cropResult{crop: crop, err: err}
	}()

	var crop image.Rectangle
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		if result.err != nil {
			return nil, fmt.Errorf("finding best crop: %w", result.err)
		}
		crop = result.crop
	}

	cx := (float64(crop.Min.X-b.Min.X) + float64(crop.Dx())/2) / float64(b.Dx())
	cy := (float64(crop.Min.Y-b.Min.Y) + float64(crop.Dy())/2) / float64(b.Dy())

	zerolog.Ctx(ctx).Debug().
		Str("crop", crop.String()).
		Float64("cx", cx).
		Float64("cy", cy).
		Msg("smartcrop suggestion")

	sug := suggestion("smartcrop", cx, cy)
	sug.Confidence = 1
	return sug, nil
}

// DefaultPrompt asks a vision model for the center of the dominant subject
const DefaultPrompt = `You are an image subject locator.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
    "cx": 0.0,
    "cy": 0.0
  },
  "description": "short neutral sentence (≤ 20 words)",
  "tags": ["tag1", "tag2", "tag3", "tag4", "tag5"]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels), origin at the top-left corner.
- cx, cy is the center of the visually dominant subject (prefer faces, people, animals, vehicles).
- The box should tightly include that subject.
- Description must be brief and factual. Do not guess real identities.
- Tags: lowercase, concise, no punctuation or duplicates.
- If no subject is found, return:
  {
    "primary":{"label":"none","confidence":0.0,"box":{"x":0.25,"y":0.25,"w":0.50,"h":0.50},"cx":0.5,"cy":0.5},
    "description":"centered generic scene",
    "tags":["generic","center","subject","photo","scene"]
  }
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// SubjectLocator asks a vision model where the subject of an image is.
// *ollama.Client implements it.
type SubjectLocator interface {
	LocateSubject(ctx context.Context, model, prompt, imgB64 string) (*types.AnalysisResult, error)
}

// ModelSuggester asks a vision model for the subject center
type ModelSuggester struct {
	locator   SubjectLocator
	model     string
	prompt    string
	maxDim    int
	processor *processing.Processor
}

// NewModelSuggester creates a ModelSuggester for the given model name
func NewModelSuggester(locator SubjectLocator, model string) *ModelSuggester {
	return &ModelSuggester{
		locator:   locator,
		model:     model,
		prompt:    DefaultPrompt,
		maxDim:    1024,
		processor: processing.NewProcessor(),
	}
}

// WithPrompt replaces the prompt
func (m *ModelSuggester) WithPrompt(prompt string) *ModelSuggester {
	m.prompt = prompt
	return m
}

// Suggest sends a downscaled JPEG of img to the model. A model that finds no
// subject yields the image center.
func (m *ModelSuggester) Suggest(ctx context.Context, img image.Image) (*Suggestion, error) {
	b := img.Bounds()
	imgB64, err := m.processor.PrepareImageForModel(img, "jpg", m.maxDim, 85)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	result, err := m.locator.LocateSubject(ctx, m.model, m.prompt, imgB64)
	if err != nil {
		return nil, err
	}

	// the model sees a downscaled copy; pixel answers refer to that size
	w, h := b.Dx(), b.Dy()
	if m.maxDim > 0 && (w > m.maxDim || h > m.maxDim) {
		if w >= h {
			w, h = m.maxDim, int(math.Round(float64(h)*float64(m.maxDim)/float64(w)))
		} else {
			w, h = int(math.Round(float64(w)*float64(m.maxDim)/float64(h))), m.maxDim
		}
	}

	cx, cy := subjectCenter(result.Primary, w, h)
	logger := zerolog.Ctx(ctx)

	if isFallback(result) {
		logger.Debug().Str("label", result.Primary.Label).Msg("model found no subject")
		sug := suggestion("model", 0.5, 0.5)
		sug.Label = "none"
		return sug, nil
	}

	logger.Debug().
		Str("label", result.Primary.Label).
		Float64("confidence", result.Primary.Confidence).
		Float64("cx", cx).
		Float64("cy", cy).
		Msg("model suggestion")

	sug := suggestion("model", cx, cy)
	sug.Label = result.Primary.Label
	sug.Confidence = clamp(result.Primary.Confidence, 0, 1)
	return sug, nil
}

// subjectCenter returns the normalized subject center. Pixel coordinates are
// scaled by the image size; a missing center falls back to the box center.
func subjectCenter(p types.Primary, imgW, imgH int) (float64, float64) {
	cx, cy := p.Cx, p.Cy
	if cx > 1 || cy > 1 {
		cx, cy = cx/float64(imgW), cy/float64(imgH)
	}
	if cx == 0 && cy == 0 {
		box := normalizeBox(p.Box, imgW, imgH)
		if box.W > 0 && box.H > 0 {
			cx, cy = box.X+box.W/2, box.Y+box.H/2
		} else {
			cx, cy = 0.5, 0.5
		}
	}
	return clamp(cx, 0, 1), clamp(cy, 0, 1)
}

var fallbackIndicators = []string{"none", "unclear", "empty", "parse", "error", "fallback", "non-json"}

// isFallback reports whether the model answer carries no usable subject
func isFallback(r *types.AnalysisResult) bool {
	label := strings.ToLower(strings.TrimSpace(r.Primary.Label))
	if label == "" {
		return false
	}
	for _, indicator := range fallbackIndicators {
		if strings.Contains(label, indicator) {
			return true
		}
	}
	for _, tag := range r.Tags {
		if strings.EqualFold(tag, "fallback") {
			return true
		}
	}
	return false
}

// normalizeBox ensures box coordinates are within [0,1] bounds
func normalizeBox(b types.Box, imgW, imgH int) types.Box {
	if imgW > 0 && imgH > 0 && (b.X > 1 || b.Y > 1 || b.W > 1 || b.H > 1) {
		b = types.Box{
			X: b.X / float64(imgW),
			Y: b.Y / float64(imgH),
			W: b.W / float64(imgW),
			H: b.H / float64(imgH),
		}
	}
	return types.Box{
		X: clamp(b.X, 0, 1),
		Y: clamp(b.Y, 0, 1),
		W: clamp(b.W, 0, 1),
		H: clamp(b.H, 0, 1),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
