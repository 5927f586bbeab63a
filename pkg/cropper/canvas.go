package cropper

import (
	"context"
	"fmt"
	"image"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/menta2k/focuspoint/pkg/backend"
	"github.com/menta2k/focuspoint/pkg/processing"
	"github.com/menta2k/focuspoint/pkg/types"
)

// CanvasCopy copies the crop window of the decoded source into a buffer of
// exactly the box size.
//
// The destination buffer carries no alpha: translucent sources are flattened
// onto black. Very large images with an alpha layer otherwise blow up memory in
// the encoder, so transparency is lost on this path.
type CanvasCopy struct {
	Quality   int
	processor *processing.Processor
}

// NewCanvasCopy creates the canvas-copy executor
func NewCanvasCopy(quality int) *CanvasCopy {
	return &CanvasCopy{
		Quality:   ClampQuality(quality),
		processor: processing.NewProcessor(),
	}
}

// Crop decodes src, copies rect and writes dst
func (c *CanvasCopy) Crop(ctx context.Context, src, dst string, rect types.CropRectangle) error {
	img, err := c.processor.LoadImage(src)
	if err != nil {
		return failure(backend.CanvasCopy, src, dst, "", err)
	}

	b := img.Bounds()
	window := rect.Rect().Add(b.Min)
	if !window.In(b) {
		return failure(backend.CanvasCopy, src, dst, "",
			fmt.Errorf("crop %s outside source %dx%d", rect, b.Dx(), b.Dy()))
	}

	out := image.NewRGBA(image.Rect(0, 0, rect.Width, rect.Height))
	if processing.HasAlpha(img) {
		zerolog.Ctx(ctx).Debug().Str("source", src).Msg("dropping alpha channel")
		draw.Draw(out, out.Bounds(), image.Black, image.Point{}, draw.Src)
		draw.Copy(out, image.Point{}, img, window, draw.Over, nil)
	} else {
		draw.Copy(out, image.Point{}, img, window, draw.Src, nil)
	}

	if err := c.processor.SaveImage(out, dst, "", c.Quality, false); err != nil {
		return failure(backend.CanvasCopy, src, dst, "", err)
	}
	return nil
}
