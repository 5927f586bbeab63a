package analyzer

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/focuspoint/pkg/types"
)

// ImageAnalyzer reads image headers without decoding pixel data
type ImageAnalyzer struct {
	config Config
}

// Config holds configuration for the image analyzer
type Config struct {
	SupportedFormats []string
	MinImageSize     int
}

// New creates a new ImageAnalyzer with default configuration
func New() *ImageAnalyzer {
	return &ImageAnalyzer{
		config: Config{
			SupportedFormats: []string{"jpeg", "png", "gif", "bmp", "tiff", "webp"},
			MinImageSize:     1,
		},
	}
}

// NewWithConfig creates a new ImageAnalyzer with custom configuration
func NewWithConfig(config Config) *ImageAnalyzer {
	return &ImageAnalyzer{config: config}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Format      string           `json:"format"`
	Dimensions  types.Dimensions `json:"dimensions"`
	AspectRatio float64          `json:"aspect_ratio"`
}

// Inspect returns the format and pixel dimensions of the image at path
func (a *ImageAnalyzer) Inspect(path string) (ImageInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to open image file: %w", err)
	}
	defer file.Close()

	return a.InspectReader(file)
}

// InspectReader is Inspect for an already opened stream
func (a *ImageAnalyzer) InspectReader(r io.Reader) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to decode image header: %w", err)
	}

	if !a.isFormatSupported(format) {
		return ImageInfo{}, fmt.Errorf("unsupported image format: %s", format)
	}

	info := ImageInfo{
		Format:     format,
		Dimensions: types.Dimensions{Width: cfg.Width, Height: cfg.Height},
	}
	if cfg.Height > 0 {
		info.AspectRatio = float64(cfg.Width) / float64(cfg.Height)
	}
	return info, a.ValidateImage(info)
}

// ValidateImage checks if an image meets minimum requirements
func (a *ImageAnalyzer) ValidateImage(info ImageInfo) error {
	d := info.Dimensions
	if d.Width < a.config.MinImageSize || d.Height < a.config.MinImageSize {
		return fmt.Errorf("image too small: %s (minimum: %d)", d, a.config.MinImageSize)
	}
	return nil
}

func (a *ImageAnalyzer) isFormatSupported(format string) bool {
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}
