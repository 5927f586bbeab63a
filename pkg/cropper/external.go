package cropper

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/menta2k/focuspoint/pkg/backend"
	"github.com/menta2k/focuspoint/pkg/types"
)

// DefaultCommand is the ImageMagick binary used when none is configured
const DefaultCommand = "convert"

// ExternalTool crops by running ImageMagick or GraphicsMagick:
//
//	convert -quality Q src -crop WxH+X+Y +repage dst
//
// Command may carry leading arguments, e.g. "gm convert" or "magick".
type ExternalTool struct {
	Command string
	Quality int
}

// NewExternalTool creates the external-tool executor
func NewExternalTool(command string, quality int) *ExternalTool {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	return &ExternalTool{Command: command, Quality: ClampQuality(quality)}
}

// Args returns the command line for a crop, binary first
func (e *ExternalTool) Args(src, dst string, rect types.CropRectangle) []string {
	args := strings.Fields(e.Command)
	if len(args) == 0 {
		args = []string{DefaultCommand}
	}
	return append(args,
		"-quality", strconv.Itoa(ClampQuality(e.Quality)),
		src,
		"-crop", rect.Geometry(),
		"+repage",
		dst,
	)
}

// Crop blocks until the tool exits. A non-zero exit status is a failure
// carrying the tool's output.
func (e *ExternalTool) Crop(ctx context.Context, src, dst string, rect types.CropRectangle) error {
	args := e.Args(src, dst, rect)

	stdOut := new(bytes.Buffer)
	stdErr := new(bytes.Buffer)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = stdOut
	cmd.Stderr = stdErr

	if err := cmd.Run(); err != nil {
		output := strings.TrimSpace(stdErr.String())
		if out := strings.TrimSpace(stdOut.String()); out != "" {
			output = strings.TrimSpace(out + "\n" + output)
		}
		return failure(backend.ExternalTool, src, dst, output, err)
	}
	return nil
}
