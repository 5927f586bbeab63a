package cropper

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/focuspoint/pkg/backend"
	"github.com/menta2k/focuspoint/pkg/geometry"
	"github.com/menta2k/focuspoint/pkg/types"
)

// createTestImage creates a test image where every pixel is distinguishable
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8(x), uint8(y), uint8(x ^ y), 255})
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func readPNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	return img
}

func requireWindow(t *testing.T, src image.Image, rect types.CropRectangle, got image.Image) {
	t.Helper()
	require.Equal(t, rect.Width, got.Bounds().Dx())
	require.Equal(t, rect.Height, got.Bounds().Dy())
	for y := 0; y < rect.Height; y++ {
		for x := 0; x < rect.Width; x++ {
			want := color.NRGBAModel.Convert(src.At(rect.X+x, rect.Y+y))
			have := color.NRGBAModel.Convert(got.At(got.Bounds().Min.X+x, got.Bounds().Min.Y+y))
			require.Equal(t, want, have, "(%d,%d)", x, y)
		}
	}
}

// stubTool writes a shell script standing in for ImageMagick and returns the
// command string to run it
func stubTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "convert.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return "/bin/sh " + path
}

func TestClampQuality(t *testing.T) {
	for in, want := range map[int]int{0: 75, 1: 10, 9: 10, 10: 10, 75: 75, 100: 100, 101: 100, -5: 10} {
		assert.Equal(t, want, ClampQuality(in), "quality %d", in)
	}
}

func TestSelect(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, backend.CompositionPipeline, c.Select("/img/Logo.PNG"))
	assert.Equal(t, backend.ExternalTool, c.Select("/img/photo.jpg"))
	assert.Equal(t, backend.ExternalTool, c.Select("/img/noext"))

	c = New(Options{Rules: "jpg:canvas-copy;png:bogus"})
	assert.Equal(t, backend.CanvasCopy, c.Select("a.jpg"))
	assert.Equal(t, backend.ExternalTool, c.Select("a.png"))
}

func TestExternalToolArgs(t *testing.T) {
	rect := types.CropRectangle{X: 1247, Y: 0, Width: 2397, Height: 2397}

	e := NewExternalTool("", 0)
	assert.Equal(t,
		[]string{"convert", "-quality", "75", "in.jpg", "-crop", "2397x2397+1247+0", "+repage", "out.jpg"},
		e.Args("in.jpg", "out.jpg", rect))

	e = NewExternalTool("gm convert", 250)
	assert.Equal(t,
		[]string{"gm", "convert", "-quality", "100", "in.jpg", "-crop", "2397x2397+1247+0", "+repage", "out.jpg"},
		e.Args("in.jpg", "out.jpg", rect))
}

func TestExternalToolRunsCommand(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	src := writePNG(t, dir, "in.jpg", createTestImage(10, 10))
	dst := filepath.Join(dir, "out.jpg")

	c := New(Options{Quality: 90, Command: stubTool(t, `printf '%s\n' "$@" > `+argsFile+`; cp "$3" "$7"`)})
	rect := types.CropRectangle{X: 2, Y: 1, Width: 5, Height: 5}
	require.NoError(t, c.Crop(context.Background(), src, dst, rect))

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, args, 7)
	assert.Equal(t, []string{"-quality", "90", src, "-crop", "5x5+2+1", "+repage"}, args[:6])

	// the tool writes a temporary file next to dst with the same extension
	assert.Equal(t, dir, filepath.Dir(args[6]))
	assert.Equal(t, ".jpg", filepath.Ext(args[6]))
	assert.NotEqual(t, dst, args[6])

	assert.FileExists(t, dst)
	assert.NoFileExists(t, args[6])
}

// dirEntries lists the file names in dir
func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestExternalToolFailure(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "in.jpg", createTestImage(10, 10))
	dst := filepath.Join(dir, "out.jpg")

	c := New(Options{Command: stubTool(t, `echo "convert: no decode delegate" >&2; echo partial > "$7"; exit 3`)})
	err := c.Crop(context.Background(), src, dst, types.CropRectangle{Width: 5, Height: 5})
	require.ErrorIs(t, err, ErrCropExecutionFailed)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, backend.ExternalTool, execErr.Backend)
	assert.Equal(t, dst, execErr.Destination)
	assert.Contains(t, execErr.Output, "no decode delegate")
	assert.Contains(t, err.Error(), "no decode delegate")

	var exitErr interface{ ExitCode() int }
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode())

	// the partial output is cleaned up
	assert.NoFileExists(t, dst)
	assert.Equal(t, []string{"in.jpg"}, dirEntries(t, dir))
}

func TestExternalToolNoOutput(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "in.jpg", createTestImage(10, 10))
	dst := filepath.Join(dir, "out.jpg")

	c := New(Options{Command: stubTool(t, `exit 0`)})
	err := c.Crop(context.Background(), src, dst, types.CropRectangle{Width: 5, Height: 5})
	require.ErrorIs(t, err, ErrCropExecutionFailed)
	assert.Equal(t, []string{"in.jpg"}, dirEntries(t, dir))
}

func TestExternalToolRectangleOutsideSource(t *testing.T) {
	dir := t.TempDir()
	ran := filepath.Join(dir, "ran")
	src := writePNG(t, dir, "in.jpg", createTestImage(10, 10))

	c := New(Options{Command: stubTool(t, `touch `+ran)})
	err := c.Crop(context.Background(), src, filepath.Join(dir, "out.jpg"), types.CropRectangle{X: 8, Y: 8, Width: 50, Height: 50})
	require.ErrorIs(t, err, geometry.ErrInvalidDimensions)
	assert.NoFileExists(t, ran, "tool must not run for a rectangle outside the source")
}

func TestFailedInPlaceCropKeepsSource(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "photo.jpg", createTestImage(10, 10))
	before, err := os.ReadFile(src)
	require.NoError(t, err)

	c := New(Options{Command: stubTool(t, `echo partial > "$7"; exit 1`)})
	err = c.Crop(context.Background(), src, src, types.CropRectangle{Width: 5, Height: 5})
	require.ErrorIs(t, err, ErrCropExecutionFailed)

	after, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"photo.jpg"}, dirEntries(t, dir))
}

func TestFailedCropKeepsExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(src, []byte("not an image"), 0644))
	prev := filepath.Join(dir, "prev.png")
	require.NoError(t, os.WriteFile(prev, []byte("previous crop"), 0644))

	for _, name := range backend.Names() {
		err := New(Options{}).CropWith(context.Background(), name, src, prev, types.CropRectangle{Width: 5, Height: 5})
		require.ErrorIs(t, err, ErrCropExecutionFailed, name)

		data, err := os.ReadFile(prev)
		require.NoError(t, err)
		assert.Equal(t, "previous crop", string(data), name)
	}
}

func TestCropReplacesDestination(t *testing.T) {
	dir := t.TempDir()
	img := createTestImage(20, 10)
	src := writePNG(t, dir, "in.png", img)
	rect := types.CropRectangle{X: 10, Width: 10, Height: 10}

	for _, name := range []backend.Name{backend.CompositionPipeline, backend.CanvasCopy} {
		dst := filepath.Join(dir, string(name)+".png")
		require.NoError(t, os.WriteFile(dst, []byte("stale"), 0644))
		require.NoError(t, New(Options{}).CropWith(context.Background(), name, src, dst, rect))
		requireWindow(t, img, rect, readPNG(t, dst))

		fi, err := os.Stat(dst)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0644), fi.Mode().Perm())
	}

	// in place
	require.NoError(t, New(Options{}).CropWith(context.Background(), backend.CanvasCopy, src, src, rect))
	requireWindow(t, img, rect, readPNG(t, src))
}

func TestExternalToolMissingBinary(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "in.jpg", createTestImage(4, 4))

	c := New(Options{Command: filepath.Join(dir, "no-such-convert")})
	err := c.Crop(context.Background(), src, filepath.Join(dir, "out.jpg"), types.CropRectangle{Width: 2, Height: 2})
	require.ErrorIs(t, err, ErrCropExecutionFailed)
}

func TestInMemoryExecutors(t *testing.T) {
	src := createTestImage(120, 80)
	rect := types.CropRectangle{X: 40, Y: 0, Width: 80, Height: 80}

	for _, name := range []backend.Name{backend.CompositionPipeline, backend.CanvasCopy} {
		t.Run(string(name), func(t *testing.T) {
			dir := t.TempDir()
			srcPath := writePNG(t, dir, "in.png", src)
			c := New(Options{})

			first := filepath.Join(dir, "first.png")
			second := filepath.Join(dir, "second.png")
			require.NoError(t, c.CropWith(context.Background(), name, srcPath, first, rect))
			require.NoError(t, c.CropWith(context.Background(), name, srcPath, second, rect))

			requireWindow(t, src, rect, readPNG(t, first))

			a, err := os.ReadFile(first)
			require.NoError(t, err)
			b, err := os.ReadFile(second)
			require.NoError(t, err)
			assert.Equal(t, a, b, "output is not deterministic")
		})
	}
}

func TestInMemoryExecutorsJPEG(t *testing.T) {
	dir := t.TempDir()
	srcPath := writePNG(t, dir, "in.png", createTestImage(64, 32))
	rect := types.CropRectangle{X: 16, Y: 0, Width: 32, Height: 32}

	for _, name := range []backend.Name{backend.CompositionPipeline, backend.CanvasCopy} {
		dst := filepath.Join(dir, string(name)+".jpg")
		require.NoError(t, New(Options{Quality: 95}).CropWith(context.Background(), name, srcPath, dst, rect))
		assert.FileExists(t, dst)
	}
}

func TestPipelineRecipe(t *testing.T) {
	p := NewPipeline(80)
	rect := types.CropRectangle{X: 10, Y: 0, Width: 30, Height: 30}
	r := p.Recipe("in.png", "out.png", types.Dimensions{Width: 4000, Height: 30}, rect)

	assert.Equal(t, "png", r.Format)
	assert.Equal(t, 4000, r.MaxWidth)
	assert.Equal(t, 30, r.MaxHeight)
	assert.Equal(t, 80, r.Quality)
	require.Len(t, r.Steps, 2)
	assert.Equal(t, StepImage, r.Steps[0].Kind)
	assert.Equal(t, "in.png", r.Steps[0].File)
	assert.Equal(t, StepCrop, r.Steps[1].Kind)
	assert.Equal(t, image.Rect(10, 0, 40, 30), r.Steps[1].Crop)
}

func TestPipelineLargeImage(t *testing.T) {
	dir := t.TempDir()
	src := createTestImage(DefaultMaxSize+100, 8)
	srcPath := writePNG(t, dir, "wide.png", src)
	p := NewPipeline(75)

	// without an explicit cap the canvas is limited to DefaultMaxSize
	capped := Recipe{
		Width: DefaultMaxSize + 100, Height: 8,
		Steps: []Step{{Kind: StepImage, File: srcPath}},
	}
	img, err := p.Render(context.Background(), capped)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxSize, img.Bounds().Dx())

	// the executor passes the source size, so the right edge survives
	rect := types.CropRectangle{X: DefaultMaxSize + 50, Y: 0, Width: 8, Height: 8}
	dst := filepath.Join(dir, "edge.png")
	require.NoError(t, p.Crop(context.Background(), srcPath, dst, rect))
	requireWindow(t, src, rect, readPNG(t, dst))
}

func TestPipelineRenderErrors(t *testing.T) {
	p := NewPipeline(75)
	ctx := context.Background()

	_, err := p.Render(ctx, Recipe{Width: 0, Height: 10})
	require.Error(t, err)

	_, err = p.Render(ctx, Recipe{Width: 10, Height: 10, Steps: []Step{{Kind: StepCrop, Crop: image.Rect(20, 20, 30, 30)}}})
	require.Error(t, err)

	_, err = p.Render(ctx, Recipe{Width: 10, Height: 10, Steps: []Step{{Kind: "ROTATE"}}})
	require.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Render(cancelled, Recipe{Width: 10, Height: 10, Steps: []Step{{Kind: StepCrop, Crop: image.Rect(0, 0, 5, 5)}}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCanvasCopyDropsAlpha(t *testing.T) {
	dir := t.TempDir()
	src := createTestImage(20, 20)
	src.Set(5, 5, color.NRGBA{200, 100, 50, 0})
	srcPath := writePNG(t, dir, "alpha.png", src)
	dst := filepath.Join(dir, "out.png")

	rect := types.CropRectangle{X: 0, Y: 0, Width: 10, Height: 10}
	require.NoError(t, NewCanvasCopy(75).Crop(context.Background(), srcPath, dst, rect))

	got := readPNG(t, dst)
	_, _, _, a := got.At(5, 5).RGBA()
	assert.Equal(t, uint32(0xffff), a)
	// fully transparent pixels flatten onto black
	assert.Equal(t, color.NRGBA{0, 0, 0, 255}, color.NRGBAModel.Convert(got.At(5, 5)))
	assert.Equal(t, color.NRGBAModel.Convert(src.At(1, 2)), color.NRGBAModel.Convert(got.At(1, 2)))
}

func TestPipelineKeepsAlpha(t *testing.T) {
	dir := t.TempDir()
	src := createTestImage(20, 20)
	src.Set(5, 5, color.NRGBA{200, 100, 50, 0})
	srcPath := writePNG(t, dir, "alpha.png", src)
	dst := filepath.Join(dir, "out.png")

	require.NoError(t, NewPipeline(75).Crop(context.Background(), srcPath, dst, types.CropRectangle{Width: 10, Height: 10}))

	_, _, _, a := readPNG(t, dst).At(5, 5).RGBA()
	assert.Equal(t, uint32(0), a)
}

func TestCropErrors(t *testing.T) {
	dir := t.TempDir()
	srcPath := writePNG(t, dir, "in.png", createTestImage(10, 10))
	ctx := context.Background()
	c := New(Options{})

	for _, name := range backend.Names() {
		t.Run(string(name), func(t *testing.T) {
			err := c.CropWith(ctx, name, srcPath, filepath.Join(dir, "x.png"), types.CropRectangle{Width: 0, Height: 5})
			require.ErrorIs(t, err, geometry.ErrInvalidDimensions)

			missing := filepath.Join(dir, "missing.png")
			dst := filepath.Join(dir, string(name)+"-missing.png")
			err = c.CropWith(ctx, name, missing, dst, types.CropRectangle{Width: 5, Height: 5})
			require.ErrorIs(t, err, ErrCropExecutionFailed)
			assert.NoFileExists(t, dst)
		})
	}

	for _, name := range backend.Names() {
		err := c.CropWith(ctx, name, srcPath, filepath.Join(dir, "big.png"), types.CropRectangle{X: 5, Width: 6, Height: 5})
		require.ErrorIs(t, err, geometry.ErrInvalidDimensions, name)
		assert.NoFileExists(t, filepath.Join(dir, "big.png"))
	}

	for _, name := range []backend.Name{backend.CompositionPipeline, backend.CanvasCopy} {
		err := c.CropWith(ctx, name, srcPath, filepath.Join(dir, "no", "such", "dir.png"), types.CropRectangle{Width: 5, Height: 5})
		require.ErrorIs(t, err, ErrCropExecutionFailed, name)
	}

	err := c.CropWith(ctx, backend.Name("bogus"), srcPath, filepath.Join(dir, "x.png"), types.CropRectangle{Width: 5, Height: 5})
	require.ErrorIs(t, err, ErrCropExecutionFailed)
}

type recordingExecutor struct {
	calls []string
	err   error
}

func (r *recordingExecutor) Crop(_ context.Context, src, dst string, rect types.CropRectangle) error {
	r.calls = append(r.calls, src+"|"+filepath.Ext(dst)+"|"+rect.Geometry())
	if r.err != nil {
		_ = os.WriteFile(dst, []byte("partial"), 0644)
		return r.err
	}
	return os.WriteFile(dst, []byte("ok"), 0644)
}

func TestCropDispatchAndCleanup(t *testing.T) {
	dir := t.TempDir()
	srcPath := writePNG(t, dir, "in.gif", createTestImage(4, 4))
	dst := filepath.Join(dir, "out.gif")
	rect := types.CropRectangle{Width: 2, Height: 2}

	rec := &recordingExecutor{}
	c := New(Options{Rules: "gif:canvas-copy"})
	c.SetExecutor(backend.CanvasCopy, rec)

	require.NoError(t, c.Crop(context.Background(), srcPath, dst, rect))
	assert.Equal(t, []string{srcPath + "|.gif|2x2+0+0"}, rec.calls)

	rec.err = errors.New("boom")
	err := c.Crop(context.Background(), srcPath, dst, rect)
	require.ErrorIs(t, err, ErrCropExecutionFailed)
	assert.ErrorContains(t, err, "boom")

	// the earlier output survives, the partial one is gone
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.ElementsMatch(t, []string{"in.gif", "out.gif"}, dirEntries(t, dir))
}
