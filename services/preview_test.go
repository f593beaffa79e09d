package services

import (
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestGIF(t *testing.T, path string, w, h int) {
	t.Helper()

	anim := &gif.GIF{}
	for i := 0; i < 3; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, w, h), palette.Plan9)
		for x := 0; x < w; x++ {
			frame.Set(x, h/2, color.RGBA{R: uint8(80 * i), A: 255})
		}
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 20)
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, gif.EncodeAll(f, anim))
}

func TestPreviewRenderer_Render(t *testing.T) {
	gifPath := filepath.Join(t.TempDir(), "1700000000000-ab12cd34-output.gif")
	writeTestGIF(t, gifPath, 533, 400)

	out, err := NewPreviewRenderer(160).Render(gifPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(gifPath), "1700000000000-ab12cd34-output-preview.png"), out)

	img, err := imaging.Open(out)
	require.NoError(t, err)
	bounds := img.Bounds()
	assert.Equal(t, 160, bounds.Dx())
	assert.LessOrEqual(t, bounds.Dy(), 160)
}

func TestPreviewRenderer_RenderMissingFile(t *testing.T) {
	_, err := NewPreviewRenderer(160).Render(filepath.Join(t.TempDir(), "missing.gif"))
	assert.Error(t, err)
}
