package services

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// PreviewRenderer writes a small PNG still of a GIF's first frame.
type PreviewRenderer struct {
	size int
}

func NewPreviewRenderer(size int) *PreviewRenderer {
	return &PreviewRenderer{size: size}
}

// Render stores the still next to gifPath and returns its path.
func (p *PreviewRenderer) Render(gifPath string) (string, error) {
	img, err := imaging.Open(gifPath)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", gifPath, err)
	}

	still := imaging.Fit(img, p.size, p.size, imaging.Lanczos)
	out := strings.TrimSuffix(gifPath, filepath.Ext(gifPath)) + "-preview.png"
	if err := imaging.Save(still, out); err != nil {
		return "", fmt.Errorf("failed to save preview: %w", err)
	}
	return out, nil
}
