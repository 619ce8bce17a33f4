// internal/img/preview.go

// Package img renders quick-look previews of raster products.
package img

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// PreviewSize is the default bounding box for orthomosaic previews.
const PreviewSize = 1024

// RenderPreview loads the raster at srcPath, fits it into a boxW x boxH
// bounding box without upscaling, and writes it to dstPath. It returns the
// rendered dimensions.
func RenderPreview(srcPath, dstPath string, boxW, boxH int) (w int, h int, _ error) {
	src, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return 0, 0, fmt.Errorf("open: %w", err)
	}

	preview := imaging.Fit(src, boxW, boxH, imaging.Lanczos)

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return 0, 0, fmt.Errorf("mkdir: %w", err)
	}
	if err := imaging.Save(preview, dstPath); err != nil {
		return 0, 0, fmt.Errorf("save: %w", err)
	}

	b := preview.Bounds()
	return b.Dx(), b.Dy(), nil
}

// PreviewPath derives the preview filename alongside a source raster:
// odm_orthophoto.tif -> odm_orthophoto_preview.png.
func PreviewPath(srcPath string) string {
	ext := filepath.Ext(srcPath)
	return srcPath[:len(srcPath)-len(ext)] + "_preview.png"
}
