// Package overlay draws point-annotation markers onto a downloaded image.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hzen9499/Squidle-Imaging-Processing/internal/table"
)

const (
	markerSize      = 15
	markerThickness = 2
)

var markerColor = color.RGBA{R: 255, A: 255}

// DrawMarkers reads the image at imagePath, draws a tilted cross at each
// annotation's point.x/point.y, and writes the result next to the source as
// "<stem>_overlay.jpg". Rows with unparseable coordinates are skipped; the
// returned count is the number of markers actually drawn.
func DrawMarkers(imagePath string, ann table.Table, logger *zap.Logger) (string, int, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open image: %w", err)
	}
	src, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return "", 0, fmt.Errorf("failed to decode image: %w", err)
	}

	canvas := image.NewRGBA(src.Bounds())
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)

	xIdx := ann.ColumnIndex("point.x")
	yIdx := ann.ColumnIndex("point.y")
	if xIdx < 0 || yIdx < 0 {
		return "", 0, fmt.Errorf("annotation table has no point.x/point.y columns")
	}

	count := 0
	for _, row := range ann.Rows {
		x, errX := strconv.ParseFloat(strings.TrimSpace(row[xIdx]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(row[yIdx]), 64)
		if errX != nil || errY != nil {
			continue
		}
		drawTiltedCross(canvas, int(math.Round(x)), int(math.Round(y)))
		count++
	}

	stem := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
	outPath := filepath.Join(filepath.Dir(imagePath), stem+"_overlay.jpg")

	out, err := os.Create(outPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create overlay file: %w", err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, canvas, nil); err != nil {
		return "", 0, fmt.Errorf("failed to encode overlay: %w", err)
	}

	logger.Info("Overlay saved", zap.String("path", outPath), zap.Int("markers", count))
	return outPath, count, nil
}

// drawTiltedCross draws an X-shaped marker centered at (cx, cy), clipped to
// the image bounds.
func drawTiltedCross(img *image.RGBA, cx, cy int) {
	half := markerSize / 2
	for d := -half; d <= half; d++ {
		for t := 0; t < markerThickness; t++ {
			setClipped(img, cx+d, cy+d+t)
			setClipped(img, cx+d, cy-d+t)
		}
	}
}

func setClipped(img *image.RGBA, x, y int) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.Set(x, y, markerColor)
	}
}
