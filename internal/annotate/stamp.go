// Package annotate burns alert details into snapshots sent to announcers.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"aranyani/internal/pipeline"
)

const (
	lineHeight = 14
	padding    = 4
)

var (
	bannerColor = color.RGBA{0, 0, 0, 180}
	textColor   = color.RGBA{255, 200, 0, 255}
)

// Caption returns the banner lines for an alert
func Caption(event *pipeline.AlertEvent) []string {
	return []string{
		fmt.Sprintf("%s %.0f%%", event.Label, event.Confidence),
		fmt.Sprintf("%s  %s", event.NodeID, event.Timestamp.UTC().Format("2006-01-02 15:04:05Z")),
		fmt.Sprintf("%.5f, %.5f", event.Location.Latitude, event.Location.Longitude),
	}
}

// Stamp draws the alert caption across the top of the snapshot and returns
// it re-encoded as JPEG
func Stamp(data []byte, event *pipeline.AlertEvent) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	drawBanner(rgba, Caption(event))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func drawBanner(img *image.RGBA, lines []string) {
	b := img.Bounds()

	width := 0
	for _, line := range lines {
		if w := font.MeasureString(basicfont.Face7x13, line).Ceil(); w > width {
			width = w
		}
	}

	banner := image.Rect(b.Min.X, b.Min.Y, b.Min.X+width+2*padding, b.Min.Y+len(lines)*lineHeight+2*padding).Intersect(b)
	draw.Draw(img, banner, image.NewUniform(bannerColor), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		d.Dot = fixed.Point26_6{
			X: fixed.I(b.Min.X + padding),
			Y: fixed.I(b.Min.Y + padding + (i+1)*lineHeight - 3),
		}
		d.DrawString(line)
	}
}
