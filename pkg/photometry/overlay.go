package photometry

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"sort"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"stonesteps/pkg/fitsdata"
)

// RenderPreview writes a JPEG preview of img with a circle and ID label per
// table row.
func RenderPreview(img *fitsdata.Image, t *Table, outputPath string) error {
	rgba, err := renderPreviewImage(img, t)
	if err != nil {
		return err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create preview file: %w", err)
	}
	defer f.Close()

	return jpeg.Encode(f, rgba, &jpeg.Options{Quality: 90})
}

// RenderPreviewBytes returns the preview as JPEG bytes.
func RenderPreviewBytes(img *fitsdata.Image, t *Table) ([]byte, error) {
	rgba, err := renderPreviewImage(img, t)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderPreviewImage(img *fitsdata.Image, t *Table) (*image.RGBA, error) {
	if img == nil || img.Width == 0 || img.Height == 0 {
		return nil, fmt.Errorf("no image data")
	}

	// Render at most 800px wide
	const targetWidth = 800
	scale := 1.0
	if img.Width > targetWidth {
		scale = float64(targetWidth) / float64(img.Width)
	}
	imgW := max(int(float64(img.Width)*scale), 1)
	imgH := max(int(float64(img.Height)*scale), 1)

	lo, hi := displayRange(img.Pix)
	out := image.NewRGBA(image.Rect(0, 0, imgW, imgH))
	for y := 0; y < imgH; y++ {
		sy := min(int(float64(y)/scale), img.Height-1)
		for x := 0; x < imgW; x++ {
			sx := min(int(float64(x)/scale), img.Width-1)
			g := stretch(img.At(sx, sy), lo, hi)
			out.Set(x, y, color.RGBA{g, g, g, 255})
		}
	}

	circleColor := color.RGBA{80, 255, 80, 255}
	textColor := color.RGBA{255, 255, 120, 255}
	face := basicfont.Face7x13
	for _, r := range t.Rows {
		cx := int(math.Round(r.Object.X * scale))
		cy := int(math.Round(r.Object.Y * scale))
		radius := 6
		if r.HalfFluxRadius > 0 {
			radius = max(int(r.HalfFluxRadius*scale*3), 4)
		}
		drawCircle(out, cx, cy, radius, circleColor)
		drawCenteredText(out, face, strconv.Itoa(r.ID), cx, cy-radius-3, textColor)
	}
	return out, nil
}

// displayRange returns the 0.5 and 99.5 percentiles of the finite pixels.
func displayRange(pix []float64) (float64, float64) {
	finite := make([]float64, 0, len(pix))
	for _, v := range pix {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0, 1
	}
	sort.Float64s(finite)
	lo := finite[int(0.005*float64(len(finite)-1))]
	hi := finite[int(0.995*float64(len(finite)-1))]
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

// stretch maps v to 0..255 with an asinh stretch between lo and hi.
func stretch(v, lo, hi float64) uint8 {
	if math.IsNaN(v) {
		return 0
	}
	t := math.Min(math.Max((v-lo)/(hi-lo), 0), 1)
	t = math.Asinh(10*t) / math.Asinh(10)
	return uint8(t * 255)
}

// drawText draws a string at (x, y) using the given font face.
func drawText(img *image.RGBA, face font.Face, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// drawCenteredText draws a string centered at (cx, cy).
func drawCenteredText(img *image.RGBA, face font.Face, s string, cx, cy int, c color.RGBA) {
	advance := font.MeasureString(face, s)
	x := cx - advance.Round()/2
	drawText(img, face, s, x, cy, c)
}

// drawCircle draws a circle outline using midpoint algorithm.
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	x := radius
	y := 0
	err := 0

	for x >= y {
		img.Set(cx+x, cy+y, c)
		img.Set(cx+y, cy+x, c)
		img.Set(cx-y, cy+x, c)
		img.Set(cx-x, cy+y, c)
		img.Set(cx-x, cy-y, c)
		img.Set(cx-y, cy-x, c)
		img.Set(cx+y, cy-x, c)
		img.Set(cx+x, cy-y, c)

		y++
		err += 1 + 2*y
		if 2*(err-x)+1 > 0 {
			x--
			err += 1 - 2*x
		}
	}
}
