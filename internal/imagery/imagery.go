// Package imagery decodes cached browse files into numeric rasters.
package imagery

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is a decoded raster. Shape is [h, w] for single-band images and
// [h, w, c] otherwise; Pix is row-major with samples scaled to [0, 1].
// No-data samples are NaN.
type Image struct {
	Shape  []int     `json:"shape"`
	Pix    []float64 `json:"-"`
	Format string    `json:"format"`
	Path   string    `json:"path,omitempty"`
}

func (im *Image) Height() int { return im.Shape[0] }
func (im *Image) Width() int  { return im.Shape[1] }

func (im *Image) Channels() int {
	if len(im.Shape) < 3 {
		return 1
	}
	return im.Shape[2]
}

// At returns the sample at row y, column x, band c.
func (im *Image) At(y, x, c int) float64 {
	ch := im.Channels()
	return im.Pix[(y*im.Width()+x)*ch+c]
}

var ErrEmptyImage = errors.New("imagery: image has no pixels")

type Decoder struct {
	// RemoveNoData turns fully transparent pixels into NaN samples and drops
	// the alpha band.
	RemoveNoData bool
}

func (d Decoder) Decode(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	img, format, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	out, err := d.FromImage(img)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	out.Format = format
	out.Path = path
	return out, nil
}

func (d Decoder) FromImage(img image.Image) (*Image, error) {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	if h <= 0 || w <= 0 {
		return nil, ErrEmptyImage
	}

	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		pix := make([]float64, 0, h*w)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
				pix = append(pix, float64(g.Y)/math.MaxUint16)
			}
		}
		return &Image{Shape: []int{h, w}, Pix: pix}, nil
	}

	withAlpha := !isOpaque(img)
	ch := 3
	if withAlpha && !d.RemoveNoData {
		ch = 4
	}
	pix := make([]float64, 0, h*w*ch)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
			if withAlpha && d.RemoveNoData && c.A == 0 {
				pix = append(pix, math.NaN(), math.NaN(), math.NaN())
				continue
			}
			pix = append(pix,
				float64(c.R)/math.MaxUint16,
				float64(c.G)/math.MaxUint16,
				float64(c.B)/math.MaxUint16)
			if ch == 4 {
				pix = append(pix, float64(c.A)/math.MaxUint16)
			}
		}
	}
	return &Image{Shape: []int{h, w, ch}, Pix: pix}, nil
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}
