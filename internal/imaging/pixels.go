package imaging

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// Grayscale converts an image to 8-bit luma using the ITU-R BT.601 weights
// (0.299 R + 0.587 G + 0.114 B), rounded to the nearest integer.
func Grayscale(img image.Image) *image.Gray {
	bounds := img.Bounds()
	if g, ok := img.(*image.Gray); ok && isPacked(g) {
		return g
	}

	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			lum := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			gray.SetGray(x-bounds.Min.X, y-bounds.Min.Y, color.Gray{Y: uint8(math.Min(255, math.Round(lum)))})
		}
	}
	return gray
}

// isPacked reports whether Pix holds exactly the pixels of g, row after row,
// starting at the origin. Sub-images share the parent's Pix and stride.
func isPacked(g *image.Gray) bool {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	return g.Rect.Min == (image.Point{}) && g.Stride == w && len(g.Pix) == w*h
}

// ClampRect intersects r with the image bounds.
func ClampRect(img image.Image, r image.Rectangle) image.Rectangle {
	return r.Canon().Intersect(img.Bounds())
}

// Crop copies the part of img inside r into a new image anchored at (0,0).
// The rectangle is clamped to the image first; nil is returned when nothing
// of it lies inside the image.
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = ClampRect(img, r)
	if r.Empty() {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, img, r, draw.Src, nil)
	return dst
}

// Resize scales img to exactly width x height using bilinear interpolation.
func Resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// LaplacianVariance returns the variance of the 3x3 Laplacian response
// ([0 1 0; 1 -4 1; 0 1 0]) over a grayscale image. Borders are handled by
// reflecting around the edge pixel, so an image shorter than two pixels in
// either direction reflects onto itself.
func LaplacianVariance(gray *image.Gray) float64 {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	at := func(x, y int) float64 {
		x = reflect101(x, w)
		y = reflect101(y, h)
		return float64(gray.Pix[y*gray.Stride+x])
	}

	n := float64(w * h)
	var sum, sumSq float64
	for y := range h {
		for x := range w {
			v := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / n
	return sumSq/n - mean*mean
}

// reflect101 maps an out-of-range coordinate back inside [0, n) without
// repeating the edge pixel (dcb|abcd|cba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}
