// Package input holds the optional static RGB image a core convolves every
// tick.
package input

import (
	"fmt"

	"convnode/internal/region"
)

type Image struct {
	width      int
	height     int
	fixedPoint uint32
	pixels     []int8
}

// Load returns nil when the region carries no image.
func Load(r region.InputRegion) (*Image, error) {
	if r.NumImages == 0 {
		return nil, nil
	}
	want := int(r.Width) * int(r.Height) * 3
	if len(r.Pixels) != want {
		return nil, fmt.Errorf("input image %dx%d: got %d pixel components want %d", r.Width, r.Height, len(r.Pixels), want)
	}
	return &Image{
		width:      int(r.Width),
		height:     int(r.Height),
		fixedPoint: r.FixedPointPosition,
		pixels:     append([]int8(nil), r.Pixels...),
	}, nil
}

func (img *Image) Width() int                 { return img.width }
func (img *Image) Height() int                { return img.height }
func (img *Image) FixedPointPosition() uint32 { return img.fixedPoint }

func (img *Image) Pixel(x, y int) (r, g, b int32) {
	i := 3 * (y*img.width + x)
	return int32(img.pixels[i]), int32(img.pixels[i+1]), int32(img.pixels[i+2])
}
