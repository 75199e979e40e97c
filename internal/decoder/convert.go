package decoder

import (
	"fmt"
	"image"

	"github.com/GoldenFealla/SyncPlayerGo/internal/media"
	"github.com/asticode/go-astiav"
)

const rasterFormat = astiav.PixelFormatRgba

// PixelConverter scales decoded pictures to RGBA rasters. The scale context
// is rebuilt when the source geometry changes.
type PixelConverter struct {
	ssc *astiav.SoftwareScaleContext
	dst *astiav.Frame

	width, height int
	format        astiav.PixelFormat
}

func newPixelConverter(width, height int, format astiav.PixelFormat) (*PixelConverter, error) {
	c := &PixelConverter{dst: astiav.AllocFrame()}
	if err := c.configure(width, height, format); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *PixelConverter) configure(width, height int, format astiav.PixelFormat) error {
	if c.ssc != nil {
		c.ssc.Free()
		c.ssc = nil
	}

	ssc, err := astiav.CreateSoftwareScaleContext(
		width, height, format,
		width, height, rasterFormat,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	)
	if err != nil {
		return fmt.Errorf("pixel converter: creating scale context failed: %w", err)
	}

	c.ssc = ssc
	c.width, c.height, c.format = width, height, format
	return nil
}

func (c *PixelConverter) Convert(p media.Picture) (image.Image, error) {
	pic, ok := p.(*picture)
	if !ok {
		return nil, fmt.Errorf("pixel converter: unexpected picture %T", p)
	}
	defer pic.f.Free()

	f := pic.f
	if f.Width() != c.width || f.Height() != c.height || f.PixelFormat() != c.format {
		if err := c.configure(f.Width(), f.Height(), f.PixelFormat()); err != nil {
			return nil, err
		}
	}

	c.dst.Unref()
	c.dst.SetWidth(c.width)
	c.dst.SetHeight(c.height)
	c.dst.SetPixelFormat(rasterFormat)
	if err := c.dst.AllocBuffer(1); err != nil {
		return nil, fmt.Errorf("pixel converter: allocating frame buffer failed: %w", err)
	}

	if err := c.ssc.ScaleFrame(f, c.dst); err != nil {
		return nil, fmt.Errorf("pixel converter: scaling frame failed: %w", err)
	}

	img, err := c.dst.Data().GuessImageFormat()
	if err != nil {
		return nil, fmt.Errorf("pixel converter: guessing image format failed: %w", err)
	}
	if err := c.dst.Data().ToImage(img); err != nil {
		return nil, fmt.Errorf("pixel converter: copying image failed: %w", err)
	}

	return img, nil
}

func (c *PixelConverter) Close() {
	if c.ssc != nil {
		c.ssc.Free()
		c.ssc = nil
	}
	if c.dst != nil {
		c.dst.Free()
		c.dst = nil
	}
}

var _ media.PixelConverter = (*PixelConverter)(nil)
