package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/jwestbrook/imageflow/internal/model"
)

// jpegQuality is used whenever a JPEG source is re-encoded.
const jpegQuality = 85

// Deterministic errors: retrying never helps, the job must fail
// terminally. The worker separates these from transient ones.
var (
	ErrUnsupportedFormat  = errors.New("unsupported image format")
	ErrDecode             = errors.New("image decode failed")
	ErrInvalidCropRegion  = errors.New("invalid crop region")
	ErrInvalidResizeWidth = errors.New("invalid resize width")
	ErrInvalidColor       = errors.New("invalid tint color")
	ErrInvalidOpacity     = errors.New("invalid tint opacity")
)

// IsDeterministic reports whether err can never succeed on retry.
func IsDeterministic(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrInvalidCropRegion) ||
		errors.Is(err, ErrInvalidResizeWidth) ||
		errors.Is(err, ErrInvalidColor) ||
		errors.Is(err, ErrInvalidOpacity)
}

// Result is the output of a transform: the encoded bytes plus the final
// dimensions that become the image record's processed fields.
type Result struct {
	Data   []byte
	Width  int
	Height int
	Format string
}

// DetectFormat inspects the raw bytes and returns the image format:
// "jpeg", "png", "gif", or "" if unknown.
func DetectFormat(data []byte) string {
	// JPEG: starts with FF D8 FF
	if len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "jpeg"
	}
	// PNG: starts with 89 50 4E 47 0D 0A 1A 0A
	if len(data) >= 8 && data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 &&
		data[4] == 0x0D && data[5] == 0x0A && data[6] == 0x1A && data[7] == 0x0A {
		return "png"
	}
	// GIF: starts with GIF87a or GIF89a
	if len(data) >= 6 && data[0] == 'G' && data[1] == 'I' && data[2] == 'F' {
		return "gif"
	}
	return ""
}

// ContentType maps a format string to its MIME type.
func ContentType(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// ValidateRequest checks the transform parameters against the original
// dimensions. The upload path calls this before any blob or metadata
// write so bad requests are rejected with zero side effects.
func ValidateRequest(req model.TransformRequest, origWidth, origHeight int) error {
	if req.Crop != nil {
		c := *req.Crop
		if c.Width <= 0 || c.Height <= 0 || c.X < 0 || c.Y < 0 ||
			c.X+c.Width > origWidth || c.Y+c.Height > origHeight {
			return fmt.Errorf("%w: (%d,%d)+%dx%d exceeds %dx%d",
				ErrInvalidCropRegion, c.X, c.Y, c.Width, c.Height, origWidth, origHeight)
		}
	}
	if req.ResizeWidth < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidResizeWidth, req.ResizeWidth)
	}
	if req.Tint != nil {
		if _, err := ParseHexColor(req.Tint.Color); err != nil {
			return err
		}
		if math.IsNaN(req.Tint.Opacity) || req.Tint.Opacity < 0 || req.Tint.Opacity > 1 {
			return fmt.Errorf("%w: %v", ErrInvalidOpacity, req.Tint.Opacity)
		}
	}
	return nil
}

// Apply runs the transform pipeline over the original bytes. It is a
// pure function: no I/O, no shared state, safe on any worker.
//
// Order is fixed: crop first (in original-pixel coordinates, so no
// resampling rounding leaks into the rectangle), then resize, then tint
// (so the overlay color is never itself resampled). The output is
// re-encoded in the original's format.
func Apply(data []byte, req model.TransformRequest) (*Result, error) {
	format := DetectFormat(data)
	if format == "" {
		return nil, ErrUnsupportedFormat
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := img.Bounds()
	if err := ValidateRequest(req, bounds.Dx(), bounds.Dy()); err != nil {
		return nil, err
	}

	if req.Crop != nil {
		c := *req.Crop
		img = imaging.Crop(img, image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height))
	}

	if req.ResizeWidth > 0 {
		// Height 0 preserves the aspect ratio of the (possibly cropped) input.
		img = imaging.Resize(img, req.ResizeWidth, 0, imaging.Lanczos)
	}

	if req.Tint != nil {
		tintColor, err := ParseHexColor(req.Tint.Color)
		if err != nil {
			return nil, err
		}
		img = applyTint(img, tintColor, req.Tint.Opacity)
	}

	out, err := encodeImage(img, format)
	if err != nil {
		return nil, err
	}

	final := img.Bounds()
	return &Result{
		Data:   out,
		Width:  final.Dx(),
		Height: final.Dy(),
		Format: format,
	}, nil
}

// applyTint alpha-composites a uniform color over every pixel:
// out = (1-opacity)*src + opacity*tint. Source alpha is preserved.
func applyTint(img image.Image, tint color.RGBA, opacity float64) image.Image {
	out := imaging.Clone(img)
	tr := float64(tint.R)
	tg := float64(tint.G)
	tb := float64(tint.B)

	for i := 0; i < len(out.Pix); i += 4 {
		out.Pix[i] = blend(out.Pix[i], tr, opacity)
		out.Pix[i+1] = blend(out.Pix[i+1], tg, opacity)
		out.Pix[i+2] = blend(out.Pix[i+2], tb, opacity)
	}
	return out
}

func blend(src uint8, tint, opacity float64) uint8 {
	v := (1-opacity)*float64(src) + opacity*tint
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return uint8(v + 0.5)
}

// ParseHexColor converts a "#rrggbb" color string to color.RGBA.
func ParseHexColor(hexColor string) (color.RGBA, error) {
	if len(hexColor) != 7 || hexColor[0] != '#' {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, hexColor)
	}
	r, err := strconv.ParseUint(hexColor[1:3], 16, 8)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, hexColor)
	}
	g, err := strconv.ParseUint(hexColor[3:5], 16, 8)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, hexColor)
	}
	b, err := strconv.ParseUint(hexColor[5:7], 16, 8)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, hexColor)
	}
	return color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255}, nil
}

// encodeImage encodes an image to the specified format and returns the bytes.
func encodeImage(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case "gif":
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return buf.Bytes(), nil
}
