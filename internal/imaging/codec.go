package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"

	// Registered source decoders.
	_ "image/gif"

	_ "golang.org/x/image/webp"
	"golang.org/x/image/draw"
)

// Encoded output formats.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatAuto = "auto"
)

// Extension returns the file extension for an output format.
func Extension(format string) string {
	if format == FormatJPEG {
		return "jpg"
	}
	return format
}

// resolveFormat maps a requested format to an encodable one. auto keeps jpeg
// sources as jpeg and turns everything else into png.
func resolveFormat(requested, source string) string {
	switch requested {
	case FormatJPEG, FormatPNG:
		return requested
	}
	if source == FormatJPEG {
		return FormatJPEG
	}
	return FormatPNG
}

// DecodeConfig reads dimensions and format without decoding pixels.
func DecodeConfig(data []byte) (width, height int, format string, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", err
	}
	return cfg.Width, cfg.Height, format, nil
}

func decode(data []byte) (image.Image, string, error) {
	return image.Decode(bytes.NewReader(data))
}

// resize scales src to w×h with the Catmull-Rom kernel. Opaque formats are
// composed over bg.
func resize(src image.Image, w, h int, format string, bg color.Color) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	op := draw.Src
	if format == FormatJPEG {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
		op = draw.Over
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), op, nil)
	return dst
}

func encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	return buf.Bytes(), nil
}

// DataURI encodes payload as a base64 data URI.
func DataURI(format string, payload []byte) string {
	return "data:image/" + format + ";base64," + base64.StdEncoding.EncodeToString(payload)
}

// parseColor understands #rgb, #rrggbb and the names white, black and
// transparent. Anything else is white.
func parseColor(s string) color.Color {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "black":
		return color.Black
	case "transparent":
		return color.Transparent
	}
	if strings.HasPrefix(s, "#") {
		hex := s[1:]
		if len(hex) == 3 {
			hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
		}
		var r, g, b uint8
		if len(hex) == 6 {
			if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err == nil {
				return color.NRGBA{R: r, G: g, B: b, A: 0xff}
			}
		}
	}
	return color.White
}
