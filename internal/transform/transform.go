// Package transform implements the transformation DSL (§4.5): an ordered,
// comma-separated list of image operators with a stable textual round-trip.
// Grounded directly on the original implementation's transformations.rs
// grammar and its round-trip test cases.
package transform

import (
	"fmt"
	"strconv"
	"strings"

	"mediaserver/internal/mediaerr"
)

// Kind identifies which operator a Transformation holds.
type Kind int

const (
	KindScale Kind = iota
	KindResize
	KindBackground
	KindBlur
	KindCrop
	KindNoop
)

// Transformation is a single operator in the list. Only the fields
// relevant to Kind are meaningful.
type Transformation struct {
	Kind Kind

	ScaleFactor float32 // Scale

	ResizeW, ResizeH uint32 // Resize

	BackgroundColor uint32 // Background, 0xRRGGBB

	BlurSigma float32 // Blur

	CropX, CropY, CropW, CropH uint32 // Crop
}

func Scale(factor float32) Transformation { return Transformation{Kind: KindScale, ScaleFactor: factor} }
func Resize(w, h uint32) Transformation   { return Transformation{Kind: KindResize, ResizeW: w, ResizeH: h} }
func Background(color uint32) Transformation {
	return Transformation{Kind: KindBackground, BackgroundColor: color}
}
func Blur(sigma float32) Transformation { return Transformation{Kind: KindBlur, BlurSigma: sigma} }
func Crop(x, y, w, h uint32) Transformation {
	return Transformation{Kind: KindCrop, CropX: x, CropY: y, CropW: w, CropH: h}
}
func Noop() Transformation { return Transformation{Kind: KindNoop} }

// List is an ordered transformation list.
type List []Transformation

// formatFloat renders f with the minimal digits Go's float32 formatting
// naturally produces — the round-trip law only needs this to be stable and
// parseable by ParseFloat, not to match any other language's formatter.
func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

func (t Transformation) String() string {
	switch t.Kind {
	case KindScale:
		return "s" + formatFloat(t.ScaleFactor)
	case KindResize:
		return fmt.Sprintf("r%d_%d", t.ResizeW, t.ResizeH)
	case KindBackground:
		return fmt.Sprintf("bg%06x", t.BackgroundColor)
	case KindBlur:
		return "bl" + formatFloat(t.BlurSigma)
	case KindCrop:
		return fmt.Sprintf("c%d_%d_%d_%d", t.CropX, t.CropY, t.CropW, t.CropH)
	case KindNoop:
		return "id"
	default:
		return ""
	}
}

// Format renders the list in canonical textual form.
func Format(l List) string {
	parts := make([]string, len(l))
	for i, t := range l {
		parts[i] = t.String()
	}
	return strings.Join(parts, ",")
}

// Parse parses a comma-separated transformation list. An empty string
// parses to an empty list.
func Parse(s string) (List, error) {
	if s == "" {
		return List{}, nil
	}
	parts := strings.Split(s, ",")
	result := make(List, 0, len(parts))
	for _, p := range parts {
		t, err := parseOne(p)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

func parseOne(s string) (Transformation, error) {
	if s == "" {
		return Transformation{}, mediaerr.Validationf("cannot parse an empty transformation")
	}
	switch s[0] {
	case 's':
		f, err := strconv.ParseFloat(s[1:], 32)
		if err != nil {
			return Transformation{}, mediaerr.Validationf("invalid scale %q: %v", s, err)
		}
		return Scale(float32(f)), nil
	case 'r':
		idx := strings.IndexByte(s, '_')
		if idx < 0 {
			return Transformation{}, mediaerr.Validationf("invalid resize %q", s)
		}
		w, err := strconv.ParseUint(s[1:idx], 10, 32)
		if err != nil {
			return Transformation{}, mediaerr.Validationf("invalid resize width %q: %v", s, err)
		}
		h, err := strconv.ParseUint(s[idx+1:], 10, 32)
		if err != nil {
			return Transformation{}, mediaerr.Validationf("invalid resize height %q: %v", s, err)
		}
		return Resize(uint32(w), uint32(h)), nil
	case 'b':
		if len(s) < 2 {
			return Transformation{}, mediaerr.Validationf("invalid transformation %q", s)
		}
		switch s[1] {
		case 'g':
			color, err := strconv.ParseUint(s[2:], 16, 32)
			if err != nil {
				return Transformation{}, mediaerr.Validationf("invalid background %q: %v", s, err)
			}
			return Background(uint32(color)), nil
		case 'l':
			f, err := strconv.ParseFloat(s[2:], 32)
			if err != nil {
				return Transformation{}, mediaerr.Validationf("invalid blur %q: %v", s, err)
			}
			return Blur(float32(f)), nil
		default:
			return Transformation{}, mediaerr.Validationf("could not parse %q into a transformation", s)
		}
	case 'i':
		if len(s) >= 2 && s[1] == 'd' {
			return Noop(), nil
		}
		return Transformation{}, mediaerr.Validationf("could not parse %q into a transformation", s)
	case 'c':
		a := strings.IndexByte(s, '_')
		if a < 0 {
			break
		}
		x, err := strconv.ParseUint(s[1:a], 10, 32)
		if err != nil {
			break
		}
		rest := s[a+1:]
		b := strings.IndexByte(rest, '_')
		if b < 0 {
			break
		}
		y, err := strconv.ParseUint(rest[:b], 10, 32)
		if err != nil {
			break
		}
		rest = rest[b+1:]
		c := strings.IndexByte(rest, '_')
		if c < 0 {
			break
		}
		w, err := strconv.ParseUint(rest[:c], 10, 32)
		if err != nil {
			break
		}
		h, err := strconv.ParseUint(rest[c+1:], 10, 32)
		if err != nil {
			break
		}
		return Crop(uint32(x), uint32(y), uint32(w), uint32(h)), nil
	}
	return Transformation{}, mediaerr.Validationf("could not parse %q into a transformation", s)
}
