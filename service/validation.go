package service

import (
	"errors"
	"regexp"

	"github.com/kishor-kashid/collabcanvas/models"
)

var hexColorRegex = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Share codes are 10 chars from a crockford-ish alphabet (no 0/O/1/I/L)
var shareCodeRegex = regexp.MustCompile(`^[A-HJ-KM-NP-Z2-9]{10}$`)

// Compositing modes the frontend renderer understands. Anything else would
// silently fall back to source-over on some browsers, so reject it here.
var validBlendModes = map[string]struct{}{
	"normal":   {},
	"multiply": {},
	"screen":   {},
	"overlay":  {},
	"darken":   {},
	"lighten":  {},
}

const (
	maxTextLength  = 5000
	maxFontSize    = 400
	minCanvasName  = 1
	maxCanvasName  = 100
	minCanvasDim   = 100
	maxCanvasDim   = 10000
	maxShapeExtent = 100000
	maxStrokeWidth = 100
)

func validFill(fill string) bool {
	return hexColorRegex.MatchString(fill)
}

func validOpacity(opacity float64) bool {
	return opacity >= 0 && opacity <= 1
}

func validBlendMode(mode string) bool {
	_, ok := validBlendModes[mode]
	return ok
}

// ValidateShape checks a client-supplied shape before it enters a document.
// Exactly one geometry variant must be set and it must match the type tag.
func ValidateShape(shape models.Shape) error {
	variants := 0
	if shape.Rect != nil {
		variants++
	}
	if shape.Circle != nil {
		variants++
	}
	if shape.Text != nil {
		variants++
	}
	if shape.Line != nil {
		variants++
	}
	if variants != 1 {
		return errors.New("shape must carry exactly one geometry variant")
	}

	switch shape.Type {
	case models.ShapeRectangle:
		if shape.Rect == nil {
			return errors.New("rectangle shape missing rect geometry")
		}
		if err := validateRect(*shape.Rect); err != nil {
			return err
		}
	case models.ShapeCircle:
		if shape.Circle == nil {
			return errors.New("circle shape missing circle geometry")
		}
		if err := validateCircle(*shape.Circle); err != nil {
			return err
		}
	case models.ShapeText:
		if shape.Text == nil {
			return errors.New("text shape missing text geometry")
		}
		if err := validateText(*shape.Text); err != nil {
			return err
		}
	case models.ShapeLine:
		if shape.Line == nil {
			return errors.New("line shape missing line geometry")
		}
		if err := validateLine(*shape.Line); err != nil {
			return err
		}
	default:
		return errors.New("invalid shape type")
	}

	if shape.Fill != "" && !validFill(shape.Fill) {
		return errors.New("invalid fill color")
	}
	if !validOpacity(shape.Opacity) {
		return errors.New("invalid opacity")
	}
	if shape.BlendMode != "" && !validBlendMode(shape.BlendMode) {
		return errors.New("invalid blend mode")
	}

	return nil
}

func validateRect(g models.RectGeometry) error {
	if g.Width <= 0 || g.Height <= 0 || g.Width > maxShapeExtent || g.Height > maxShapeExtent {
		return errors.New("invalid rectangle dimensions")
	}
	return nil
}

func validateCircle(g models.CircleGeometry) error {
	if g.Radius <= 0 || g.Radius > maxShapeExtent {
		return errors.New("invalid circle radius")
	}
	return nil
}

func validateText(g models.TextGeometry) error {
	if len(g.Text) > maxTextLength {
		return errors.New("text too long")
	}
	if g.FontSize <= 0 || g.FontSize > maxFontSize {
		return errors.New("invalid font size")
	}
	if g.Width < 0 || g.Width > maxShapeExtent {
		return errors.New("invalid text width")
	}
	return nil
}

func validateLine(g models.LineGeometry) error {
	if g.StrokeWidth <= 0 || g.StrokeWidth > maxStrokeWidth {
		return errors.New("invalid stroke width")
	}
	return nil
}

// ValidatePatch checks the fields a partial update actually carries.
func ValidatePatch(patch models.ShapePatch) error {
	if patch.IsEmpty() {
		return errors.New("empty patch")
	}
	if patch.Rect != nil {
		if err := validateRect(*patch.Rect); err != nil {
			return err
		}
	}
	if patch.Circle != nil {
		if err := validateCircle(*patch.Circle); err != nil {
			return err
		}
	}
	if patch.Text != nil {
		if err := validateText(*patch.Text); err != nil {
			return err
		}
	}
	if patch.Line != nil {
		if err := validateLine(*patch.Line); err != nil {
			return err
		}
	}
	if patch.Fill != nil && !validFill(*patch.Fill) {
		return errors.New("invalid fill color")
	}
	if patch.Opacity != nil && !validOpacity(*patch.Opacity) {
		return errors.New("invalid opacity")
	}
	if patch.BlendMode != nil && !validBlendMode(*patch.BlendMode) {
		return errors.New("invalid blend mode")
	}
	return nil
}

func ValidateCanvasName(name string) error {
	if len(name) < minCanvasName || len(name) > maxCanvasName {
		return errors.New("invalid canvas name length")
	}
	return nil
}

func ValidateCanvasDims(width int, height int) error {
	if width < minCanvasDim || width > maxCanvasDim {
		return errors.New("invalid canvas width")
	}
	if height < minCanvasDim || height > maxCanvasDim {
		return errors.New("invalid canvas height")
	}
	return nil
}

func ValidateShareCode(code string) error {
	if !shareCodeRegex.MatchString(code) {
		return errors.New("invalid share code format")
	}
	return nil
}

func ValidateCursorColor(color string) error {
	if !hexColorRegex.MatchString(color) {
		return errors.New("invalid cursor color")
	}
	return nil
}
