// Package upload provides pure checks of an uploaded image against a plan's
// file ceilings. They run before any processing.
package upload

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shrinkix/quotagate/domain/plan"
)

// Violation codes.
const (
	CodeSizeExceeded      = "image_size_exceeded"
	CodeUnsupportedFormat = "unsupported_format"
	CodePixelsExceeded    = "pixel_limit_exceeded"
	CodeInvalidImage      = "invalid_image"
)

// Violation is returned when an upload breaks a plan ceiling.
type Violation struct {
	Code    string
	Status  int // HTTP status the edge should use
	Message string
	Details map[string]any
}

func (v *Violation) Error() string { return v.Message }

// File describes an upload as seen before decoding (value type).
type File struct {
	Name string // original filename
	Size int64  // bytes
}

// Format returns the lower-cased extension of a filename without the dot.
// This is a PURE function.
func Format(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// CheckSize rejects files larger than the plan allows.
// This is a PURE function.
func CheckSize(f File, p plan.Plan) error {
	if p.MaxFileSize <= 0 || f.Size <= p.MaxFileSize {
		return nil
	}
	return &Violation{
		Code:    CodeSizeExceeded,
		Status:  413,
		Message: fmt.Sprintf("file size %d bytes exceeds plan limit of %d bytes", f.Size, p.MaxFileSize),
		Details: map[string]any{
			"max_size":  p.MaxFileSize,
			"your_size": f.Size,
		},
	}
}

// CheckFormat rejects formats outside the plan's allow-list. The detected
// format is used when the filename carries no extension.
// This is a PURE function.
func CheckFormat(f File, detected string, p plan.Plan) error {
	format := Format(f.Name)
	if format == "" {
		format = strings.ToLower(detected)
	}
	if p.AllowsFormat(format) {
		return nil
	}
	return &Violation{
		Code:    CodeUnsupportedFormat,
		Status:  415,
		Message: fmt.Sprintf("format %q is not supported on the %s plan", format, p.ID),
		Details: map[string]any{
			"your_format": format,
			"supported":   p.AllowedFormats,
		},
	}
}

// CheckPixels rejects images whose pixel count exceeds the plan ceiling.
// This is a PURE function.
func CheckPixels(width, height int, p plan.Plan) error {
	if width <= 0 || height <= 0 {
		return Invalid("unable to read image dimensions")
	}
	pixels := int64(width) * int64(height)
	if p.MaxPixels <= 0 || pixels <= p.MaxPixels {
		return nil
	}
	return &Violation{
		Code:    CodePixelsExceeded,
		Status:  413,
		Message: fmt.Sprintf("image resolution %dx%d exceeds plan limit", width, height),
		Details: map[string]any{
			"your_resolution": fmt.Sprintf("%dx%d", width, height),
			"your_pixels":     pixels,
			"max_pixels":      p.MaxPixels,
		},
	}
}

// Invalid returns the violation for an image whose header cannot be decoded.
func Invalid(msg string) *Violation {
	return &Violation{
		Code:    CodeInvalidImage,
		Status:  400,
		Message: msg,
	}
}
