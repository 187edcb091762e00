// Package operation prices a request's requested transforms against a plan's
// operation ceiling.
package operation

import (
	"fmt"
	"strings"
)

// Kind names a billable transform.
type Kind string

const (
	KindCompress Kind = "compress"
	KindResize   Kind = "resize"
	KindCrop     Kind = "crop"
	KindConvert  Kind = "convert"
	KindMetadata Kind = "metadata"
)

// Metadata preservation modes.
const (
	MetadataStrip = "strip"
	MetadataKeep  = "keep"
)

// Request describes the transforms a caller asked for (value type).
type Request struct {
	Width    int    // 0 = no resize
	Height   int    // 0 = no resize
	Crop     bool   // crop to exact Width x Height
	Format   string // "" = keep source format
	Metadata string // MetadataStrip (default) or MetadataKeep
}

// Breakdown lists the transforms that contribute to cost, in a fixed order.
// Compression is always first.
// This is a PURE function.
func Breakdown(r Request) []Kind {
	kinds := []Kind{KindCompress}
	if r.Width > 0 || r.Height > 0 {
		kinds = append(kinds, KindResize)
	}
	if r.Crop {
		kinds = append(kinds, KindCrop)
	}
	if r.Format != "" {
		kinds = append(kinds, KindConvert)
	}
	if strings.EqualFold(r.Metadata, MetadataKeep) {
		kinds = append(kinds, KindMetadata)
	}
	return kinds
}

// Cost returns the integer cost of a request.
// This is a PURE function.
func Cost(r Request) int {
	return len(Breakdown(r))
}

// CeilingError is returned when a request costs more than the plan allows.
// Only a smaller request resolves it; retrying unchanged never does.
type CeilingError struct {
	Requested  int
	Allowed    int
	Operations []Kind
}

func (e *CeilingError) Error() string {
	return fmt.Sprintf("requested %d operations, plan allows %d", e.Requested, e.Allowed)
}

// Check compares a request's cost to the plan ceiling.
// A non-positive ceiling means compression only.
// This is a PURE function.
func Check(r Request, maxOperations int) error {
	if maxOperations < 1 {
		maxOperations = 1
	}
	kinds := Breakdown(r)
	if len(kinds) <= maxOperations {
		return nil
	}
	return &CeilingError{
		Requested:  len(kinds),
		Allowed:    maxOperations,
		Operations: kinds,
	}
}
