// Package engine provides image header probing and the image processing
// engines: a remote engine reached over HTTP and a built-in local engine.
package engine

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/shrinkix/quotagate/ports"
)

// ErrUndecodable is returned when an image header cannot be read.
var ErrUndecodable = errors.New("image header could not be decoded")

// HeaderProber reads dimensions and format from an image header without
// decoding pixel data.
type HeaderProber struct{}

// Probe returns the format and dimensions of data.
func (HeaderProber) Probe(data []byte) (ports.ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ports.ImageInfo{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return ports.ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

var _ ports.Prober = HeaderProber{}
