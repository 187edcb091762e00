package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/shrinkix/quotagate/domain/operation"
	"github.com/shrinkix/quotagate/ports"
)

// DefaultQuality is the JPEG quality used when a request does not set one.
const DefaultQuality = 80

// UnsupportedOutputError is returned when the local engine cannot encode
// the requested output format.
type UnsupportedOutputError struct {
	Format string
}

func (e *UnsupportedOutputError) Error() string {
	return fmt.Sprintf("local engine cannot encode %s", e.Format)
}

// Local is an in-process engine built on imaging. Re-encoding always drops
// embedded metadata.
type Local struct {
	metrics ports.Metrics
}

// NewLocal creates a local engine.
func NewLocal(metrics ports.Metrics) *Local {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Local{metrics: metrics}
}

// Process decodes, transforms and re-encodes an image.
func (l *Local) Process(ctx context.Context, req ports.ProcessRequest) (ports.ProcessResult, error) {
	start := time.Now()
	res, err := l.process(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	l.metrics.EngineCall("local", status, time.Since(start))
	return res, err
}

func (l *Local) process(ctx context.Context, req ports.ProcessRequest) (ports.ProcessResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.ProcessResult{}, err
	}

	src, srcFormat, err := image.Decode(bytes.NewReader(req.Data))
	if err != nil {
		return ports.ProcessResult{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	img := transform(src, req.Operations)

	target := strings.ToLower(req.Operations.Format)
	if target == "" {
		// Keep the source format where it can be written back, else PNG.
		target = srcFormat
		if _, ok := outputFormats[target]; !ok {
			target = "png"
		}
	}
	format, ok := outputFormats[target]
	if !ok {
		return ports.ProcessResult{}, &UnsupportedOutputError{Format: target}
	}

	quality := req.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	err = imaging.Encode(&buf, img, format,
		imaging.JPEGQuality(quality),
		imaging.PNGCompressionLevel(png.BestCompression),
	)
	if err != nil {
		return ports.ProcessResult{}, fmt.Errorf("encode %s: %w", target, err)
	}

	b := img.Bounds()
	return ports.ProcessResult{
		Data:        buf.Bytes(),
		Format:      canonicalName(format),
		ContentType: contentTypes[format],
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

// transform applies resize and crop. Crop fills the exact box from the
// center; a plain resize with both sides set fits inside the box.
func transform(img image.Image, op operation.Request) image.Image {
	w, h := op.Width, op.Height
	switch {
	case op.Crop && w > 0 && h > 0:
		return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
	case w > 0 && h > 0:
		return imaging.Fit(img, w, h, imaging.Lanczos)
	case w > 0 || h > 0:
		return imaging.Resize(img, w, h, imaging.Lanczos)
	default:
		return img
	}
}

var outputFormats = map[string]imaging.Format{
	"jpeg": imaging.JPEG,
	"jpg":  imaging.JPEG,
	"png":  imaging.PNG,
	"gif":  imaging.GIF,
	"bmp":  imaging.BMP,
	"tiff": imaging.TIFF,
}

var contentTypes = map[imaging.Format]string{
	imaging.JPEG: "image/jpeg",
	imaging.PNG:  "image/png",
	imaging.GIF:  "image/gif",
	imaging.BMP:  "image/bmp",
	imaging.TIFF: "image/tiff",
}

func canonicalName(f imaging.Format) string {
	return strings.ToLower(f.String())
}

var _ ports.Processor = (*Local)(nil)
