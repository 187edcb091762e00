package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/shrinkix/quotagate/domain/credential"
	"github.com/shrinkix/quotagate/domain/operation"
)

// SessionCookie is the name of the browser session cookie.
const SessionCookie = "shrinkix_session"

// DefaultMaxUploadBytes bounds a multipart body before plan ceilings apply.
const DefaultMaxUploadBytes int64 = 50 << 20

// imageField is the multipart field carrying the upload.
const imageField = "image"

// extractInbound collects every credential-bearing value of a request.
// Precedence between them is decided by the resolver, not here.
func extractInbound(r *http.Request) credential.Inbound {
	in := credential.Inbound{
		Authorization: r.Header.Get("Authorization"),
		APIKey:        strings.TrimSpace(r.Header.Get("X-API-Key")),
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		in.Session = c.Value
	}
	return in
}

// extractIP returns the address guest usage is keyed by. Forwarding
// headers are read only when the peer is a trusted proxy; the client is
// then the rightmost X-Forwarded-For hop that is not itself trusted.
func extractIP(r *http.Request, trusted []netip.Prefix) string {
	peer := remoteHost(r.RemoteAddr)
	if !isTrusted(peer, trusted) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !isTrusted(hop, trusted) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func isTrusted(host string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// formError is a malformed multipart field.
type formError struct {
	Field  string
	Reason string
}

func (e *formError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// resizeParams is the JSON form of the resize field.
type resizeParams struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Fit    string `json:"fit"`
}

// uploadBody is a parsed image job body.
type uploadBody struct {
	Filename   string
	Data       []byte
	Operations operation.Request
	Quality    int
}

// parseUpload reads the multipart body of an image job. Transforms are
// taken from either the JSON "resize" field or flat "width"/"height"
// fields; "crop" accepts a JSON object or a boolean.
func parseUpload(r *http.Request, maxBytes int64) (uploadBody, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	var out uploadBody

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return out, &formError{Field: imageField, Reason: "upload exceeds the request size limit"}
		}
		return out, &formError{Field: imageField, Reason: "expected a multipart/form-data body"}
	}

	file, header, err := r.FormFile(imageField)
	if err != nil {
		return out, &formError{Field: imageField, Reason: "an image file is required"}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return out, &formError{Field: imageField, Reason: "unable to read upload"}
	}
	out.Filename = header.Filename
	out.Data = data

	ops, err := parseOperations(r)
	if err != nil {
		return out, err
	}
	out.Operations = ops

	if q := r.FormValue("quality"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 100 {
			return out, &formError{Field: "quality", Reason: "must be an integer between 1 and 100"}
		}
		out.Quality = n
	}

	return out, nil
}

func parseOperations(r *http.Request) (operation.Request, error) {
	var ops operation.Request

	if raw := r.FormValue("resize"); raw != "" {
		var p resizeParams
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return ops, &formError{Field: "resize", Reason: "must be a JSON object"}
		}
		ops.Width, ops.Height = p.Width, p.Height
		if p.Fit == "crop" || p.Fit == "fill" || p.Fit == "cover" {
			ops.Crop = true
		}
	}
	for _, f := range []struct {
		name string
		dst  *int
	}{{"width", &ops.Width}, {"height", &ops.Height}} {
		raw := r.FormValue(f.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return ops, &formError{Field: f.name, Reason: "must be a non-negative integer"}
		}
		*f.dst = n
	}
	if ops.Width < 0 || ops.Height < 0 {
		return ops, &formError{Field: "resize", Reason: "dimensions must be non-negative"}
	}

	if raw := strings.TrimSpace(r.FormValue("crop")); raw != "" {
		switch {
		case strings.HasPrefix(raw, "{"):
			ops.Crop = true
		default:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return ops, &formError{Field: "crop", Reason: "must be a boolean or JSON object"}
			}
			ops.Crop = b
		}
	}
	if ops.Crop && (ops.Width == 0 || ops.Height == 0) {
		return ops, &formError{Field: "crop", Reason: "requires both width and height"}
	}

	ops.Format = strings.ToLower(strings.TrimSpace(r.FormValue("format")))
	if ops.Format == "jpg" {
		ops.Format = "jpeg"
	}

	switch m := strings.ToLower(r.FormValue("metadata")); m {
	case "", operation.MetadataStrip:
		ops.Metadata = operation.MetadataStrip
	case operation.MetadataKeep:
		ops.Metadata = operation.MetadataKeep
	default:
		return ops, &formError{Field: "metadata", Reason: "must be strip or keep"}
	}

	return ops, nil
}
