package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shrinkix/quotagate/ports"
)

// maxResultSize bounds the engine response body.
const maxResultSize = 100 << 20

// RemoteConfig contains configuration for the remote engine client.
type RemoteConfig struct {
	BaseURL         string
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// EngineError is returned when the remote engine answers with a failure.
type EngineError struct {
	StatusCode int
	Message    string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine returned %d: %s", e.StatusCode, e.Message)
}

// Remote sends processing jobs to an external engine over HTTP.
//
// The job is a multipart form with the image under "file" and the
// transforms as plain fields; the engine replies with the encoded image and
// reports its dimensions in X-Image-Width and X-Image-Height.
type Remote struct {
	client  *http.Client
	baseURL *url.URL
	metrics ports.Metrics
}

// NewRemote creates a new remote engine client.
func NewRemote(cfg RemoteConfig, metrics ports.Metrics) (*Remote, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse engine URL: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("engine URL %q must be absolute", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = 100
	}
	idleConnTimeout := cfg.IdleConnTimeout
	if idleConnTimeout == 0 {
		idleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     idleConnTimeout,
		// Image payloads are already compressed.
		DisableCompression: true,
	}

	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	return &Remote{
		client:  &http.Client{Transport: transport, Timeout: timeout},
		baseURL: baseURL,
		metrics: metrics,
	}, nil
}

// Process forwards a job to the engine and returns its output.
func (r *Remote) Process(ctx context.Context, req ports.ProcessRequest) (ports.ProcessResult, error) {
	start := time.Now()
	res, err := r.process(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.EngineCall("remote", status, time.Since(start))
	return res, err
}

func (r *Remote) process(ctx context.Context, req ports.ProcessRequest) (ports.ProcessResult, error) {
	body, contentType, err := encodeJob(req)
	if err != nil {
		return ports.ProcessResult{}, err
	}

	endpoint := r.baseURL.ResolveReference(&url.URL{Path: "process"})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), body)
	if err != nil {
		return ports.ProcessResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return ports.ProcessResult{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultSize))
	if err != nil {
		return ports.ProcessResult{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return ports.ProcessResult{}, &EngineError{StatusCode: resp.StatusCode, Message: msg}
	}

	ct := resp.Header.Get("Content-Type")
	width, _ := strconv.Atoi(resp.Header.Get("X-Image-Width"))
	height, _ := strconv.Atoi(resp.Header.Get("X-Image-Height"))

	return ports.ProcessResult{
		Data:        data,
		Format:      strings.TrimPrefix(ct, "image/"),
		ContentType: ct,
		Width:       width,
		Height:      height,
	}, nil
}

func encodeJob(req ports.ProcessRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"metadata": req.Operations.Metadata,
		"format":   req.Operations.Format,
	}
	if req.Operations.Width > 0 {
		fields["width"] = strconv.Itoa(req.Operations.Width)
	}
	if req.Operations.Height > 0 {
		fields["height"] = strconv.Itoa(req.Operations.Height)
	}
	if req.Operations.Crop {
		fields["crop"] = "true"
	}
	if req.Quality > 0 {
		fields["quality"] = strconv.Itoa(req.Quality)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}

	name := req.Filename
	if name == "" {
		name = "upload"
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

var _ ports.Processor = (*Remote)(nil)

// HealthCheck verifies the engine is reachable. Any HTTP response counts.
func (r *Remote) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.baseURL.String(), nil)
	if err != nil {
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Close releases idle connections.
func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
