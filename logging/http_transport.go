package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxErrorBody = 512

type HTTPTransportConfig struct {
	URL         string
	APIToken    string
	InstanceID  string
	Encoding    Encoding
	Compression Compression
	Client      *http.Client
}

// HTTPTransport posts each batch to the collector URL. With the zero
// Encoding and Compression the request is plain JSON.
type HTTPTransport struct {
	url         string
	apiToken    string
	instanceID  string
	encoding    Encoding
	compression Compression
	client      *http.Client
}

func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse collector url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("collector url %q: unsupported scheme %q", cfg.URL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("collector url %q: missing host", cfg.URL)
	}

	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = EncodingJSON
	}
	compression := cfg.Compression
	if compression == "" {
		compression = CompressionNone
	}

	return &HTTPTransport{
		url:         cfg.URL,
		apiToken:    cfg.APIToken,
		instanceID:  cfg.InstanceID,
		encoding:    encoding,
		compression: compression,
		client:      client,
	}, nil
}

func (t *HTTPTransport) Deliver(ctx context.Context, batch Batch) error {
	data, err := EncodeBatch(batch, t.encoding)
	if err != nil {
		return err
	}
	body, err := Compress(data, t.compression)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", t.encoding.ContentType())
	if t.compression == CompressionGzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if t.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiToken)
	}
	if t.instanceID != "" {
		req.Header.Set("X-Instance-ID", t.instanceID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return WrapErrorWithType("post batch", err, "network_error")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
	}
}
