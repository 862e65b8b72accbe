// Package rest is the shared JSON request helper for SDK components. It
// exists so the facade, the sessions service, and the refresh coordinator
// build requests the same way: JSON bodies, decoded envelopes, coded errors.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rutvikpatel14/session-intelligence-go/apierr"
)

// maxBodyBytes bounds response reads; backend payloads are small JSON.
const maxBodyBytes = 1 << 20

// Do issues one JSON request and decodes the response into out when out is
// non-nil. Failure responses are returned as *apierr.Error with the server
// envelope decoded; transport failures are wrapped verbatim.
func Do(ctx context.Context, hc *http.Client, method, url string, in, out any) error {
	return DoWithHeaders(ctx, hc, method, url, in, nil, out)
}

// DoWithHeaders is Do with extra request headers, for callers that attach
// tokens outside the pipeline (the refresh call itself).
func DoWithHeaders(ctx context.Context, hc *http.Client, method, url string, in any, headers http.Header, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return apierr.FromResponse(resp, body)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}
