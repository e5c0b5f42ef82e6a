// Package netx contains HTTP helpers for raw binary transfers that do not go
// through the JSON API client.
package netx

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// PutFile streams body to url with a PUT request. Any 2xx status is success.
// headers may carry Content-Type or Authorization; when no Content-Type is
// given the body is sent as application/octet-stream.
func PutFile(ctx context.Context, client *http.Client, url string, body io.Reader, size int64, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return err
	}
	if size >= 0 {
		req.ContentLength = size
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload failed: %s; body: %s", resp.Status, string(b))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
