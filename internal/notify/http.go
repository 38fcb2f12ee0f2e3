package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// Option customises a sender.
type Option func(*options)

type options struct {
	client *http.Client
	base   string
}

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithBaseURL points the sender at another API host. Used by tests.
func WithBaseURL(u string) Option {
	return func(o *options) { o.base = u }
}

func buildOptions(base string, opts []Option) options {
	o := options{client: &http.Client{Timeout: defaultTimeout}, base: base}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// postJSON sends payload and treats any non-2xx status as an error carrying
// the start of the response body.
func postJSON(ctx context.Context, client *http.Client, sender, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", sender, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", sender, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", sender, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", sender, resp.StatusCode, string(respBody))
	}
	return nil
}
