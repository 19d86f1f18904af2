package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gjson "github.com/goccy/go-json"
)

var ErrHTTPErrorResponse = errors.New("got an HTTP error response")

// maxControlResponse bounds what a control-plane peer may send back.
const maxControlResponse = 1 << 20

// Call is a control-plane JSON request, such as a ledger transfer. Relays go
// through Client.Forward instead.
type Call struct {
	Method string
	URL    string
	Body   any
	Header http.Header
}

// Outcome reports how a Call went on the wire, whether or not it succeeded.
type Outcome struct {
	Status   int
	Duration time.Duration
}

// StatusError is returned for any answer of 300 or above. It matches
// ErrHTTPErrorResponse with errors.Is.
type StatusError struct {
	URL     string `json:"-"`
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d from %s: %s", ErrHTTPErrorResponse, e.Status, e.URL, e.Message)
}

func (e *StatusError) Unwrap() error { return ErrHTTPErrorResponse }

// Fetch performs c and decodes a JSON answer into dst when dst is non-nil.
func Fetch(ctx context.Context, client *http.Client, c Call, dst any) (Outcome, error) {
	req, err := c.build(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	out := Outcome{Duration: time.Since(start)}
	if err != nil {
		return out, fmt.Errorf("calling %s: %w", c.URL, err)
	}
	defer resp.Body.Close()
	out.Status = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxControlResponse))
	if err != nil {
		return out, fmt.Errorf("reading answer from %s: %w", c.URL, err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		se := &StatusError{URL: c.URL, Status: resp.StatusCode}
		if gjson.Unmarshal(body, se) != nil || se.Message == "" {
			se.Message = string(body)
		}
		return out, se
	}

	if dst == nil || len(body) == 0 {
		return out, nil
	}
	if err := gjson.Unmarshal(body, dst); err != nil {
		return out, fmt.Errorf("decoding answer from %s: %w", c.URL, err)
	}
	return out, nil
}

func (c Call) build(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if c.Body != nil {
		raw, err := gjson.Marshal(c.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding request for %s: %w", c.URL, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, c.Method, c.URL, body)
	if err != nil {
		return nil, fmt.Errorf("invalid request for %s: %w", c.URL, err)
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
