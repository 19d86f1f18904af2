package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultMaxResponseBytes bounds a relayed body when the caller gives no bound.
	DefaultMaxResponseBytes uint64 = 2 * 1024 * 1024
	DefaultTimeout                 = 30 * time.Second
)

// RejectionCode classifies why a forwarded call failed.
type RejectionCode int

const (
	RejectionNoError RejectionCode = iota
	RejectionSysFatal
	RejectionSysTransient
	RejectionDestinationInvalid
	RejectionRemoteReject
	RejectionRemoteError
	RejectionUnknown
)

var rejectionNames = map[RejectionCode]string{
	RejectionNoError:            "NoError",
	RejectionSysFatal:           "SysFatal",
	RejectionSysTransient:       "SysTransient",
	RejectionDestinationInvalid: "DestinationInvalid",
	RejectionRemoteReject:       "Reject",
	RejectionRemoteError:        "Error",
	RejectionUnknown:            "Unknown",
}

func (c RejectionCode) String() string {
	if name, ok := rejectionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("RejectionCode(%d)", int(c))
}

// TransportError is a failed forwarded call.
type TransportError struct {
	Code    RejectionCode
	Message string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("http_request error %s: %s", e.Code, e.Message)
}

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Response struct {
	Status  int      `json:"status"`
	Headers []Header `json:"headers"`
	Body    []byte   `json:"body"`
}

// Transform post-processes the upstream response before Forward returns it.
type Transform func(Response) Response

type Request struct {
	URL              string
	Method           string
	Headers          []Header
	Body             []byte
	MaxResponseBytes uint64
	Transform        Transform
}

// Transport performs one outbound call. Implementations must apply
// req.Transform to the response before returning it.
type Transport interface {
	Forward(ctx context.Context, req Request) (Response, error)
}

type Client struct {
	httpClient *http.Client
}

var _ Transport = (*Client)(nil)

// NewClient wraps c. A nil c gets a client with DefaultTimeout.
func NewClient(c *http.Client) *Client {
	if c == nil {
		c = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{httpClient: c}
}

// Forward issues req and returns the transformed response. Any upstream
// status is a successful call; only transport-level failures are errors.
func (c *Client) Forward(ctx context.Context, req Request) (Response, error) {
	if req.Transform == nil {
		return Response{}, &TransportError{Code: RejectionSysFatal, Message: "missing response transform"}
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	limit := req.MaxResponseBytes
	if limit == 0 {
		limit = DefaultMaxResponseBytes
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, &TransportError{Code: RejectionDestinationInvalid, Message: err.Error()}
	}
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, "Host") {
			httpReq.Host = h.Value
			continue
		}
		httpReq.Header.Add(h.Name, h.Value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, classify(err)
	}
	defer resp.Body.Close()

	// one byte past the limit detects an oversize body
	readCap := int64(math.MaxInt64)
	if limit < math.MaxInt64 {
		readCap = int64(limit) + 1
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, readCap))
	if err != nil {
		return Response{}, &TransportError{Code: RejectionSysTransient, Message: fmt.Sprintf("reading response body: %v", err)}
	}
	if uint64(len(body)) > limit {
		return Response{}, &TransportError{
			Code:    RejectionSysFatal,
			Message: fmt.Sprintf("Http body exceeds size limit of %d bytes.", limit),
		}
	}

	out := Response{Status: resp.StatusCode, Body: body}
	for name, values := range resp.Header {
		for _, v := range values {
			out.Headers = append(out.Headers, Header{Name: name, Value: v})
		}
	}
	return req.Transform(out), nil
}

// classify maps a client error to a rejection code. Unresolvable hosts are a
// bad destination, everything else is assumed to be transient.
func classify(err error) *TransportError {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &TransportError{Code: RejectionDestinationInvalid, Message: err.Error()}
	}
	return &TransportError{Code: RejectionSysTransient, Message: err.Error()}
}
