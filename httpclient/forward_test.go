package httpclient

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(r Response) Response { return r }

func TestClient_Forward(t *testing.T) {
	var (
		gotHost   string
		gotMethod string
		gotBody   string
		gotType   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Date", "Mon, 01 Jan 2024 00:00:00 GMT")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"result":"0x1"}`))
	}))
	defer srv.Close()

	transformed := false
	resp, err := NewClient(srv.Client()).Forward(context.Background(), Request{
		URL: srv.URL,
		Headers: []Header{
			{Name: "Content-Type", Value: "application/json"},
			{Name: "Host", Value: "rpc.example.org"},
		},
		Body: []byte(`{"method":"eth_blockNumber"}`),
		Transform: func(r Response) Response {
			transformed = true
			assert.NotEmpty(t, r.Headers)
			return r
		},
	})
	require.NoError(t, err)

	assert.True(t, transformed)
	assert.Equal(t, http.StatusTeapot, resp.Status)
	assert.Equal(t, `{"result":"0x1"}`, string(resp.Body))
	assert.Equal(t, "rpc.example.org", gotHost)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, `{"method":"eth_blockNumber"}`, gotBody)
}

func TestClient_ForwardErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 64)))
	}))
	defer srv.Close()

	testCases := map[string]struct {
		req  Request
		code RejectionCode
	}{
		"body over the bound": {
			req:  Request{URL: srv.URL, MaxResponseBytes: 10, Transform: identity},
			code: RejectionSysFatal,
		},
		"no transform": {
			req:  Request{URL: srv.URL},
			code: RejectionSysFatal,
		},
		"malformed url": {
			req:  Request{URL: "http://[::1", Transform: identity},
			code: RejectionDestinationInvalid,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := NewClient(srv.Client()).Forward(context.Background(), tc.req)
			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tc.code, te.Code)
		})
	}
}

func TestClient_ForwardHugeBound(t *testing.T) {
	const answer = `{"jsonrpc":"2.0","id":1,"result":"0x1"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(answer))
	}))
	defer srv.Close()

	for name, bound := range map[string]uint64{
		"small":      1024,
		"max int64":  math.MaxInt64,
		"past int64": math.MaxInt64 + 1,
		"max uint64": math.MaxUint64,
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := NewClient(srv.Client()).Forward(context.Background(), Request{URL: srv.URL, MaxResponseBytes: bound, Transform: identity})
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.Status)
			assert.Equal(t, answer, string(resp.Body))
		})
	}
}

func TestClient_ForwardBodyAtBound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.Client()).Forward(context.Background(), Request{URL: srv.URL, MaxResponseBytes: 10, Transform: identity})
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(resp.Body))
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":400,"message":"insufficient"}`))
			return
		}
		_, _ = io.Copy(w, r.Body)
	}))
	defer srv.Close()

	var out map[string]string
	outcome, err := Fetch(context.Background(), srv.Client(), Call{
		Method: http.MethodPost,
		URL:    srv.URL,
		Body:   map[string]string{"account": "a"},
		Header: http.Header{"X-Ledger-Key": []string{"k"}},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, outcome.Status)
	assert.Equal(t, "a", out["account"])

	outcome, err = Fetch(context.Background(), srv.Client(), Call{Method: http.MethodPost, URL: srv.URL + "/fail"}, nil)
	assert.Equal(t, http.StatusBadRequest, outcome.Status)
	assert.ErrorIs(t, err, ErrHTTPErrorResponse)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.Code)
	assert.Contains(t, err.Error(), "insufficient")
}
