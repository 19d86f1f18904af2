package rpcrelay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/bloXroute-Labs/rpcrelay/httpclient"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsErrorResp(t *testing.T) {
	testCases := map[string]struct {
		err      error
		wantCode int
		wantMsg  string
	}{
		"no permission":    {err: ErrNoPermission, wantCode: http.StatusForbidden, wantMsg: "no permission"},
		"wrapped argument": {err: fmt.Errorf("%w: bad bound", ErrInvalidArgument), wantCode: http.StatusBadRequest, wantMsg: "invalid argument: bad bound"},
		"too few cycles": {
			err:      &TooFewCyclesError{Required: uint256.NewInt(10), Available: uint256.NewInt(3)},
			wantCode: http.StatusPaymentRequired,
			wantMsg:  "Too few cycles, expected 10 but got 3",
		},
		"provider not found": {err: ErrProviderNotFound, wantCode: http.StatusNotFound, wantMsg: "provider not found"},
		"transport":          {err: &httpclient.TransportError{Message: "refused"}, wantCode: http.StatusBadGateway},
		"unknown":            {err: errors.New("disk on fire"), wantCode: http.StatusInternalServerError, wantMsg: "disk on fire"},
		"already wire":       {err: toErrorResp(http.StatusRequestEntityTooLarge, "too big"), wantCode: http.StatusRequestEntityTooLarge, wantMsg: "too big"},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			resp := asErrorResp(tc.err)
			assert.Equal(t, tc.wantCode, resp.ErrorCode())
			if tc.wantMsg != "" {
				assert.Equal(t, tc.wantMsg, resp.Error())
			}

			raw, err := json.Marshal(resp)
			require.NoError(t, err)
			var wire map[string]any
			require.NoError(t, json.Unmarshal(raw, &wire))
			assert.Len(t, wire, 2)
			assert.Contains(t, wire, "code")
			assert.Contains(t, wire, "message")
		})
	}

	t.Run("passes an existing wire error through", func(t *testing.T) {
		orig := toErrorResp(http.StatusTeapot, "short and stout")
		assert.Same(t, orig, asErrorResp(fmt.Errorf("wrapped: %w", orig)))
	})
}
