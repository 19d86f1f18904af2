package rpcrelay

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bloXroute-Labs/rpcrelay/httpclient"
	"github.com/holiman/uint256"
)

var (
	ErrNoPermission      = errors.New("no permission")
	ErrInvalidURL        = errors.New("unable to parse serviceUrl")
	ErrHostMissing       = errors.New("unable to get host from serviceUrl")
	ErrHostNotAllowed    = errors.New("host not on allowlist")
	ErrProviderNotFound  = errors.New("provider not found")
	ErrForbidden         = errors.New("forbidden")
	ErrProviderOwnership = errors.New("not authorized to unregister provider")
	ErrStableOutOfBounds = errors.New("stable memory access out of bounds")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// TooFewCyclesError reports the fee a relay needed and the funds the caller
// offered.
type TooFewCyclesError struct {
	Required  *uint256.Int
	Available *uint256.Int
}

func (e *TooFewCyclesError) Error() string {
	return fmt.Sprintf("Too few cycles, expected %s but got %s", e.Required.Dec(), e.Available.Dec())
}

// ErrorKind labels relay failures in metrics.
type ErrorKind string

const (
	KindNoPermission     ErrorKind = "no_permission"
	KindTooFewCycles     ErrorKind = "too_few_cycles"
	KindInvalidURL       ErrorKind = "invalid_url"
	KindHostMissing      ErrorKind = "host_missing"
	KindHostNotAllowed   ErrorKind = "host_not_allowed"
	KindProviderNotFound ErrorKind = "provider_not_found"
	KindInvalidArgument  ErrorKind = "invalid_argument"
	KindTransport        ErrorKind = "transport"
	KindInternal         ErrorKind = "internal"
)

func errorKind(err error) ErrorKind {
	var tooFew *TooFewCyclesError
	var transport *httpclient.TransportError
	switch {
	case errors.Is(err, ErrNoPermission):
		return KindNoPermission
	case errors.As(err, &tooFew):
		return KindTooFewCycles
	case errors.Is(err, ErrInvalidURL):
		return KindInvalidURL
	case errors.Is(err, ErrHostMissing):
		return KindHostMissing
	case errors.Is(err, ErrHostNotAllowed):
		return KindHostNotAllowed
	case errors.Is(err, ErrProviderNotFound):
		return KindProviderNotFound
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.As(err, &transport):
		return KindTransport
	}
	return KindInternal
}

// statusCode maps an operation error onto the HTTP status the server answers with.
func statusCode(err error) int {
	var tooFew *TooFewCyclesError
	var transport *httpclient.TransportError
	switch {
	case errors.Is(err, ErrNoPermission), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrProviderOwnership), errors.Is(err, ErrHostNotAllowed):
		return http.StatusForbidden
	case errors.As(err, &tooFew):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrInvalidURL), errors.Is(err, ErrHostMissing),
		errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrStableOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, ErrProviderNotFound):
		return http.StatusNotFound
	case errors.As(err, &transport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type ErrorResp struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResp) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *ErrorResp) ErrorCode() int {
	if e == nil {
		return 0
	}
	return e.Code
}

func toErrorResp(code int, msg string) *ErrorResp {
	return &ErrorResp{Code: code, Message: msg}
}

// asErrorResp converts any operation error into the wire error. The log
// context travels separately in the LogMetric handed to respondError.
func asErrorResp(err error) *ErrorResp {
	var resp *ErrorResp
	if errors.As(err, &resp) {
		return resp
	}
	return toErrorResp(statusCode(err), err.Error())
}
