package rpcrelay

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
)

var errMalformedAuth = errors.New("invalid auth header")

// AuthParam is both the header and the query parameter carrying credentials.
const AuthParam = "auth"

// Credentials are what a caller presents: an account and its secret, sent as
// base64("account:secret").
type Credentials struct {
	AccountID string
	Secret    string
}

// ClientIP prefers the first X-Forwarded-For hop and falls back to the
// connection address without its port.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// CredentialsFrom reads the auth header, then the auth query parameter.
// ok is false when the caller sent neither.
func CredentialsFrom(r *http.Request) (creds Credentials, ok bool, err error) {
	raw := r.Header.Get(AuthParam)
	if raw == "" {
		raw = r.URL.Query().Get(AuthParam)
	}
	if raw == "" {
		return Credentials{}, false, nil
	}
	creds, err = DecodeAuth(raw)
	return creds, true, err
}

func DecodeAuth(in string) (Credentials, error) {
	if in == "" {
		return Credentials{}, fmt.Errorf("empty auth header")
	}
	decoded, err := base64.StdEncoding.DecodeString(in)
	if err != nil {
		return Credentials{}, errMalformedAuth
	}
	account, secret, found := strings.Cut(string(decoded), ":")
	if !found || account == "" {
		return Credentials{}, errMalformedAuth
	}
	return Credentials{AccountID: account, Secret: secret}, nil
}

func (c Credentials) Encode() string {
	return base64.StdEncoding.EncodeToString([]byte(c.AccountID + ":" + c.Secret))
}

func EncodeAuth(accountID, secret string) string {
	return Credentials{AccountID: accountID, Secret: secret}.Encode()
}

// ParseUint parses an optional unsigned query value. Empty means zero.
func ParseUint(value string) (uint64, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an unsigned integer", ErrInvalidArgument, value)
	}
	return n, nil
}
