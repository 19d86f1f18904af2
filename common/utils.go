package common

import (
	"net/http"

	goacceptheaders "github.com/timewasted/go-accept-headers"
)

const (
	MediaTypeJSON        = "application/json"
	MediaTypeOctetStream = "application/octet-stream"
	MediaTypeText        = "text/plain; charset=utf-8"

	HeaderAccept      = "Accept"
	HeaderContentType = "Content-Type"
	HeaderHost        = "Host"
	HeaderUserAgent   = "User-Agent"

	// HeaderRelayCycles carries the cycles a caller offers for one relay.
	HeaderRelayCycles = "X-Relay-Cycles"
	// HeaderRelayCyclesAccepted reports the cycles taken from the offer.
	HeaderRelayCyclesAccepted = "X-Relay-Cycles-Accepted"
	// HeaderRelayCyclesRefunded reports the part of the offer handed back.
	HeaderRelayCyclesRefunded = "X-Relay-Cycles-Refunded"
	// HeaderUpstreamStatus reports the upstream status code of a relayed call.
	HeaderUpstreamStatus = "X-Upstream-Status"
	HeaderRequestID      = "X-Request-Id"
)

// Router paths
const (
	PathIndex            = "/"
	PathNode             = "/node"
	PathRelay            = "/relay"
	PathProviders        = "/providers"
	PathProvider         = "/providers/{id}"
	PathProviderRelay    = "/providers/{id}/relay"
	PathProviderWithdraw = "/providers/{id}/withdraw"
	PathAuthorize        = "/authorize"
	PathAuthorized       = "/authorized/{role}"
	PathCost             = "/cost"
	PathStable           = "/stable"
	PathStableSize       = "/stable/size"
	PathStableAuthorize  = "/stable/authorize"
	PathMetrics          = "/metrics"
	PathLogsInfo         = "/logs/info"
	PathLogsDebug        = "/logs/debug"
	PathLogsRelays       = "/logs/relays"
)

// PreferredRelayMediaType negotiates how a relayed body is returned. Relayed
// bodies are JSON-RPC by default; a client may ask for the raw bytes with
// "Accept: application/octet-stream".
func PreferredRelayMediaType(req *http.Request) string {
	rawAcceptContentTypes := req.Header.Get(HeaderAccept)
	if rawAcceptContentTypes == "" {
		return MediaTypeJSON
	}
	if rawAcceptContentTypes == MediaTypeOctetStream {
		return MediaTypeOctetStream
	}
	parsedAcceptContentTypes := goacceptheaders.Parse(rawAcceptContentTypes)
	preferredContentType, err := parsedAcceptContentTypes.Negotiate(MediaTypeJSON, MediaTypeOctetStream)
	if err != nil || preferredContentType == "" {
		return MediaTypeJSON
	}
	return preferredContentType
}
