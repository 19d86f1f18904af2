package rpcrelay

import (
	"time"

	"github.com/bloXroute-Labs/rpcrelay/common"
	"github.com/holiman/uint256"
)

// RelayParams holds the input of a relay call.
type RelayParams struct {
	// The time when the relay request was received.
	ReceivedAt time.Time
	// Authenticated caller.
	Caller common.Identity
	// Cycles attached to the call.
	Funds Funds
	// JSON-RPC payload, forwarded verbatim.
	Payload []byte
	// Upstream url for an anonymous relay.
	ServiceURL string
	// Registered provider for a provider relay.
	ProviderID uint64
	// Upper bound of the upstream response body. Zero means the default.
	MaxResponseBytes uint64
	// Client IP address.
	ClientIP string
	// User agent string.
	UserAgent string
}

// RelayResult is the normalized upstream answer.
type RelayResult struct {
	ReqID   string
	Status  int
	Body    []byte
	Host    string
	Fee     *uint256.Int
	Charged *uint256.Int
}

// CostParams describes a relay to quote.
type CostParams struct {
	Payload          string  `json:"payload"`
	ServiceURL       string  `json:"service_url,omitempty"`
	ProviderID       *uint64 `json:"provider_id,omitempty"`
	MaxResponseBytes uint64  `json:"max_response_bytes"`
}

type costResponse struct {
	Cycles string `json:"cycles"`
}

type registerProviderResponse struct {
	ProviderID uint64 `json:"provider_id"`
}

type withdrawRequest struct {
	Target string `json:"target"`
}

type withdrawResponse struct {
	ProviderID uint64 `json:"provider_id"`
	Amount     string `json:"amount"`
}

type authorizeRequest struct {
	Identity common.Identity `json:"identity"`
	Role     common.Role     `json:"role"`
}

type stableAuthorizeRequest struct {
	Identity common.Identity `json:"identity"`
}

type stableSizeResponse struct {
	Size uint64 `json:"size"`
}
