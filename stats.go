package rpcrelay

import (
	"time"
)

const (
	StatsRelay            = "stats.rpc-relay-relay"
	StatsProviderWithdraw = "stats.rpc-relay-provider-withdraw"

	TypeRelay            = "rpc_relay_relay"
	TypeProviderWithdraw = "rpc_relay_provider_withdraw"
)

// RelayReceipt summarizes one relay for the diagnostic log and fluentd.
type RelayReceipt struct {
	ReqID         string    `json:"req_id"`
	ReceivedAt    time.Time `json:"received_at"`
	DurationMS    int64     `json:"duration_ms"`
	Caller        string    `json:"caller"`
	ClientIP      string    `json:"client_ip,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	Host          string    `json:"host,omitempty"`
	ProviderID    *uint64   `json:"provider_id,omitempty"`
	RPCMethod     string    `json:"rpc_method,omitempty"`
	RPCID         string    `json:"rpc_id,omitempty"`
	RPCBatch      int       `json:"rpc_batch,omitempty"`
	PayloadSize   int       `json:"payload_size"`
	ResponseBound uint64    `json:"response_bound"`
	Fee           string    `json:"fee,omitempty"`
	ProviderFee   string    `json:"provider_fee,omitempty"`
	Charged       string    `json:"charged"`
	Refunded      string    `json:"refunded"`
	Free          bool      `json:"free"`
	Status        int       `json:"status,omitempty"`
	Succeeded     bool      `json:"succeeded"`
	Error         string    `json:"error,omitempty"`
	NodeID        string    `json:"node_id"`
}

type WithdrawStatsRecord struct {
	ReqID      string    `json:"req_id"`
	Time       time.Time `json:"time"`
	Caller     string    `json:"caller"`
	ProviderID uint64    `json:"provider_id"`
	Target     string    `json:"target"`
	Amount     string    `json:"amount"`
	Succeeded  bool      `json:"succeeded"`
	Error      string    `json:"error,omitempty"`
	NodeID     string    `json:"node_id"`
}
