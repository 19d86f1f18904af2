package rpcrelay

import (
	"github.com/bloXroute-Labs/rpcrelay/common"
	"github.com/holiman/uint256"
)

const (
	DefaultIngressOverhead = 100
	DefaultFixedReceive    = 1_200_000
	DefaultPerIngressByte  = 2_000
	DefaultFixedOutcall    = 400_000_000
	DefaultPerResponseByte = 100_000
)

// CostModel holds the fee constants. The zero value charges nothing.
type CostModel struct {
	IngressOverhead uint64 `yaml:"ingress-overhead"`
	FixedReceive    uint64 `yaml:"fixed-receive"`
	PerIngressByte  uint64 `yaml:"per-ingress-byte"`
	FixedOutcall    uint64 `yaml:"fixed-outcall"`
	PerResponseByte uint64 `yaml:"per-response-byte"`
}

func DefaultCostModel() CostModel {
	return CostModel{
		IngressOverhead: DefaultIngressOverhead,
		FixedReceive:    DefaultFixedReceive,
		PerIngressByte:  DefaultPerIngressByte,
		FixedOutcall:    DefaultFixedOutcall,
		PerResponseByte: DefaultPerResponseByte,
	}
}

// Cost is the fee of one forwarded call:
//
//	ingress = payloadLen + urlLen + IngressOverhead
//	fee     = FixedReceive + PerIngressByte*ingress + FixedOutcall + PerResponseByte*(ingress+responseBound)
//
// Arithmetic is 256-bit so no realistic input overflows.
func (m CostModel) Cost(payloadLen, urlLen int, responseBound uint64) *uint256.Int {
	ingress := uint256.NewInt(uint64(payloadLen))
	ingress.Add(ingress, uint256.NewInt(uint64(urlLen)))
	ingress.Add(ingress, uint256.NewInt(m.IngressOverhead))

	fee := uint256.NewInt(m.FixedReceive)
	fee.Add(fee, new(uint256.Int).Mul(uint256.NewInt(m.PerIngressByte), ingress))
	fee.Add(fee, uint256.NewInt(m.FixedOutcall))

	response := new(uint256.Int).Add(ingress, uint256.NewInt(responseBound))
	fee.Add(fee, response.Mul(response, uint256.NewInt(m.PerResponseByte)))
	return fee
}

// ProviderFee is the part of a provider-targeted relay credited to the
// provider. The per-byte rate is added once, not multiplied by the payload
// length.
func ProviderFee(p *common.Provider, payloadLen int) *uint256.Int {
	fee := uint256.NewInt(p.CyclesPerCall)
	fee.Add(fee, uint256.NewInt(p.CyclesPerMessageByte))
	fee.Add(fee, uint256.NewInt(uint64(payloadLen)))
	return fee
}
