package common

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// ZeroCycles returns a fresh zero amount.
func ZeroCycles() *uint256.Int {
	return new(uint256.Int)
}

// ParseCycles parses a decimal or 0x-prefixed hex amount. An empty string is zero.
func ParseCycles(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ZeroCycles(), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := uint256.FromHex("0x" + s[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid cycles amount %q: %w", s, err)
		}
		return v, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cycles amount %q: %w", s, err)
	}
	return v, nil
}

// CyclesToFloat is a lossy conversion used only for metrics.
func CyclesToFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	if v.IsUint64() {
		return float64(v.Uint64())
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
