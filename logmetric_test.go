package rpcrelay

import (
	"errors"
	"math"
	"testing"

	"github.com/bloXroute-Labs/rpcrelay/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func TestLogMetric_Map(t *testing.T) {
	lm := NewLogMetric(
		[]zap.Field{zap.String("method", "relay")},
		[]attribute.KeyValue{attribute.String("method", "relay")},
	)
	lm.Cycles("fee", uint256.NewInt(1_234))
	lm.Cycles("charged", nil)
	lm.Identity("caller", common.Anonymous)
	lm.Uint64("big", math.MaxUint64)
	lm.Uint64("small", 7)
	lm.Bool("free", true)
	lm.Error(nil)

	m := lm.Map()
	assert.Equal(t, "relay", m["method"])
	assert.Equal(t, "1234", m["fee"])
	assert.Equal(t, "0", m["charged"])
	assert.Equal(t, common.Anonymous.String(), m["caller"])
	assert.Equal(t, "18446744073709551615", m["big"])
	assert.Equal(t, int64(7), m["small"])
	assert.Equal(t, true, m["free"])
	_, hasErr := m["Err"]
	assert.False(t, hasErr)

	lm.Error(errors.New("boom"))
	assert.Equal(t, "boom", lm.Map()["Err"])
	assert.Len(t, lm.GetFields(), len(lm.GetAttributes()))
}

func TestLogMetric_Merge(t *testing.T) {
	lm := NewLogMetric(nil, nil)
	lm.String("reqID", "a")

	other := NewLogMetric(nil, nil)
	other.String("reqID", "b")
	other.Int64("durationMS", 12)

	lm.Merge(other)
	lm.Merge(nil)
	lm.Merge(lm)

	m := lm.Map()
	require.Len(t, m, 2)
	assert.Equal(t, "a", m["reqID"])
	assert.Equal(t, int64(12), m["durationMS"])
}
