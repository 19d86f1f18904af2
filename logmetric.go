package rpcrelay

import (
	"math"
	"strconv"
	"sync"

	"github.com/bloXroute-Labs/rpcrelay/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// LogMetric collects the facts about one call twice: as zap fields for the
// service log and as span attributes for tracing. Both views share keys so a
// later write replaces the earlier one in each.
type LogMetric struct {
	mu         sync.RWMutex
	fields     map[string]zap.Field
	attributes map[string]attribute.KeyValue
}

func NewLogMetric(fields []zap.Field, attributes []attribute.KeyValue) *LogMetric {
	lm := &LogMetric{
		fields:     make(map[string]zap.Field, len(fields)+8),
		attributes: make(map[string]attribute.KeyValue, len(attributes)+8),
	}
	lm.Fields(fields...)
	lm.Attributes(attributes...)
	return lm
}

func (l *LogMetric) put(field zap.Field, attr attribute.KeyValue) {
	l.mu.Lock()
	l.fields[field.Key] = field
	l.attributes[string(attr.Key)] = attr
	l.mu.Unlock()
}

func (l *LogMetric) String(k, v string) {
	l.put(zap.String(k, v), attribute.String(k, v))
}

func (l *LogMetric) Int64(k string, v int64) {
	l.put(zap.Int64(k, v), attribute.Int64(k, v))
}

// Uint64 falls back to a decimal string attribute above MaxInt64, since
// attributes carry no unsigned type.
func (l *LogMetric) Uint64(k string, v uint64) {
	attr := attribute.Int64(k, int64(v))
	if v > math.MaxInt64 {
		attr = attribute.String(k, strconv.FormatUint(v, 10))
	}
	l.put(zap.Uint64(k, v), attr)
}

func (l *LogMetric) Bool(k string, v bool) {
	l.put(zap.Bool(k, v), attribute.Bool(k, v))
}

// Cycles records an amount in decimal. A nil amount is recorded as zero.
func (l *LogMetric) Cycles(k string, v *uint256.Int) {
	dec := "0"
	if v != nil {
		dec = v.Dec()
	}
	l.String(k, dec)
}

// Identity records a principal; the anonymous caller shows up by name
// rather than as an empty string.
func (l *LogMetric) Identity(k string, id common.Identity) {
	l.String(k, id.String())
}

// Error is stored under "Err" and ignored when nil.
func (l *LogMetric) Error(err error) {
	if err == nil {
		return
	}
	l.put(zap.Error(err), attribute.String("Err", err.Error()))
}

func (l *LogMetric) Fields(fields ...zap.Field) {
	l.mu.Lock()
	for _, f := range fields {
		l.fields[f.Key] = f
	}
	l.mu.Unlock()
}

func (l *LogMetric) Attributes(attrs ...attribute.KeyValue) {
	l.mu.Lock()
	for _, a := range attrs {
		l.attributes[string(a.Key)] = a
	}
	l.mu.Unlock()
}

// Merge copies in the keys of m that l does not have yet.
func (l *LogMetric) Merge(m *LogMetric) {
	if m == nil || m == l {
		return
	}
	fields, attrs := m.GetFields(), m.GetAttributes()

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range fields {
		if _, ok := l.fields[f.Key]; !ok {
			l.fields[f.Key] = f
		}
	}
	for _, a := range attrs {
		if _, ok := l.attributes[string(a.Key)]; !ok {
			l.attributes[string(a.Key)] = a
		}
	}
}

func (l *LogMetric) GetFields() []zap.Field {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]zap.Field, 0, len(l.fields))
	for _, f := range l.fields {
		out = append(out, f)
	}
	return out
}

func (l *LogMetric) GetAttributes() []attribute.KeyValue {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]attribute.KeyValue, 0, len(l.attributes))
	for _, a := range l.attributes {
		out = append(out, a)
	}
	return out
}

// Map flattens the attributes for zerolog's Fields.
func (l *LogMetric) Map() map[string]any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]any, len(l.attributes))
	for k, a := range l.attributes {
		out[k] = a.Value.AsInterface()
	}
	return out
}
