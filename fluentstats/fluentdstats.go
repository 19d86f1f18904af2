package fluentstats

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fluent/fluent-logger-golang/fluent"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
)

const (
	DateFormat = "2006-01-02T15:04:05.000000"

	// StatsTag carries Event records, LogTag plain log lines.
	StatsTag = "rpc.relay.go.log"
	LogTag   = "rpc.relay.log"
)

// Event is one stats record: a relay receipt or a provider withdrawal.
type Event struct {
	Type   string
	Name   string
	NodeID string
	Time   time.Time
	Data   any
}

type statsRecord struct {
	Level     string `json:"level"`
	Name      string `json:"name"`
	Msg       body   `json:"msg"`
	Instance  string `json:"instance"`
	Timestamp string `json:"timestamp"`
}

type body struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (e Event) record() statsRecord {
	return statsRecord{
		Level:     "STATS",
		Name:      e.Name,
		Msg:       body{Type: e.Type, Data: e.Data},
		Instance:  e.NodeID,
		Timestamp: e.Time.Format(DateFormat),
	}
}

// LogLine is the shape both the zap hook and FluentWriter post under LogTag.
func LogLine(level, msg, nodeID string, ts time.Time, timeFormat string) map[string]string {
	return map[string]string{
		"msg":       msg,
		"level":     level,
		"instance":  nodeID,
		"timestamp": ts.Format(timeFormat),
	}
}

type Stats interface {
	Emit(ev Event)
}

type NoStats struct{}

func (NoStats) Emit(Event) {}

// FluentdStats posts events asynchronously; a failed post is logged and
// dropped.
type FluentdStats struct {
	FluentD *fluent.Fluent
	logger  *zap.Logger
}

// NewStats returns NoStats unless fluentd is enabled and reachable.
func NewStats(enabled bool, host string, logger *zap.Logger) Stats {
	if !enabled || host == "" {
		return NoStats{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Connecting to fluentd", zap.String("host", host))
	f, err := Connect(host, 0)
	if err != nil {
		logger.Error("Error connecting to fluentd", zap.Error(err))
		return NoStats{}
	}
	return FluentdStats{FluentD: f, logger: logger}
}

func (s FluentdStats) Emit(ev Event) {
	if err := s.FluentD.EncodeAndPostData(StatsTag, ev.Time, ev.record()); err != nil {
		s.logger.Error("Error sending message to fluentD", zap.String("type", ev.Type), zap.Error(err))
	}
}

// Connect dials fluentd at a host:port address.
func Connect(address string, bufferLimit int) (*fluent.Fluent, error) {
	host, rawPort, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("parsing fluentd host: %w", err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return nil, fmt.Errorf("parsing fluentd port: %w", err)
	}
	return fluent.New(fluent.Config{
		FluentHost:    host,
		FluentPort:    port,
		MarshalAsJSON: true,
		Async:         true,
		BufferLimit:   bufferLimit,
	})
}

// ConsoleWriter and FluentWriter are zerolog level writers for the HTTP
// server logger. Both drop trace output.
type ConsoleWriter struct {
	Out io.Writer
}

func (cw *ConsoleWriter) Write(p []byte) (int, error) {
	return cw.Out.Write(p)
}

func (cw *ConsoleWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level <= zerolog.TraceLevel {
		return len(p), nil
	}
	return cw.Out.Write(p)
}

type FluentWriter struct {
	Fluentd    *fluent.Fluent
	NodeID     string
	TimeFormat string
}

func (fw *FluentWriter) Write(p []byte) (int, error) {
	return fw.WriteLevel(zerolog.NoLevel, p)
}

func (fw *FluentWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if fw.Fluentd == nil || level <= zerolog.TraceLevel {
		return len(p), nil
	}
	now := time.Now()
	line := LogLine(level.String(), string(p), fw.NodeID, now, fw.TimeFormat)
	if err := fw.Fluentd.EncodeAndPostData(LogTag, now, line); err != nil {
		fmt.Fprintln(os.Stderr, "Error posting to fluentd", err)
		return 0, err
	}
	return len(p), nil
}
