package rpcrelay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bloXroute-Labs/rpcrelay/common"
	"github.com/bloXroute-Labs/rpcrelay/fastjson"
	"github.com/bloXroute-Labs/rpcrelay/fluentstats"
	"github.com/bloXroute-Labs/rpcrelay/httpclient"
	"github.com/bloXroute-Labs/rpcrelay/store"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	// methods
	relay            = "relay"
	relayViaProvider = "relayViaProvider"
	requestCost      = "requestCost"
	registerProvider = "registerProvider"
	unregister       = "unregisterProvider"
	withdraw         = "withdraw"
	authorize        = "authorize"
	listAuthorized   = "listAuthorized"
	stableSize       = "stableSize"
	stableRead       = "stableRead"
	stableWrite      = "stableWrite"
	stableAuthorize  = "stableAuthorize"
)

type IService interface {
	IDataService
	Relay(ctx context.Context, in *RelayParams) (*RelayResult, *LogMetric, error)
	RelayViaProvider(ctx context.Context, in *RelayParams) (*RelayResult, *LogMetric, error)
	RequestCost(ctx context.Context, in *CostParams) (*uint256.Int, error)

	RegisterProvider(ctx context.Context, caller common.Identity, args RegisterProviderArgs) (uint64, error)
	UnregisterProvider(ctx context.Context, caller common.Identity, id uint64) error
	ListProviders(ctx context.Context) ([]common.ProviderSummary, error)
	Withdraw(ctx context.Context, caller common.Identity, id uint64, target string) (*uint256.Int, error)

	HasRole(caller common.Identity, role common.Role) (bool, error)
	Authorize(ctx context.Context, caller, id common.Identity, role common.Role) error
	ListAuthorized(ctx context.Context, caller common.Identity, role common.Role) ([]common.Identity, error)

	StableAuthorized(caller common.Identity) (bool, error)
	StableAuthorize(ctx context.Context, caller, id common.Identity) error
	StableSize(ctx context.Context, caller common.Identity) (uint64, error)
	StableRead(ctx context.Context, caller common.Identity, offset, length uint64) ([]byte, error)
	StableWrite(ctx context.Context, caller common.Identity, offset uint64, data []byte) error

	HostCounts() map[string]int64
}

type Service struct {
	logger  *zap.Logger
	version string // build version
	nodeID  string // UUID

	tracer  trace.Tracer
	fluentD fluentstats.Stats

	cost      CostModel
	allowlist *Allowlist
	// maxResponseBytes is the largest response bound a caller may ask for
	maxResponseBytes uint64
	transport httpclient.Transport
	metrics   *Metrics

	store     store.Store
	auth      *AuthStore
	providers *ProviderRegistry
	stable    *StableMemory

	// data service
	IDataService
}

func NewService(opts ...ServiceOption) *Service {
	svc := &Service{
		logger:  zap.NewNop(),
		tracer:  noop.NewTracerProvider().Tracer("rpcrelay"),
		fluentD: fluentstats.NoStats{},
		cost:    DefaultCostModel(),

		maxResponseBytes: httpclient.DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.allowlist == nil {
		svc.allowlist = NewAllowlist(DefaultAllowlistHosts)
	}
	if svc.transport == nil {
		svc.transport = httpclient.NewClient(nil)
	}
	if svc.metrics == nil {
		svc.metrics = NewMetrics()
	}
	if svc.store == nil {
		svc.store = store.NewMemory()
	}
	if svc.auth == nil {
		svc.auth = NewAuthStore(svc.store, WithAuthLogger(svc.logger))
	}
	if svc.providers == nil {
		svc.providers = NewProviderRegistry(svc.store, svc.auth, nil, svc.logger)
	}
	if svc.stable == nil {
		svc.stable = NewStableMemory(svc.store, svc.auth, svc.metrics)
	}
	if svc.IDataService == nil {
		svc.IDataService = NewDataService(
			WithDataSvcLogger(svc.logger),
			WithDataSvcNodeID(svc.nodeID),
			WithDataSvcFluentD(svc.fluentD),
		)
	}
	return svc
}

// Init loads the gauges from the store. It runs once before serving.
func (s *Service) Init() error {
	n, err := s.providers.Count()
	if err != nil {
		return fmt.Errorf("counting providers: %w", err)
	}
	s.metrics.SetProviders(n)

	size, err := s.stable.size()
	if err != nil {
		return fmt.Errorf("reading stable size: %w", err)
	}
	s.metrics.SetStableBytes(size)
	s.logger.Info("service initialized",
		zap.String("version", s.version),
		zap.Int("providers", n),
		zap.Uint64("stableBytes", size),
		zap.Int("allowlistHosts", s.allowlist.Len()))
	return nil
}

// Relay forwards in.Payload to in.ServiceURL.
func (s *Service) Relay(ctx context.Context, in *RelayParams) (*RelayResult, *LogMetric, error) {
	return s.relay(ctx, relay, in, false)
}

// RelayViaProvider forwards in.Payload to the registered provider in.ProviderID.
func (s *Service) RelayViaProvider(ctx context.Context, in *RelayParams) (*RelayResult, *LogMetric, error) {
	return s.relay(ctx, relayViaProvider, in, true)
}

func (s *Service) relay(ctx context.Context, method string, in *RelayParams, viaProvider bool) (*RelayResult, *LogMetric, error) {
	startTime := time.Now().UTC()
	id := uuid.NewString()
	parentSpan := trace.SpanFromContext(ctx)
	ctx, span := s.tracer.Start(ctx, method+"-start")
	defer span.End()

	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = startTime
	}
	if in.Funds == nil {
		in.Funds = NewOfferedFunds(nil)
	}
	bound := in.MaxResponseBytes
	if bound == 0 {
		bound = min(httpclient.DefaultMaxResponseBytes, s.maxResponseBytes)
	}

	logMetric := NewLogMetric(
		[]zap.Field{
			zap.String("method", method),
			zap.Time("receivedAt", in.ReceivedAt),
			zap.String("reqID", id),
			zap.Stringer("caller", in.Caller),
			zap.String("clientIP", in.ClientIP),
			zap.String("userAgent", in.UserAgent),
			zap.Int("payloadSize", len(in.Payload)),
			zap.Uint64("responseBound", bound),
			zap.String("traceID", parentSpan.SpanContext().TraceID().String()),
		},
		[]attribute.KeyValue{
			attribute.String("method", method),
			attribute.Int64("receivedAt", in.ReceivedAt.Unix()),
			attribute.String("reqID", id),
			attribute.String("caller", in.Caller.String()),
			attribute.String("clientIP", in.ClientIP),
			attribute.String("userAgent", in.UserAgent),
			attribute.Int("payloadSize", len(in.Payload)),
			attribute.Int64("responseBound", int64(bound)),
			attribute.String("traceID", parentSpan.SpanContext().TraceID().String()),
		},
	)
	if viaProvider {
		logMetric.Uint64("providerID", in.ProviderID)
	} else {
		logMetric.String("serviceURL", in.ServiceURL)
	}

	receipt := RelayReceipt{
		ReqID:         id,
		ReceivedAt:    in.ReceivedAt,
		Caller:        in.Caller.String(),
		ClientIP:      in.ClientIP,
		UserAgent:     in.UserAgent,
		PayloadSize:   len(in.Payload),
		ResponseBound: bound,
		Charged:       "0",
	}
	if envelope, err := fastjson.InspectRPC(in.Payload); err == nil {
		receipt.RPCMethod, receipt.RPCID, receipt.RPCBatch = envelope.Method, envelope.ID, envelope.Batch
		logMetric.String("rpcMethod", envelope.Method)
		if envelope.Batch > 1 {
			logMetric.Int64("rpcBatch", int64(envelope.Batch))
		}
	} else {
		s.logger.Debug("payload is not a JSON-RPC envelope", zap.String("reqID", id), zap.Error(err))
	}

	s.logger.Info("received "+method, logMetric.GetFields()...)
	span.SetAttributes(logMetric.GetAttributes()...)
	s.metrics.RelayRequested()

	result, err := s.execute(ctx, in, bound, viaProvider, logMetric, &receipt)

	refunded := in.Funds.Available()
	s.metrics.Refunded(refunded)
	receipt.Refunded = refunded.Dec()
	receipt.DurationMS = time.Since(startTime).Milliseconds()
	logMetric.Cycles("refunded", refunded)
	logMetric.Int64("durationMS", receipt.DurationMS)

	if err != nil {
		kind := errorKind(err)
		s.metrics.RelayFailed(kind)
		receipt.Error = err.Error()
		logMetric.String("errorKind", string(kind))
		logMetric.Error(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn(method+" failed", logMetric.GetFields()...)
	} else {
		receipt.Succeeded = true
		receipt.Status = result.Status
		result.ReqID = id
		logMetric.Int64("upstreamStatus", int64(result.Status))
		s.logger.Info(method+" succeeded", logMetric.GetFields()...)
	}
	span.SetAttributes(logMetric.GetAttributes()...)
	s.RecordReceipt(ctx, receipt)
	return result, logMetric, err
}

// execute walks a relay through authorization, costing, host validation,
// charging and forwarding. Any error before the charge leaves the funds
// untouched; charges and accruals are never rolled back afterwards.
func (s *Service) execute(ctx context.Context, in *RelayParams, bound uint64, viaProvider bool, logMetric *LogMetric, receipt *RelayReceipt) (*RelayResult, error) {
	ok, err := s.auth.HasRole(in.Caller, common.RoleRelay)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s may not relay", ErrNoPermission, in.Caller)
	}
	if _, err := s.responseBound(in.MaxResponseBytes); err != nil {
		return nil, err
	}

	targetURL := in.ServiceURL
	var provider *common.Provider
	if viaProvider {
		provider, err = s.providers.Get(in.ProviderID)
		if err != nil {
			return nil, err
		}
		targetURL = provider.TargetURL()
		receipt.ProviderID = &provider.ProviderID
		logMetric.String("serviceURL", provider.ServiceURL)
	}

	fee := s.cost.Cost(len(in.Payload), len(targetURL), bound)
	var providerFee *uint256.Int
	if provider != nil {
		providerFee = ProviderFee(provider, len(in.Payload))
		fee.Add(fee, providerFee)
		receipt.ProviderFee = providerFee.Dec()
	}
	receipt.Fee = fee.Dec()
	logMetric.Cycles("fee", fee)

	host, err := s.allowlist.CheckHost(targetURL)
	if err != nil {
		return nil, err
	}
	receipt.Host = host
	logMetric.String("host", host)

	free, err := s.auth.HasRole(in.Caller, common.RoleFreeRelay)
	if err != nil {
		return nil, err
	}
	charged := common.ZeroCycles()
	if free {
		receipt.Free = true
		s.metrics.Waived(fee)
	} else {
		available := in.Funds.Available()
		if available.Lt(fee) {
			return nil, &TooFewCyclesError{Required: fee, Available: available}
		}
		charged = in.Funds.Accept(fee)
		s.metrics.Charged(charged)
		if provider != nil {
			if err := s.providers.Accrue(provider.ProviderID, providerFee); err != nil {
				logMetric.Error(err)
				s.logger.Error("failed to accrue provider fee", logMetric.GetFields()...)
			}
		}
	}
	receipt.Charged = charged.Dec()
	logMetric.Cycles("charged", charged)
	logMetric.Bool("free", free)

	// The caller cannot cancel a charged relay.
	forwardCtx, forwardSpan := s.tracer.Start(context.WithoutCancel(ctx), "forward")
	forwardStart := time.Now()
	resp, err := s.transport.Forward(forwardCtx, httpclient.Request{
		URL:    targetURL,
		Method: http.MethodPost,
		Headers: []httpclient.Header{
			{Name: common.HeaderContentType, Value: common.MediaTypeJSON},
			{Name: common.HeaderHost, Value: host},
		},
		Body:             in.Payload,
		MaxResponseBytes: bound,
		Transform:        Normalize,
	})
	s.metrics.ObserveForward(time.Since(forwardStart).Seconds())
	if err != nil {
		forwardSpan.SetStatus(codes.Error, err.Error())
		forwardSpan.End()
		var transportErr *httpclient.TransportError
		if !errors.As(err, &transportErr) {
			err = &httpclient.TransportError{Code: httpclient.RejectionUnknown, Message: err.Error()}
		}
		return nil, err
	}
	forwardSpan.SetAttributes(attribute.Int("upstreamStatus", resp.Status))
	forwardSpan.End()

	s.metrics.RelaySucceeded(host)
	return &RelayResult{
		Status:  resp.Status,
		Body:    resp.Body,
		Host:    host,
		Fee:     fee,
		Charged: charged,
	}, nil
}

// responseBound applies the default to an unset bound and rejects bounds
// above the configured ceiling.
func (s *Service) responseBound(requested uint64) (uint64, error) {
	if requested == 0 {
		return min(httpclient.DefaultMaxResponseBytes, s.maxResponseBytes), nil
	}
	if requested > s.maxResponseBytes {
		return 0, fmt.Errorf("%w: max_response_bytes %d exceeds the limit of %d", ErrInvalidArgument, requested, s.maxResponseBytes)
	}
	return requested, nil
}

// RequestCost quotes a relay without running it. A provider quote includes
// the provider fee and uses the provider's full target url.
func (s *Service) RequestCost(ctx context.Context, in *CostParams) (*uint256.Int, error) {
	_, span := s.tracer.Start(ctx, requestCost)
	defer span.End()

	bound, err := s.responseBound(in.MaxResponseBytes)
	if err != nil {
		return nil, err
	}
	if in.ProviderID == nil {
		return s.cost.Cost(len(in.Payload), len(in.ServiceURL), bound), nil
	}
	p, err := s.providers.Get(*in.ProviderID)
	if err != nil {
		return nil, err
	}
	fee := s.cost.Cost(len(in.Payload), len(p.TargetURL()), bound)
	return fee.Add(fee, ProviderFee(p, len(in.Payload))), nil
}

func (s *Service) RegisterProvider(ctx context.Context, caller common.Identity, args RegisterProviderArgs) (uint64, error) {
	_, span := s.tracer.Start(ctx, registerProvider)
	defer span.End()

	id, err := s.providers.Register(caller, args)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	s.refreshProviders()
	return id, nil
}

func (s *Service) UnregisterProvider(ctx context.Context, caller common.Identity, id uint64) error {
	_, span := s.tracer.Start(ctx, unregister)
	defer span.End()

	err := s.providers.Unregister(caller, id)
	if errors.Is(err, ErrProviderOwnership) {
		s.logger.Error("unregister rejected", zap.Stringer("caller", caller), zap.Uint64("providerID", id), zap.Error(err))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.refreshProviders()
	return nil
}

func (s *Service) ListProviders(ctx context.Context) ([]common.ProviderSummary, error) {
	return s.providers.List()
}

func (s *Service) Withdraw(ctx context.Context, caller common.Identity, id uint64, target string) (*uint256.Int, error) {
	ctx, span := s.tracer.Start(ctx, withdraw)
	defer span.End()

	amount, err := s.providers.Withdraw(ctx, caller, id, target)
	record := WithdrawStatsRecord{
		ReqID:      uuid.NewString(),
		Time:       time.Now().UTC(),
		Caller:     caller.String(),
		ProviderID: id,
		Target:     target,
		Succeeded:  err == nil,
		NodeID:     s.nodeID,
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		record.Error = err.Error()
	} else {
		record.Amount = amount.Dec()
	}
	s.fluentD.Emit(fluentstats.Event{
		Type:   TypeProviderWithdraw,
		Name:   StatsProviderWithdraw,
		NodeID: s.nodeID,
		Time:   record.Time,
		Data:   record,
	})
	return amount, err
}

func (s *Service) HasRole(caller common.Identity, role common.Role) (bool, error) {
	return s.auth.HasRole(caller, role)
}

func (s *Service) Authorize(ctx context.Context, caller, id common.Identity, role common.Role) error {
	_, span := s.tracer.Start(ctx, authorize)
	defer span.End()
	return s.auth.Authorize(caller, id, role)
}

func (s *Service) ListAuthorized(ctx context.Context, caller common.Identity, role common.Role) ([]common.Identity, error) {
	_, span := s.tracer.Start(ctx, listAuthorized)
	defer span.End()
	return s.auth.ListAuthorized(caller, role)
}

func (s *Service) StableAuthorized(caller common.Identity) (bool, error) {
	return s.auth.StableAuthorized(caller)
}

func (s *Service) StableAuthorize(ctx context.Context, caller, id common.Identity) error {
	_, span := s.tracer.Start(ctx, stableAuthorize)
	defer span.End()
	return s.auth.StableAuthorize(caller, id)
}

func (s *Service) StableSize(ctx context.Context, caller common.Identity) (uint64, error) {
	_, span := s.tracer.Start(ctx, stableSize)
	defer span.End()
	return s.stable.Size(caller)
}

func (s *Service) StableRead(ctx context.Context, caller common.Identity, offset, length uint64) ([]byte, error) {
	_, span := s.tracer.Start(ctx, stableRead)
	defer span.End()
	return s.stable.Read(caller, offset, length)
}

func (s *Service) StableWrite(ctx context.Context, caller common.Identity, offset uint64, data []byte) error {
	_, span := s.tracer.Start(ctx, stableWrite)
	defer span.End()
	return s.stable.Write(caller, offset, data)
}

func (s *Service) HostCounts() map[string]int64 {
	return s.metrics.HostCounts()
}

func (s *Service) refreshProviders() {
	n, err := s.providers.Count()
	if err != nil {
		s.logger.Warn("failed to count providers", zap.Error(err))
		return
	}
	s.metrics.SetProviders(n)
}

var _ IService = (*Service)(nil)
