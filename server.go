package rpcrelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bloXroute-Labs/rpcrelay/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gjson "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

const (
	// DefaultMaxPayloadBytes bounds request bodies, relay payloads included.
	DefaultMaxPayloadBytes = 2 * 1024 * 1024

	// methods only seen by the server
	listProviders = "listProviders"
	logsInfo      = "logsInfo"
	logsDebug     = "logsDebug"
	logsRelays    = "logsRelays"
)

type contextKey string

var (
	keyClientIP contextKey = "clientIP"
	keyIdentity contextKey = "identity"
)

type Server struct {
	logger        zerolog.Logger
	server        *http.Server
	svc           IService
	listenAddress string

	tracer       trace.Tracer
	accessFilter AccessFilter

	logSinks        *LogSinks
	metricsHandler  http.Handler
	maxPayloadBytes int64
	NodeID          string
}

type AccessFilter struct {
	Accounts AccessList
	IPs      AccessList
	// SkipAuth accepts any account id without checking its secret.
	SkipAuth bool
}

type AccessList struct {
	AllowList map[string]struct{}
	BlockList map[string]struct{}
}

// Denied reports whether key is blocked. An allowed key is never blocked.
func (l AccessList) Denied(key string) bool {
	if _, allowed := l.AllowList[key]; allowed {
		return false
	}
	_, blocked := l.BlockList[key]
	return blocked
}

func New(opts ...ServerOption) *Server {
	server := &Server{
		logger:          zerolog.Nop(),
		tracer:          noop.NewTracerProvider().Tracer("server"),
		maxPayloadBytes: DefaultMaxPayloadBytes,
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.logSinks == nil {
		server.logSinks = NewLogSinks(DefaultLogBufferSize)
	}
	return server
}

// Start serves until Stop. An http.Server injected with WithHTTPServer keeps
// its timeouts; its address and handler are filled in here.
func (s *Server) Start() error {
	s.warnUnverifiable()
	err := s.httpServer().ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// warnUnverifiable reports a setup where no credentials can ever verify, so
// only anonymous callers get through and no admin can act.
func (s *Server) warnUnverifiable() bool {
	if s.accessFilter.SkipAuth || s.svc == nil || s.svc.HasAccounts() {
		return false
	}
	s.logger.Warn().Msg("no accounts loaded and skip-auth is off; every credentialed request will be rejected")
	return true
}

func (s *Server) httpServer() *http.Server {
	if s.server == nil {
		s.server = &http.Server{
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       10 * time.Second,
		}
	}
	if s.server.Addr == "" {
		s.server.Addr = s.listenAddress
	}
	s.server.Handler = s.InitHandler()
	return s.server
}

func (s *Server) InitHandler() *chi.Mux {
	handler := chi.NewRouter()
	handler.Use(addCORS())

	handler.Get(common.PathNode, s.HandleNode)
	handler.Get(common.PathIndex, s.HandleStatus)
	handler.Get(common.PathLogsInfo, s.HandleLogsInfo)
	handler.Get(common.PathLogsDebug, s.HandleLogsDebug)
	handler.Get(common.PathLogsRelays, s.HandleLogsRelays)
	if s.metricsHandler != nil {
		handler.Method(http.MethodGet, common.PathMetrics, s.metricsHandler)
	}
	handler.Get(common.PathProviders, s.HandleListProviders)
	handler.Post(common.PathCost, s.HandleCost)

	handler.Group(func(r chi.Router) {
		r.Use(s.Middleware)
		r.Post(common.PathRelay, s.HandleRelay)
		r.Post(common.PathProviderRelay, s.HandleProviderRelay)
		r.Delete(common.PathProvider, s.HandleUnregisterProvider)

		r.With(s.MiddlewareRole(common.RoleRegisterProvider)).Post(common.PathProviders, s.HandleRegisterProvider)
		r.With(s.MiddlewareRole(common.RoleRegisterProvider)).Post(common.PathProviderWithdraw, s.HandleWithdraw)
		r.With(s.MiddlewareRole(common.RoleAdmin)).Post(common.PathAuthorize, s.HandleAuthorize)
		r.With(s.MiddlewareRole(common.RoleAdmin)).Get(common.PathAuthorized, s.HandleListAuthorized)

		r.Group(func(r chi.Router) {
			r.Use(s.MiddlewareStable)
			r.Get(common.PathStableSize, s.HandleStableSize)
			r.Get(common.PathStable, s.HandleStableRead)
			r.Post(common.PathStable, s.HandleStableWrite)
			r.Post(common.PathStableAuthorize, s.HandleStableAuthorize)
		})
	})
	s.logger.Info().Msg("Init rpc relay")
	return handler
}

func addCORS() func(next http.Handler) http.Handler {
	corsOpts := cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{
			common.HeaderRelayCyclesAccepted,
			common.HeaderRelayCyclesRefunded,
			common.HeaderUpstreamStatus,
			common.HeaderRequestID,
		},
	}
	return cors.Handler(corsOpts)
}

func (s *Server) Stop() {
	if s.server != nil {
		_ = s.server.Shutdown(context.Background())
	}
}

// Middleware resolves the caller identity. A request without credentials is
// anonymous; a request with credentials that do not verify is rejected.
func (s *Server) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.authorize(w, r, next)
	})
}

// MiddlewareRole rejects callers without role before the handler runs.
func (s *Server) MiddlewareRole(role common.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := callerFrom(r)
			ok, err := s.svc.HasRole(caller, role)
			if err != nil {
				s.writeErrorResponse(w, "failed to check role", err, http.StatusInternalServerError)
				return
			}
			if !ok {
				s.writeErrorResponse(w, "forbidden", fmt.Errorf("%s lacks role %s", caller, role), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MiddlewareStable admits members of the stable-storage set.
func (s *Server) MiddlewareStable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := callerFrom(r)
		ok, err := s.svc.StableAuthorized(caller)
		if err != nil {
			s.writeErrorResponse(w, "failed to check stable authorization", err, http.StatusInternalServerError)
			return
		}
		if !ok {
			s.writeErrorResponse(w, "forbidden", fmt.Errorf("%s may not access stable storage", caller), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, next http.Handler) {
	clientIP := ClientIP(r)
	if s.accessFilter.IPs.Denied(clientIP) {
		s.logger.Warn().
			Str("ip", clientIP).
			Str("path", r.URL.Path).
			Msg("ip access denied")
		http.Error(w, "access denied", http.StatusUnauthorized)
		return
	}

	caller := common.Anonymous
	creds, presented, err := CredentialsFrom(r)
	if err != nil {
		s.logger.Warn().
			Str("ip", clientIP).
			Str("path", r.URL.Path).
			Err(err).Msg("failed to decode credentials")
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if presented {
		if s.accessFilter.Accounts.Denied(creds.AccountID) {
			s.logger.Warn().
				Str("accountID", creds.AccountID).
				Str("ip", clientIP).
				Msg("account access denied")
			http.Error(w, "access denied", http.StatusUnauthorized)
			return
		}
		if !s.accessFilter.SkipAuth && !s.svc.VerifyAccount(creds.AccountID, creds.Secret) {
			s.logger.Warn().
				Str("accountID", creds.AccountID).
				Str("ip", clientIP).
				Msg("invalid credentials")
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		caller = common.Identity(creds.AccountID)
	}

	ctx := context.WithValue(r.Context(), keyClientIP, clientIP)
	ctx = context.WithValue(ctx, keyIdentity, caller)
	next.ServeHTTP(w, r.WithContext(ctx))
}

func callerFrom(r *http.Request) common.Identity {
	id, _ := r.Context().Value(keyIdentity).(common.Identity)
	return id
}

func clientIPFrom(r *http.Request) string {
	if ip, ok := r.Context().Value(keyClientIP).(string); ok {
		return ip
	}
	return ClientIP(r)
}

// infoSpan traces the unauthenticated info endpoints, detached from the
// request's cancellation.
func (s *Server) infoSpan(req *http.Request, name string) trace.Span {
	ctx := trace.ContextWithSpan(context.Background(), trace.SpanFromContext(req.Context()))
	_, span := s.tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("reqHost", req.Host),
		attribute.String("remoteAddr", req.RemoteAddr),
		attribute.String("path", req.URL.Path),
		attribute.String("traceID", span.SpanContext().TraceID().String()),
	)
	return span
}

func (s *Server) HandleStatus(w http.ResponseWriter, req *http.Request) {
	span := s.infoSpan(req, "status")
	defer span.End()

	out, err := gjson.Marshal(struct {
		NodeID     string           `json:"node_id"`
		HostCounts map[string]int64 `json:"host_counts"`
	}{s.NodeID, s.svc.HostCounts()})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.writeErrorResponse(w, "failed to render status", err, http.StatusInternalServerError)
		return
	}
	s.writeSuccessResponse(w, out)
}

func (s *Server) HandleNode(w http.ResponseWriter, req *http.Request) {
	span := s.infoSpan(req, "node")
	defer span.End()
	s.writeSuccessResponse(w, []byte(s.NodeID))
}

func (s *Server) writeSuccessResponse(w http.ResponseWriter, resp []byte) {
	w.Header().Set(common.HeaderContentType, common.MediaTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, err error, statusCode int) {
	s.logger.Warn().Err(err).Msg(message)
	http.Error(w, message, statusCode)
}

func (s *Server) HandleRelay(w http.ResponseWriter, r *http.Request) {
	s.handleRelay(w, r, relay)
}

func (s *Server) HandleProviderRelay(w http.ResponseWriter, r *http.Request) {
	s.handleRelay(w, r, relayViaProvider)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request, method string) {
	parentSpan := trace.SpanFromContext(r.Context())
	parentSpanCtx := trace.ContextWithSpan(context.Background(), parentSpan)
	handleRelayCtx, handleRelaySpan := s.tracer.Start(parentSpanCtx, "handleRelay-start")
	defer handleRelaySpan.End()

	receivedAt := time.Now().UTC()
	query := r.URL.Query()

	logMetric := requestMetric(r, method, handleRelaySpan)
	logMetric.String("reqHost", r.Host)
	logMetric.String("userAgent", r.Header.Get(common.HeaderUserAgent))
	logMetric.String("remoteAddr", r.RemoteAddr)
	handleRelaySpan.SetAttributes(logMetric.GetAttributes()...)

	fail := func(err error) {
		handleRelaySpan.SetStatus(codes.Error, err.Error())
		logMetric.Error(err)
		respondError(handleRelayCtx, method, w, asErrorResp(err), s.logger, s.tracer, logMetric)
	}

	in := &RelayParams{
		ReceivedAt: receivedAt,
		Caller:     callerFrom(r),
		ClientIP:   clientIPFrom(r),
		UserAgent:  r.Header.Get(common.HeaderUserAgent),
	}
	if method == relayViaProvider {
		id, err := providerIDParam(r)
		if err != nil {
			fail(err)
			return
		}
		in.ProviderID = id
	} else {
		// the raw query keeps any query string of the target url intact
		in.ServiceURL = query.Get("url")
	}

	bound, err := ParseUint(query.Get("max_response_bytes"))
	if err != nil {
		fail(err)
		return
	}
	in.MaxResponseBytes = bound

	offered, err := common.ParseCycles(r.Header.Get(common.HeaderRelayCycles))
	if err != nil {
		fail(fmt.Errorf("%w: %v", ErrInvalidArgument, err))
		return
	}
	funds := NewOfferedFunds(offered)
	in.Funds = funds

	in.Payload, err = s.readBody(w, r)
	if err != nil {
		fail(err)
		return
	}

	result, lm, err := s.relayFor(handleRelayCtx, method, in)
	logMetric.Merge(lm)
	s.writeFunds(w, funds)
	if err != nil {
		fail(err)
		return
	}

	w.Header().Set(common.HeaderRequestID, result.ReqID)
	w.Header().Set(common.HeaderUpstreamStatus, strconv.Itoa(result.Status))
	respondOKRaw(handleRelayCtx, method, w, common.PreferredRelayMediaType(r), result.Body, s.logger, s.tracer, logMetric)
}

func (s *Server) relayFor(ctx context.Context, method string, in *RelayParams) (*RelayResult, *LogMetric, error) {
	if method == relayViaProvider {
		return s.svc.RelayViaProvider(ctx, in)
	}
	return s.svc.Relay(ctx, in)
}

// writeFunds reports the charge and the surplus handed back to the caller.
func (s *Server) writeFunds(w http.ResponseWriter, funds *OfferedFunds) {
	w.Header().Set(common.HeaderRelayCyclesAccepted, funds.Accepted().Dec())
	w.Header().Set(common.HeaderRelayCyclesRefunded, funds.Refund().Dec())
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, toErrorResp(http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return nil, fmt.Errorf("%w: could not read request body: %v", ErrInvalidArgument, err)
	}
	return body, nil
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := s.readBody(w, r)
	if err != nil {
		return err
	}
	if err := gjson.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", ErrInvalidArgument, err)
	}
	return nil
}

// handle runs a non-relay endpoint with the span and log metric every
// handler shares, and answers with op's result.
func (s *Server) handle(w http.ResponseWriter, r *http.Request, method string, op func(ctx context.Context, logMetric *LogMetric) (any, error)) {
	parentSpan := trace.SpanFromContext(r.Context())
	parentSpanCtx := trace.ContextWithSpan(context.Background(), parentSpan)
	ctx, span := s.tracer.Start(parentSpanCtx, method+"-start")
	defer span.End()

	logMetric := requestMetric(r, method, span)
	logMetric.String("requestURI", r.RequestURI)
	span.SetAttributes(logMetric.GetAttributes()...)

	out, err := op(ctx, logMetric)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		logMetric.Error(err)
		respondError(ctx, method, w, asErrorResp(err), s.logger, s.tracer, logMetric)
		return
	}
	respondOK(ctx, method, w, out, s.logger, s.tracer, logMetric)
}

// requestMetric seeds a LogMetric with what every authenticated endpoint
// logs about its caller.
func requestMetric(r *http.Request, method string, span trace.Span) *LogMetric {
	lm := NewLogMetric(nil, nil)
	lm.String("method", method)
	lm.String("clientIP", clientIPFrom(r))
	lm.Identity("caller", callerFrom(r))
	lm.String("traceID", span.SpanContext().TraceID().String())
	return lm
}

func providerIDParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid provider id %q", ErrInvalidArgument, raw)
	}
	return id, nil
}

func (s *Server) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, listProviders, func(ctx context.Context, _ *LogMetric) (any, error) {
		return s.svc.ListProviders(ctx)
	})
}

func (s *Server) HandleRegisterProvider(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, registerProvider, func(ctx context.Context, logMetric *LogMetric) (any, error) {
		var args RegisterProviderArgs
		if err := s.decodeBody(w, r, &args); err != nil {
			return nil, err
		}
		logMetric.Uint64("chainID", args.ChainID)
		logMetric.String("serviceURL", args.ServiceURL)
		id, err := s.svc.RegisterProvider(ctx, callerFrom(r), args)
		if err != nil {
			return nil, err
		}
		logMetric.Uint64("providerID", id)
		return registerProviderResponse{ProviderID: id}, nil
	})
}

func (s *Server) HandleUnregisterProvider(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, unregister, func(ctx context.Context, logMetric *LogMetric) (any, error) {
		id, err := providerIDParam(r)
		if err != nil {
			return nil, err
		}
		logMetric.Uint64("providerID", id)
		return struct{}{}, s.svc.UnregisterProvider(ctx, callerFrom(r), id)
	})
}

func (s *Server) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, withdraw, func(ctx context.Context, logMetric *LogMetric) (any, error) {
		id, err := providerIDParam(r)
		if err != nil {
			return nil, err
		}
		var req withdrawRequest
		if err := s.decodeBody(w, r, &req); err != nil {
			return nil, err
		}
		logMetric.Uint64("providerID", id)
		logMetric.String("target", req.Target)
		amount, err := s.svc.Withdraw(ctx, callerFrom(r), id, req.Target)
		if err != nil {
			return nil, err
		}
		logMetric.Cycles("amount", amount)
		return withdrawResponse{ProviderID: id, Amount: amount.Dec()}, nil
	})
}

func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, authorize, func(ctx context.Context, logMetric *LogMetric) (any, error) {
		var req authorizeRequest
		if err := s.decodeBody(w, r, &req); err != nil {
			return nil, err
		}
		if req.Identity == common.Anonymous {
			return nil, fmt.Errorf("%w: empty identity", ErrInvalidArgument)
		}
		logMetric.Identity("identity", req.Identity)
		logMetric.String("role", req.Role.String())
		return struct{}{}, s.svc.Authorize(ctx, callerFrom(r), req.Identity, req.Role)
	})
}

func (s *Server) HandleListAuthorized(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, listAuthorized, func(ctx context.Context, _ *LogMetric) (any, error) {
		role, err := common.ParseRole(chi.URLParam(r, "role"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return s.svc.ListAuthorized(ctx, callerFrom(r), role)
	})
}

func (s *Server) HandleCost(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, requestCost, func(ctx context.Context, _ *LogMetric) (any, error) {
		var in CostParams
		if err := s.decodeBody(w, r, &in); err != nil {
			return nil, err
		}
		cycles, err := s.svc.RequestCost(ctx, &in)
		if err != nil {
			return nil, err
		}
		return costResponse{Cycles: cycles.Dec()}, nil
	})
}

func (s *Server) HandleStableSize(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, stableSize, func(ctx context.Context, _ *LogMetric) (any, error) {
		size, err := s.svc.StableSize(ctx, callerFrom(r))
		if err != nil {
			return nil, err
		}
		return stableSizeResponse{Size: size}, nil
	})
}

func (s *Server) HandleStableRead(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, stableRead, func(ctx context.Context, logMetric *LogMetric) (any, error) {
		offset, err := ParseUint(r.URL.Query().Get("offset"))
		if err != nil {
			return nil, err
		}
		length, err := ParseUint(r.URL.Query().Get("length"))
		if err != nil {
			return nil, err
		}
		logMetric.Uint64("offset", offset)
		logMetric.Uint64("length", length)
		data, err := s.svc.StableRead(ctx, callerFrom(r), offset, length)
		if err != nil {
			return nil, err
		}
		return stableData{Data: data}, nil
	})
}

func (s *Server) HandleStableWrite(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, stableWrite, func(ctx context.Context, logMetric *LogMetric) (any, error) {
		offset, err := ParseUint(r.URL.Query().Get("offset"))
		if err != nil {
			return nil, err
		}
		var req stableData
		if err := s.decodeBody(w, r, &req); err != nil {
			return nil, err
		}
		logMetric.Uint64("offset", offset)
		logMetric.Int64("length", int64(len(req.Data)))
		return struct{}{}, s.svc.StableWrite(ctx, callerFrom(r), offset, req.Data)
	})
}

func (s *Server) HandleStableAuthorize(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, stableAuthorize, func(ctx context.Context, logMetric *LogMetric) (any, error) {
		var req stableAuthorizeRequest
		if err := s.decodeBody(w, r, &req); err != nil {
			return nil, err
		}
		logMetric.Identity("identity", req.Identity)
		return struct{}{}, s.svc.StableAuthorize(ctx, callerFrom(r), req.Identity)
	})
}

func (s *Server) HandleLogsInfo(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, logsInfo, func(context.Context, *LogMetric) (any, error) {
		return s.logSinks.Info.Entries(), nil
	})
}

func (s *Server) HandleLogsDebug(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, logsDebug, func(context.Context, *LogMetric) (any, error) {
		return s.logSinks.Debug.Entries(), nil
	})
}

func (s *Server) HandleLogsRelays(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, logsRelays, func(ctx context.Context, _ *LogMetric) (any, error) {
		return s.svc.Receipts(ctx), nil
	})
}

// stableData carries raw bytes as 0x-prefixed hex.
type stableData struct {
	Data hexutil.Bytes `json:"data"`
}

func respondOK(ctx context.Context, method string, w http.ResponseWriter, response any, log zerolog.Logger, tracer trace.Tracer, logMetric *LogMetric) {
	_, span := tracer.Start(ctx, "respondOK-"+method)
	defer span.End()
	logMetric.Attributes(
		attribute.String("method", method),
		attribute.Int("responseCode", 200),
		attribute.String("traceID", span.SpanContext().TraceID().String()),
	)
	span.SetAttributes(logMetric.GetAttributes()...)

	w.Header().Set(common.HeaderContentType, common.MediaTypeJSON)

	if err := gjson.NewEncoder(w).Encode(response); err != nil {
		span.SetStatus(codes.Error, "couldn't write OK response")
		log.Error().Fields(logMetric.Map()).Err(err).Msg("couldn't write OK response")
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	log.Info().Str("method", method).Fields(logMetric.Map()).Msg(method + " succeeded")
}

// respondOKRaw writes a relayed body verbatim.
func respondOKRaw(ctx context.Context, method string, w http.ResponseWriter, contentType string, body []byte, log zerolog.Logger, tracer trace.Tracer, logMetric *LogMetric) {
	_, span := tracer.Start(ctx, "respondOKRaw-"+method)
	defer span.End()
	logMetric.Attributes(
		attribute.String("method", method),
		attribute.Int("responseCode", 200),
		attribute.Int("responseSize", len(body)),
		attribute.String("traceID", span.SpanContext().TraceID().String()),
	)
	span.SetAttributes(logMetric.GetAttributes()...)

	w.Header().Set(common.HeaderContentType, contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		span.SetStatus(codes.Error, "couldn't write OK response")
		log.Error().Fields(logMetric.Map()).Str("method", method).Err(err).Msg("couldn't write OK response")
		return
	}
	log.Info().Str("method", method).Fields(logMetric.Map()).Msg(method + " succeeded")
}

func respondError(ctx context.Context, method string, w http.ResponseWriter, err error, log zerolog.Logger, tracer trace.Tracer, logMetric *LogMetric) {
	_, span := tracer.Start(ctx, "respondError-"+method)
	defer span.End()
	logMetric.Attributes(
		attribute.String("method", method),
		attribute.String("Err", err.Error()),
		attribute.String("traceID", span.SpanContext().TraceID().String()),
	)
	span.SetAttributes(logMetric.GetAttributes()...)

	resp, ok := err.(*ErrorResp)
	span.SetAttributes(attribute.Int("responseCode", resp.ErrorCode()))
	if !ok {
		log.Error().Fields(logMetric.Map()).Str("method", method).Err(err).Msg("failed to typecast error response")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		span.SetStatus(codes.Error, "failed to typecast error response")
		return
	}
	event := log.Warn()
	if resp.Code >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Str("method", method).Fields(logMetric.Map()).Msg(method + " failed")

	w.Header().Set(common.HeaderContentType, common.MediaTypeJSON)
	w.WriteHeader(resp.Code)
	if resp.Message != "" && resp.Code != http.StatusNoContent { // HTTP status "No Content" implies that no message body should be included in the response.
		if err := gjson.NewEncoder(w).Encode(resp); err != nil {
			span.SetStatus(codes.Error, "couldn't write error response")
			log.Error().Fields(logMetric.Map()).Str("method", method).Err(err).Msg("couldn't write error response")
			return
		}
	}
}
