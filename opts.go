package rpcrelay

import (
	"net/http"
	"time"

	"github.com/bloXroute-Labs/rpcrelay/fluentstats"
	"github.com/bloXroute-Labs/rpcrelay/httpclient"
	"github.com/bloXroute-Labs/rpcrelay/store"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ServerOption func(*Server)

func WithLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithHTTPServer(server *http.Server) ServerOption {
	return func(s *Server) {
		s.server = server
	}
}

func WithService(svc IService) ServerOption {
	return func(s *Server) {
		s.svc = svc
	}
}

func WithListenAddress(address string) ServerOption {
	return func(s *Server) {
		s.listenAddress = address
	}
}

func WithTracer(tracer trace.Tracer) ServerOption {
	return func(s *Server) {
		s.tracer = tracer
	}
}

func WithAccessFilter(filter AccessFilter) ServerOption {
	return func(s *Server) {
		s.accessFilter = filter
	}
}

func WithSkipAuth(skip bool) ServerOption {
	return func(s *Server) {
		s.accessFilter.SkipAuth = skip
	}
}

func WithServerNodeID(nodeID string) ServerOption {
	return func(s *Server) {
		s.NodeID = nodeID
	}
}

func WithLogSinks(sinks *LogSinks) ServerOption {
	return func(s *Server) {
		s.logSinks = sinks
	}
}

func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// WithMaxPayloadBytes bounds request bodies read by the server.
func WithMaxPayloadBytes(n int64) ServerOption {
	return func(s *Server) {
		s.maxPayloadBytes = n
	}
}

type ServiceOption func(*Service)

func WithSvcLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithVersion(version string) ServiceOption {
	return func(s *Service) {
		s.version = version
	}
}

func WithNodeID(nodeID string) ServiceOption {
	return func(s *Service) {
		s.nodeID = nodeID
	}
}

func WithSvcTracer(tracer trace.Tracer) ServiceOption {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func WithSvcFluentD(fluentD fluentstats.Stats) ServiceOption {
	return func(s *Service) {
		s.fluentD = fluentD
	}
}

func WithCostModel(cost CostModel) ServiceOption {
	return func(s *Service) {
		s.cost = cost
	}
}

// WithMaxResponseBytes caps the response bound callers may request. An unset
// bound defaults to the smaller of the ceiling and 2 MiB.
func WithMaxResponseBytes(n uint64) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxResponseBytes = n
		}
	}
}

func WithAllowlist(allowlist *Allowlist) ServiceOption {
	return func(s *Service) {
		s.allowlist = allowlist
	}
}

// WithStore sets the store the default auth, provider and stable components
// are built on.
func WithStore(st store.Store) ServiceOption {
	return func(s *Service) {
		s.store = st
	}
}

func WithAuthStore(auth *AuthStore) ServiceOption {
	return func(s *Service) {
		s.auth = auth
	}
}

func WithProviderRegistry(registry *ProviderRegistry) ServiceOption {
	return func(s *Service) {
		s.providers = registry
	}
}

func WithStableMemory(stable *StableMemory) ServiceOption {
	return func(s *Service) {
		s.stable = stable
	}
}

func WithMetrics(metrics *Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = metrics
	}
}

func WithTransport(transport httpclient.Transport) ServiceOption {
	return func(s *Service) {
		s.transport = transport
	}
}

func WithDataService(ds IDataService) ServiceOption {
	return func(s *Service) {
		s.IDataService = ds
	}
}

type DataServiceOption func(s *DataService)

func WithDataSvcLogger(logger *zap.Logger) DataServiceOption {
	return func(s *DataService) {
		s.logger = logger
	}
}

func WithDataSvcNodeID(nodeID string) DataServiceOption {
	return func(s *DataService) {
		s.nodeID = nodeID
	}
}

func WithDataSvcTracer(tracer trace.Tracer) DataServiceOption {
	return func(s *DataService) {
		s.tracer = tracer
	}
}

func WithDataSvcFluentD(fluentD fluentstats.Stats) DataServiceOption {
	return func(s *DataService) {
		s.fluentD = fluentD
	}
}

func WithReceipts(receipts *cache.Cache) DataServiceOption {
	return func(s *DataService) {
		s.receipts = receipts
	}
}

func WithReceiptTTL(ttl time.Duration) DataServiceOption {
	return func(s *DataService) {
		s.receiptTTL = ttl
	}
}

func WithAccountImportLists(accountsLists *AccountsLists) DataServiceOption {
	return func(s *DataService) {
		if accountsLists != nil {
			s.accountsLists = accountsLists
		}
	}
}
