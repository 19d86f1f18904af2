package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bloXroute-Labs/rpcrelay"
	"github.com/bloXroute-Labs/rpcrelay/config"
	"github.com/bloXroute-Labs/rpcrelay/fluentstats"
	"github.com/bloXroute-Labs/rpcrelay/httpclient"
	"github.com/bloXroute-Labs/rpcrelay/store"
	"github.com/fluent/fluent-logger-golang/fluent"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/uptrace/uptrace-go/uptrace"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultBufferLimit = 32 * 1024
	timestampFormat    = "2006-01-02T15:04:05.000Z07:00"
)

var (
	// Included in the build process
	_BuildVersion string
	_AppName      = "rpc-relay"
	// defaults
	defaultListenAddr = getEnv("RPC_RELAY_LISTEN_ADDR", "localhost:18560")

	listenAddr  = flag.String("addr", defaultListenAddr, "rpc relay server listening address")
	configPath  = flag.String("config", getEnv("RPC_RELAY_CONFIG", ""), "path of the yaml config file")
	dataDir     = flag.String("data-dir", getEnv("RPC_RELAY_DATA_DIR", ""), "badger data directory, empty keeps state in memory")
	nodeID      = flag.String("node-id", fmt.Sprintf("rpcrelay-%v", uuid.New().String()), "unique identifier for the node")
	uptraceDSN  = flag.String("uptrace-dsn", "", "uptrace URL")
	skipAuth    = flag.Bool("skip-auth", false, "accept any account id without checking its secret")
	pprofAddr   = flag.String("pprof-addr", "", "pprof listening address, empty disables it")
	logLevelArg = flag.String("log-level", "debug", "minimum log level")
	// fluentD
	fluentDHostFlag = flag.String("fluentd-host", "", "fluentd host")
)

func main() {
	flag.Parse()

	l := newLogger(_AppName, _BuildVersion, *logLevelArg)

	var fluentLogger *fluent.Fluent
	if *fluentDHostFlag != "" {
		var err error
		fluentLogger, err = fluentstats.Connect(*fluentDHostFlag, defaultBufferLimit)
		if err != nil {
			l.Fatal("failed to create fluentd logger", zap.Error(err))
		}
		l = l.WithOptions(zap.Hooks(func(entry zapcore.Entry) error {
			now := time.Now()
			return fluentLogger.EncodeAndPostData(fluentstats.LogTag, now, fluentstats.LogLine(entry.Level.String(), entry.Message, *nodeID, now, timestampFormat))
		}))
	}

	defer func() {
		if err := l.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "Error syncing log: %v\n", err)
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l.Fatal("failed to load config", zap.Error(err))
	}
	logSinks := rpcrelay.NewLogSinks(cfg.LogBufferSize)
	l = l.WithOptions(zap.Hooks(logSinks.Hook))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Configure OpenTelemetry with sensible defaults.
	uptrace.ConfigureOpentelemetry(
		uptrace.WithDSN(*uptraceDSN),

		uptrace.WithServiceName(_AppName),
		uptrace.WithServiceVersion(_BuildVersion),
		uptrace.WithDeploymentEnvironment(*nodeID),
	)
	// Send buffered spans and free resources.
	defer func() {
		ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := uptrace.Shutdown(ctxWithTimeout); err != nil {
			l.Error("failed to shutdown uptrace", zap.Error(err))
		}
	}()

	tracer := otel.Tracer("main")

	// init fluentD if enabled
	fluentStats := fluentstats.NewStats(*fluentDHostFlag != "", *fluentDHostFlag, l)

	db, err := store.OpenBadger(*dataDir, l)
	if err != nil {
		l.Fatal("failed to open store", zap.Error(err), zap.String("dataDir", *dataDir))
	}
	defer func() {
		if err := db.Sync(); err != nil {
			l.Error("failed to flush store", zap.Error(err))
		}
		if err := db.Close(); err != nil {
			l.Error("failed to close store", zap.Error(err))
		}
	}()

	auth := rpcrelay.NewAuthStore(db,
		rpcrelay.WithOpenRelay(cfg.OpenRelay),
		rpcrelay.WithControllers(config.Identities(cfg.Controllers)...),
		rpcrelay.WithAuthLogger(l),
	)
	if err := auth.Bootstrap(config.Identities(cfg.BootstrapAdmins)...); err != nil {
		l.Fatal("failed to bootstrap admins", zap.Error(err))
	}
	for id, roles := range cfg.RoleGrants() {
		if err := auth.Grant(id, roles...); err != nil {
			l.Fatal("failed to grant roles", zap.Error(err), zap.Stringer("identity", id))
		}
	}

	var transferer rpcrelay.Transferer = rpcrelay.NewLogTransferer(l)
	if cfg.LedgerURL != "" {
		transferer = rpcrelay.NewLedgerTransferer(cfg.LedgerURL, &http.Client{Timeout: 10 * time.Second}, l)
	}

	var accountsLists *rpcrelay.AccountsLists
	if cfg.AccountsPath != "" {
		accountsLists, err = rpcrelay.LoadAccountsFromYAML(cfg.AccountsPath)
		if err != nil {
			l.Fatal("could not load accounts from yaml", zap.Error(err))
		}
	}

	l.Info("Starting rpc relay server",
		zap.String("listenAddr", *listenAddr),
		zap.String("uptraceDSN", *uptraceDSN),
		zap.String("nodeID", *nodeID),
		zap.String("dataDir", *dataDir),
		zap.String("configPath", *configPath),
		zap.String("fluentdHostFlag", *fluentDHostFlag),
		zap.Bool("skipAuth", *skipAuth),
		zap.Bool("openRelay", cfg.OpenRelay),
		zap.Int("allowlistHosts", len(cfg.Allowlist)),
		zap.Strings("bootstrapAdmins", cfg.BootstrapAdmins),
		zap.Any("cost", cfg.Cost),
	)

	var (
		dataSvcOpts []rpcrelay.DataServiceOption
		svcOpts     []rpcrelay.ServiceOption
		serverOpts  []rpcrelay.ServerOption
	)
	dataSvcOpts = append(dataSvcOpts, rpcrelay.WithDataSvcLogger(l))
	dataSvcOpts = append(dataSvcOpts, rpcrelay.WithDataSvcNodeID(*nodeID))
	dataSvcOpts = append(dataSvcOpts, rpcrelay.WithDataSvcTracer(tracer))
	dataSvcOpts = append(dataSvcOpts, rpcrelay.WithDataSvcFluentD(fluentStats))
	dataSvcOpts = append(dataSvcOpts, rpcrelay.WithReceiptTTL(cfg.ReceiptTTL))
	dataSvcOpts = append(dataSvcOpts, rpcrelay.WithAccountImportLists(accountsLists))

	dataSvc := rpcrelay.NewDataService(dataSvcOpts...)

	metrics := rpcrelay.NewMetrics()

	svcOpts = append(svcOpts, rpcrelay.WithSvcLogger(l))
	svcOpts = append(svcOpts, rpcrelay.WithVersion(_BuildVersion))
	svcOpts = append(svcOpts, rpcrelay.WithNodeID(*nodeID))
	svcOpts = append(svcOpts, rpcrelay.WithSvcTracer(tracer))
	svcOpts = append(svcOpts, rpcrelay.WithSvcFluentD(fluentStats))
	svcOpts = append(svcOpts, rpcrelay.WithDataService(dataSvc))
	svcOpts = append(svcOpts, rpcrelay.WithCostModel(cfg.Cost))
	svcOpts = append(svcOpts, rpcrelay.WithMaxResponseBytes(cfg.MaxResponseBytes))
	svcOpts = append(svcOpts, rpcrelay.WithAllowlist(rpcrelay.NewAllowlist(cfg.Allowlist)))
	svcOpts = append(svcOpts, rpcrelay.WithTransport(httpclient.NewClient(&http.Client{Timeout: cfg.ForwardTimeout})))
	svcOpts = append(svcOpts, rpcrelay.WithMetrics(metrics))
	svcOpts = append(svcOpts, rpcrelay.WithStore(db))
	svcOpts = append(svcOpts, rpcrelay.WithAuthStore(auth))
	svcOpts = append(svcOpts, rpcrelay.WithProviderRegistry(rpcrelay.NewProviderRegistry(db, auth, transferer, l)))
	svcOpts = append(svcOpts, rpcrelay.WithStableMemory(rpcrelay.NewStableMemory(db, auth, metrics)))

	svc := rpcrelay.NewService(svcOpts...)
	if err := svc.Init(); err != nil {
		l.Fatal("failed to initialize service", zap.Error(err))
	}

	accessFilter := rpcrelay.AccessFilter{
		Accounts: rpcrelay.AccessList{BlockList: config.Set(cfg.AccountBlockList)},
		IPs:      rpcrelay.AccessList{BlockList: config.Set(cfg.IPBlockList)},
	}

	// server options
	serverOpts = append(serverOpts, rpcrelay.WithLogger(newServerLogger(*nodeID, fluentLogger)))
	serverOpts = append(serverOpts, rpcrelay.WithListenAddress(*listenAddr))
	serverOpts = append(serverOpts, rpcrelay.WithService(svc))
	serverOpts = append(serverOpts, rpcrelay.WithTracer(tracer))
	serverOpts = append(serverOpts, rpcrelay.WithAccessFilter(accessFilter))
	serverOpts = append(serverOpts, rpcrelay.WithSkipAuth(*skipAuth))
	serverOpts = append(serverOpts, rpcrelay.WithServerNodeID(*nodeID))
	serverOpts = append(serverOpts, rpcrelay.WithLogSinks(logSinks))
	serverOpts = append(serverOpts, rpcrelay.WithMetricsHandler(metrics.Handler()))
	serverOpts = append(serverOpts, rpcrelay.WithMaxPayloadBytes(cfg.MaxPayloadBytes))
	serverOpts = append(serverOpts, rpcrelay.WithHTTPServer(&http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		// a relay may spend the whole forward timeout upstream
		WriteTimeout: cfg.ForwardTimeout + 10*time.Second,
		IdleTimeout:  10 * time.Second,
	}))

	// init server
	server := rpcrelay.New(serverOpts...)

	if *pprofAddr != "" {
		go func() {
			l.Info("pprof listening", zap.String("addr", *pprofAddr))
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				l.Error("pprof server stopped", zap.Error(err))
			}
		}()
	}

	exit := make(chan struct{})
	go func() {
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
		<-shutdown
		l.Warn("shutting down")
		signal.Stop(shutdown)
		cancel()
		server.Stop()
		close(exit)
	}()

	if err := server.Start(); err != nil {
		l.Error("server stopped", zap.Error(err))
		return
	}
	<-exit
}

func newLogger(appName, version, levelName string) *zap.Logger {
	logLevel, err := zapcore.ParseLevel(levelName)
	if err != nil {
		logLevel = zap.DebugLevel
	}
	var zapCore zapcore.Core
	level := zap.NewAtomicLevel()
	level.SetLevel(logLevel)
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339Nano)

	// Use a buffered, non-blocking writer
	logWriter := zapcore.AddSync(&zapcore.BufferedWriteSyncer{
		WS:            zapcore.Lock(os.Stdout), // Output destination
		Size:          256 * 1024,              // 256 KB buffer before flush
		FlushInterval: time.Second,             // Flush every second
	})

	encoder := zapcore.NewJSONEncoder(encoderCfg)
	zapCore = zapcore.NewCore(encoder, logWriter, level)

	logger := zap.New(zapCore, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	logger = logger.With(zap.String("app", appName), zap.String("buildVersion", version))
	return logger
}

// newServerLogger writes the HTTP layer's zerolog output to stdout and, when
// connected, to fluentd.
func newServerLogger(nodeID string, fluentLogger *fluent.Fluent) zerolog.Logger {
	writers := zerolog.MultiLevelWriter(
		&fluentstats.ConsoleWriter{Out: os.Stdout},
		&fluentstats.FluentWriter{
			Fluentd:    fluentLogger,
			NodeID:     nodeID,
			TimeFormat: timestampFormat,
		},
	)
	return zerolog.New(writers).With().Timestamp().Str("app", _AppName).Logger()
}

func getEnv(key string, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
