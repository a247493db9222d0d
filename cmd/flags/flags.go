package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/world-registry/common"
	"github.com/ruteri/world-registry/httpserver"
	"github.com/urfave/cli/v2"
)

const envPrefix = "REGISTRY_"

func envVars(name string) []string {
	return []string{envPrefix + name}
}

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		TLS:                      cCtx.Bool(TLSFlag.Name),
		TLSCommonName:            cCtx.String(AddressFlag.Name),
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var AddressFlag = &cli.StringFlag{
	Name:     "address",
	Required: true,
	Usage:    "public host[:port] the registry is reachable at; the registry DID is did:web:<address>",
	EnvVars:  envVars("ADDRESS"),
}

var IdentityFlag = &cli.StringFlag{
	Name:    "identity",
	Value:   ".registry/registry_identity.json",
	Usage:   "identity location: file path, file://, vault://host:port/mount/path or memory://",
	EnvVars: envVars("IDENTITY"),
}

var RegenerateCorruptIdentityFlag = &cli.BoolFlag{
	Name:    "regenerate-corrupt-identity",
	Value:   false,
	Usage:   "replace an unparseable identity with a fresh one instead of refusing to start",
	EnvVars: envVars("REGENERATE_CORRUPT_IDENTITY"),
}

var StoreFlag = &cli.StringSliceFlag{
	Name:    "store",
	Value:   cli.NewStringSlice("sqlite://./.registry/registry.db"),
	Usage:   "protocol store URI: memory://, sqlite://, s3://, ipfs://, dwn+http(s)://; repeat to replicate across stores",
	EnvVars: envVars("STORE"),
}

var StoreTimeoutFlag = &cli.DurationFlag{
	Name:    "store-timeout",
	Value:   30 * time.Second,
	Usage:   "timeout of a single protocol store operation",
	EnvVars: envVars("STORE_TIMEOUT"),
}

var RegistrationAttemptsFlag = &cli.Uint64Flag{
	Name:    "registration-attempts",
	Value:   5,
	Usage:   "attempts per protocol store operation before registration gives up",
	EnvVars: envVars("REGISTRATION_ATTEMPTS"),
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for the DID document",
	EnvVars: envVars("LISTEN_ADDR"),
}

var TLSFlag = &cli.BoolFlag{
	Name:    "tls",
	Value:   false,
	Usage:   "serve HTTPS with a generated short-lived local CA certificate",
	EnvVars: envVars("TLS"),
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	Usage:   "log in JSON format",
	EnvVars: envVars("LOG_JSON"),
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	Usage:   "log debug messages",
	EnvVars: envVars("LOG_DEBUG"),
}
var LogUidFlag = &cli.BoolFlag{
	Name:    "log-uid",
	Value:   false,
	Usage:   "generate a uuid and add to all log messages",
	EnvVars: envVars("LOG_UID"),
}
var LogServiceFlag = &cli.StringFlag{
	Name:    "log-service",
	Value:   "world-registry",
	Usage:   "add 'service' tag to logs",
	EnvVars: envVars("LOG_SERVICE"),
}

var PprofFlag = &cli.BoolFlag{
	Name:    "pprof",
	Value:   false,
	Usage:   "enable pprof debug endpoint",
	EnvVars: envVars("PPROF"),
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:    "drain-seconds",
	Value:   45,
	Usage:   "seconds to wait in drain HTTP request",
	EnvVars: envVars("DRAIN_SECONDS"),
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics",
	EnvVars: envVars("METRICS_ADDR"),
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
