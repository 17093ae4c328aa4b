package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/ziprehome/internal/log"
)

// Store and audit backends selectable at startup.
const (
	StoreHTTP   = "http"
	StoreS3     = "s3"
	StoreMemory = "memory"

	AuditPostgres = "postgres"
	AuditMemory   = "memory"
	AuditNone     = "none"
)

// MinUploadWorkers is the floor for the upload pool, sized to hide store latency.
const MinUploadWorkers = 10

type App struct {
	// logging
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// listeners
	HTTPPort         int
	AdminPort        int
	EnablePprof      bool
	TrustedProxyHops int
	RateLimitRPS     float64
	RateLimitBurst   int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// telemetry
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64

	// extraction engine
	ExtractMultiplier int
	UploadWorkers     int
	UploadRate        float64
	CancelOnFailure   bool
	TempDir           string
	MaxEntrySize      int64
	MaxUploadBytes    int64

	// content store
	StoreBackend          string
	StoreFetchURL         string
	StoreUploadURL        string
	StoreTimeout          time.Duration
	StoreMaxRetries       int
	StoreMaxResponseBytes int64
	StoreCertFile         string
	StoreCertPassword     string
	StoreKeyFile          string
	StoreCAFile           string

	// s3 store backend
	S3Bucket    string
	S3Prefix    string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3KMSKeyARN string

	// audit log
	AuditBackend     string
	AuditDSN         string
	AuditDSNSSMParam string
	AuditMigrate     bool
}

// Register binds all config fields to fs with defaults inline.
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "number of trusted reverse proxies in front of the API (0 ignores X-Forwarded-For)")
	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 2, "per-client request refill rate on the API")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 10, "per-client request burst on the API")
	fs.DurationVar(&c.HTTPReadTimeout, "http-read-timeout", 5*time.Minute, "API read timeout, bounds archive upload time")
	fs.DurationVar(&c.HTTPWriteTimeout, "http-write-timeout", 15*time.Minute, "API write timeout, bounds a whole extraction request")

	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.IntVar(&c.ExtractMultiplier, "extract-multiplier", 2, "extraction pool size as a multiple of available cores")
	fs.IntVar(&c.UploadWorkers, "upload-workers", 16, "fixed upload pool size (>= 10)")
	fs.Float64Var(&c.UploadRate, "upload-rate", 0, "max store uploads started per second (0 = unlimited)")
	fs.BoolVar(&c.CancelOnFailure, "cancel-on-failure", false, "cancel sibling entries as soon as one entry fails")
	fs.StringVar(&c.TempDir, "temp-dir", os.TempDir(), "root directory for temporary entry files")
	fs.Int64Var(&c.MaxEntrySize, "max-entry-size", 2<<30, "max decompressed bytes per archive entry (0 = unlimited)")
	fs.Int64Var(&c.MaxUploadBytes, "max-upload-bytes", 512<<20, "max request body size for archive uploads")

	fs.StringVar(&c.StoreBackend, "store-backend", StoreHTTP, "content store backend: http|s3|memory")
	fs.StringVar(&c.StoreFetchURL, "store-fetch-url", "", "document service fetch endpoint (http backend)")
	fs.StringVar(&c.StoreUploadURL, "store-upload-url", "", "document service upload endpoint (http backend)")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", 60*time.Second, "per-attempt timeout for store calls")
	fs.IntVar(&c.StoreMaxRetries, "store-max-retries", 3, "max attempts for retryable store failures")
	fs.Int64Var(&c.StoreMaxResponseBytes, "store-max-response-bytes", 256<<20, "max store response body size")
	fs.StringVar(&c.StoreCertFile, "store-cert-file", "", "client certificate for the store (PKCS12 .p12/.pfx or PEM)")
	fs.StringVar(&c.StoreCertPassword, "store-cert-password", "", "password for a PKCS12 client certificate")
	fs.StringVar(&c.StoreKeyFile, "store-key-file", "", "PEM private key when store-cert-file is PEM")
	fs.StringVar(&c.StoreCAFile, "store-ca-file", "", "PEM CA bundle to trust for the store")

	fs.StringVar(&c.S3Bucket, "s3-bucket", "", "bucket for the s3 store backend")
	fs.StringVar(&c.S3Prefix, "s3-prefix", "rehomed", "key prefix for the s3 store backend")
	fs.StringVar(&c.S3Endpoint, "s3-endpoint", "", "custom S3-compatible endpoint url (path-style)")
	fs.StringVar(&c.S3Region, "s3-region", "", "region override for the s3 store backend")
	fs.StringVar(&c.S3AccessKey, "s3-access-key", "", "static access key for S3-compatible endpoints")
	fs.StringVar(&c.S3SecretKey, "s3-secret-key", "", "static secret key for S3-compatible endpoints")
	fs.StringVar(&c.S3KMSKeyARN, "s3-kms-key-arn", "", "KMS key for SSE-KMS on stored objects")

	fs.StringVar(&c.AuditBackend, "audit-backend", AuditNone, "audit log backend: postgres|memory|none")
	fs.StringVar(&c.AuditDSN, "audit-dsn", "", "postgres DSN for the audit log")
	fs.StringVar(&c.AuditDSNSSMParam, "audit-dsn-ssm-param", "", "SSM SecureString parameter holding the audit DSN")
	fs.BoolVar(&c.AuditMigrate, "audit-migrate", true, "create the audit table at startup if missing")
}

// FillFromEnv sets every flag that was not passed on the command line from
// the environment. Flag "foo-bar" reads PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	onCLI := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { onCLI[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		val, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if onCLI[f.Name] {
			logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, val)
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, val); err != nil {
			_ = fs.Set(f.Name, prev)
			logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, val, err)
		}
	})
}

// EnvKey maps a flag name to its environment variable.
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// Validate reports every invalid field at once, or nil.
func Validate(c App) error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		bad("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		bad("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	}
	if c.AdminPort == c.HTTPPort {
		bad("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		bad("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks)
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		bad("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			bad("OTLP_ENDPOINT required when ENABLE_TRACING=true")
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			bad("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
		}
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			bad("PYRO_SERVER required when ENABLE_PYROSCOPE=true")
		} else if !isURL(c.PyroServer) {
			bad("PYRO_SERVER must be a URL (got %q)", c.PyroServer)
		}
		if c.PyroTenantID == "" {
			bad("PYRO_TENANT required when ENABLE_PYROSCOPE=true")
		}
	}

	if c.TrustedProxyHops < 0 {
		bad("TRUSTED_PROXY_HOPS must be >= 0 (got %d)", c.TrustedProxyHops)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		bad("RATE_LIMIT_RPS must be > 0 and RATE_LIMIT_BURST >= 1 (got %.2f, %d)", c.RateLimitRPS, c.RateLimitBurst)
	}

	if c.HTTPReadTimeout <= 0 || c.HTTPWriteTimeout <= 0 {
		bad("HTTP_READ_TIMEOUT and HTTP_WRITE_TIMEOUT must be > 0 (got %s, %s)", c.HTTPReadTimeout, c.HTTPWriteTimeout)
	}
	if c.ExtractMultiplier < 1 {
		bad("EXTRACT_MULTIPLIER must be >= 1 (got %d)", c.ExtractMultiplier)
	}
	if c.UploadWorkers < MinUploadWorkers {
		bad("UPLOAD_WORKERS must be >= %d (got %d)", MinUploadWorkers, c.UploadWorkers)
	}
	if c.UploadRate < 0 {
		bad("UPLOAD_RATE must be >= 0 (got %.2f)", c.UploadRate)
	}
	if c.TempDir == "" {
		bad("TEMP_DIR is required")
	} else if fi, err := os.Stat(c.TempDir); err != nil || !fi.IsDir() {
		bad("TEMP_DIR %q must be an existing directory", c.TempDir)
	}
	if c.MaxEntrySize < 0 {
		bad("MAX_ENTRY_SIZE must be >= 0 (got %d)", c.MaxEntrySize)
	}
	if c.MaxUploadBytes < 1 {
		bad("MAX_UPLOAD_BYTES must be >= 1 (got %d)", c.MaxUploadBytes)
	}

	switch c.StoreBackend {
	case StoreHTTP:
		if !isURL(c.StoreFetchURL) {
			bad("STORE_FETCH_URL must be a URL when STORE_BACKEND=http (got %q)", c.StoreFetchURL)
		}
		if !isURL(c.StoreUploadURL) {
			bad("STORE_UPLOAD_URL must be a URL when STORE_BACKEND=http (got %q)", c.StoreUploadURL)
		}
		if c.StoreKeyFile != "" && c.StoreCertFile == "" {
			bad("STORE_KEY_FILE requires STORE_CERT_FILE")
		}
	case StoreS3:
		if c.S3Bucket == "" {
			bad("S3_BUCKET is required when STORE_BACKEND=s3")
		}
		if c.S3Endpoint != "" && !isURL(c.S3Endpoint) {
			bad("S3_ENDPOINT must be a URL (got %q)", c.S3Endpoint)
		}
		if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
			bad("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
		}
	case StoreMemory:
	default:
		bad("invalid STORE_BACKEND %q (valid backends are http|s3|memory)", c.StoreBackend)
	}
	if c.StoreTimeout <= 0 {
		bad("STORE_TIMEOUT must be > 0 (got %s)", c.StoreTimeout)
	}
	if c.StoreMaxRetries < 1 {
		bad("STORE_MAX_RETRIES must be >= 1 (got %d)", c.StoreMaxRetries)
	}
	if c.StoreMaxResponseBytes < 1 {
		bad("STORE_MAX_RESPONSE_BYTES must be >= 1 (got %d)", c.StoreMaxResponseBytes)
	}

	switch c.AuditBackend {
	case AuditPostgres:
		if c.AuditDSN == "" && c.AuditDSNSSMParam == "" {
			bad("AUDIT_DSN or AUDIT_DSN_SSM_PARAM is required when AUDIT_BACKEND=postgres")
		}
		if c.AuditDSN != "" && c.AuditDSNSSMParam != "" {
			bad("AUDIT_DSN and AUDIT_DSN_SSM_PARAM are mutually exclusive")
		}
	case AuditMemory, AuditNone:
	default:
		bad("invalid AUDIT_BACKEND %q (valid backends are postgres|memory|none)", c.AuditBackend)
	}

	return errors.Join(errs...)
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
