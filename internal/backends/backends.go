// Package backends turns a validated cfg.App into the content store, audit
// log and worker pools shared by the server and the CLI.
package backends

import (
	"context"
	"runtime"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/ziprehome/internal/audit"
	"github.com/keithlinneman/ziprehome/internal/cfg"
	"github.com/keithlinneman/ziprehome/internal/docstore"
	"github.com/keithlinneman/ziprehome/internal/health"
	"github.com/keithlinneman/ziprehome/internal/log"
	"github.com/keithlinneman/ziprehome/internal/workpool"
	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

// ExtractWorkers is the extract pool size: cores times the multiplier.
func ExtractWorkers(conf cfg.App) int {
	n := runtime.NumCPU() * conf.ExtractMultiplier
	if n < 1 {
		n = 1
	}
	return n
}

// NewPools builds the extract and upload pools. hooks apply to both.
// The pools never nest: walks hold extract slots, Put calls hold upload slots.
func NewPools(conf cfg.App, hooks ...workpool.Option) (extractPool, uploadPool *workpool.Pool, err error) {
	extractPool, err = workpool.New("extract", ExtractWorkers(conf), hooks...)
	if err != nil {
		return nil, nil, err
	}
	uploadOpts := append([]workpool.Option{workpool.WithRate(conf.UploadRate, conf.UploadWorkers)}, hooks...)
	uploadPool, err = workpool.New("upload", conf.UploadWorkers, uploadOpts...)
	if err != nil {
		return nil, nil, err
	}
	return extractPool, uploadPool, nil
}

// OpenStore returns the content store selected by StoreBackend.
func OpenStore(ctx context.Context, conf cfg.App, L log.Logger) (docstore.Store, error) {
	if L == nil {
		L = log.Nop()
	}
	switch conf.StoreBackend {
	case cfg.StoreS3:
		s3Client, kmsClient, err := docstore.NewAWSClients(ctx, docstore.AWSOptions{
			Region:    conf.S3Region,
			Endpoint:  conf.S3Endpoint,
			AccessKey: conf.S3AccessKey,
			SecretKey: conf.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		if conf.S3KMSKeyARN != "" {
			if err := docstore.CheckKMSKey(ctx, kmsClient, conf.S3KMSKeyARN); err != nil {
				return nil, err
			}
		}
		return docstore.NewS3Store(s3Client, docstore.S3Options{
			Bucket:    conf.S3Bucket,
			Prefix:    conf.S3Prefix,
			KMSKeyARN: conf.S3KMSKeyARN,
			Logger:    L,
		})
	case cfg.StoreMemory:
		L.Warn(ctx, "using in-memory content store, documents are lost on exit")
		return docstore.NewMemStore(), nil
	case cfg.StoreHTTP:
		return docstore.NewHTTPStore(docstore.HTTPOptions{
			FetchURL:         conf.StoreFetchURL,
			UploadURL:        conf.StoreUploadURL,
			Timeout:          conf.StoreTimeout,
			MaxRetries:       conf.StoreMaxRetries,
			MaxResponseBytes: conf.StoreMaxResponseBytes,
			TLS: docstore.TLSOptions{
				CertFile: conf.StoreCertFile,
				Password: conf.StoreCertPassword,
				KeyFile:  conf.StoreKeyFile,
				CAFile:   conf.StoreCAFile,
			},
			Logger: L,
		})
	default:
		return nil, xerrors.Newf("unknown store backend %q", conf.StoreBackend)
	}
}

// OpenAudit returns the audit store selected by AuditBackend plus a
// readiness check for it.
func OpenAudit(ctx context.Context, conf cfg.App) (audit.Store, health.Checker, error) {
	ok := health.Fixed(true, "")
	switch conf.AuditBackend {
	case cfg.AuditPostgres:
		dsn := conf.AuditDSN
		if conf.AuditDSNSSMParam != "" {
			awsCfg, err := config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, nil, xerrors.Wrap(err, "load AWS config")
			}
			dsn, err = audit.ResolveDSN(ctx, ssm.NewFromConfig(awsCfg), conf.AuditDSNSSMParam)
			if err != nil {
				return nil, nil, err
			}
		}
		pg, err := audit.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		if conf.AuditMigrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, nil, err
			}
		}
		return pg, health.CheckFunc(pg.Ping), nil
	case cfg.AuditMemory:
		return audit.NewMemory(), ok, nil
	case cfg.AuditNone, "":
		return audit.Nop{}, ok, nil
	default:
		return nil, nil, xerrors.Newf("unknown audit backend %q", conf.AuditBackend)
	}
}
