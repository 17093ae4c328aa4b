package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/keithlinneman/ziprehome/internal/cryptoutil"
	"github.com/keithlinneman/ziprehome/internal/log"
	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

// object metadata keys
const (
	metaParentID = "parent-id"
	metaName     = "original-name"
	metaSHA256   = "sha256"
)

// S3API is the subset of the S3 client the store needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Options struct {
	Bucket    string
	Prefix    string
	KMSKeyARN string
	Logger    log.Logger
}

// S3Store writes each document to <prefix>/<uuid>/<name>. The object key is
// the storage id.
type S3Store struct {
	client S3API
	opts   S3Options
	logger log.Logger
}

func NewS3Store(client S3API, opts S3Options) (*S3Store, error) {
	if client == nil {
		return nil, xerrors.New("docstore: s3 client is required")
	}
	if opts.Bucket == "" {
		return nil, xerrors.New("docstore: s3 bucket is required")
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	return &S3Store{client: client, opts: opts, logger: L.With("store", "s3", "bucket", opts.Bucket)}, nil
}

func (s *S3Store) key(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" || base == "" {
		base = "document"
	}
	k := uuid.NewString() + "/" + base
	if s.opts.Prefix != "" {
		k = s.opts.Prefix + "/" + k
	}
	return k
}

func (s *S3Store) Put(ctx context.Context, obj Object) (string, error) {
	if _, err := obj.Body.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("%w: rewind %s: %w", ErrTransport, obj.Name, err)
	}
	key := s.key(obj.Name)

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(key),
		Body:          obj.Body,
		ContentLength: aws.Int64(obj.Size),
		ContentType:   aws.String("application/octet-stream"),
		Metadata: map[string]string{
			metaParentID: obj.ParentID,
			metaName:     obj.Name,
			metaSHA256:   obj.SHA256,
		},
	}
	if s.opts.KMSKeyARN != "" {
		in.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
		in.SSEKMSKeyId = aws.String(s.opts.KMSKeyARN)
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("%w: put s3://%s/%s: %w", ErrTransport, s.opts.Bucket, key, err)
	}
	s.logger.Debug(ctx, "stored object", "key", key, "bytes", obj.Size)
	return key, nil
}

// Fetch streams the object back. When the object carries a sha256, the body
// fails at EOF if the bytes do not match it.
func (s *S3Store) Fetch(ctx context.Context, id string) (*Document, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.opts.Bucket, id)
		}
		return nil, fmt.Errorf("%w: get s3://%s/%s: %w", ErrTransport, s.opts.Bucket, id, err)
	}

	name := out.Metadata[metaName]
	if name == "" {
		name = path.Base(id)
	}
	var body io.ReadCloser = out.Body
	if want := out.Metadata[metaSHA256]; want != "" {
		body = &verifyingReader{rc: out.Body, h: sha256.New(), want: want, key: id}
	}
	return &Document{Name: name, Size: aws.ToInt64(out.ContentLength), Body: body}, nil
}

func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

type verifyingReader struct {
	rc   io.ReadCloser
	h    hash.Hash
	want string
	key  string
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.rc.Read(p)
	v.h.Write(p[:n])
	if errors.Is(err, io.EOF) {
		got := hex.EncodeToString(v.h.Sum(nil))
		if !cryptoutil.HashEqual(got, v.want) {
			return n, invalidErr("checksum mismatch for %s: expected %s, got %s", v.key, v.want, got)
		}
	}
	return n, err
}

func (v *verifyingReader) Close() error { return v.rc.Close() }

// AWSOptions configures the S3 and KMS clients. Endpoint and static keys are
// for S3-compatible stores; leave them empty to use the default chain.
type AWSOptions struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewAWSClients loads AWS config once and returns the S3 and KMS clients built from it.
func NewAWSClients(ctx context.Context, o AWSOptions) (*s3.Client, *kms.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if o.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(o.Region))
	}
	if o.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, nil, xerrors.Wrap(err, "load AWS config")
	}

	s3Client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	})
	return s3Client, kms.NewFromConfig(cfg), nil
}
