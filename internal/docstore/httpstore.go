package docstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/ziprehome/internal/log"
	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

const (
	DefaultTimeout          = 60 * time.Second
	DefaultMaxRetries       = 3
	DefaultMaxResponseBytes = 256 << 20

	// errSnippetBytes bounds how much of an error body is quoted back.
	errSnippetBytes = 512
)

type HTTPOptions struct {
	FetchURL  string
	UploadURL string

	// Timeout bounds each attempt, not the whole retried call.
	Timeout          time.Duration
	MaxRetries       int
	MaxResponseBytes int64

	TLS TLSOptions

	// Client replaces the default instrumented client, mainly for tests.
	Client *http.Client

	// InitialBackoff overrides the first retry delay.
	InitialBackoff time.Duration

	Logger log.Logger
}

// HTTPStore talks to the document service. Both directions carry the file
// as base64 inside a JSON body.
type HTTPStore struct {
	opts   HTTPOptions
	client *http.Client
	logger log.Logger
}

func NewHTTPStore(opts HTTPOptions) (*HTTPStore, error) {
	if opts.FetchURL == "" || opts.UploadURL == "" {
		return nil, xerrors.New("docstore: fetch and upload urls are required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	client := opts.Client
	if client == nil {
		tlsCfg, err := LoadTLSConfig(opts.TLS)
		if err != nil {
			return nil, err
		}
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.TLSClientConfig = tlsCfg
		base.MaxIdleConnsPerHost = 32
		base.DialContext = (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext
		client = &http.Client{Transport: otelhttp.NewTransport(base)}
	}

	return &HTTPStore{opts: opts, client: client, logger: L.With("store", "http")}, nil
}

type fetchRequest struct {
	DocumentLinkID string `json:"document_link_id"`
}

type fetchResponse struct {
	Content  *string `json:"content"`
	Filename string  `json:"filename"`
	FileName string  `json:"file_name"`
}

type uploadResponse struct {
	DocumentLinkID string `json:"document_link_id"`
}

// Fetch downloads a document by link id. The name falls back to "<id>.zip"
// when the service does not send one.
func (s *HTTPStore) Fetch(ctx context.Context, id string) (*Document, error) {
	if id == "" {
		return nil, xerrors.New("docstore: empty document link id")
	}
	payload, err := json.Marshal(fetchRequest{DocumentLinkID: id})
	if err != nil {
		return nil, xerrors.Wrap(err, "encode fetch request")
	}

	raw, err := s.retry(ctx, "fetch", func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.FetchURL, bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(xerrors.Wrap(err, "build fetch request"))
		}
		req.Header.Set("Content-Type", "application/json")
		return s.roundTrip(req, true)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch document %s: %w", id, err)
	}

	var resp fetchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, invalidErr("fetch %s: decode response: %v", id, err)
	}
	if resp.Content == nil {
		return nil, invalidErr("fetch %s: missing content field", id)
	}
	if *resp.Content == "" {
		return nil, invalidErr("fetch %s: empty content", id)
	}
	data, err := base64.StdEncoding.DecodeString(*resp.Content)
	if err != nil {
		return nil, invalidErr("fetch %s: decode content: %v", id, err)
	}

	name := id + ".zip"
	switch {
	case resp.Filename != "":
		name = resp.Filename
	case resp.FileName != "":
		name = resp.FileName
	}

	s.logger.Info(ctx, "fetched document", "document_link_id", id, "file_name", name, "bytes", len(data))
	return &Document{Name: name, Size: int64(len(data)), Body: io.NopCloser(bytes.NewReader(data))}, nil
}

// Put uploads obj and returns the new document link id. The base64 body is
// streamed from obj.Body, which is rewound before every attempt.
func (s *HTTPStore) Put(ctx context.Context, obj Object) (string, error) {
	name, err := json.Marshal(obj.Name)
	if err != nil {
		return "", xerrors.Wrap(err, "encode file name")
	}

	raw, err := s.retry(ctx, "upload", func(ctx context.Context) ([]byte, error) {
		if _, err := obj.Body.Seek(0, io.SeekStart); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: rewind %s: %w", ErrTransport, obj.Name, err))
		}
		body, done := uploadBody(name, obj.Body)
		// the encoder goroutine must be gone before the next attempt rewinds obj.Body
		defer func() {
			body.Close()
			<-done
		}()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.UploadURL, body)
		if err != nil {
			return nil, backoff.Permanent(xerrors.Wrap(err, "build upload request"))
		}
		req.Header.Set("Content-Type", "application/json")
		return s.roundTrip(req, false)
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", obj.Name, err)
	}

	var resp uploadResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", invalidErr("upload %s: decode response: %v", obj.Name, err)
	}
	if strings.TrimSpace(resp.DocumentLinkID) == "" {
		return "", invalidErr("upload %s: missing document_link_id", obj.Name)
	}
	return resp.DocumentLinkID, nil
}

// uploadBody streams {"filename":name,"content":"<base64>"} from src. done
// closes once the writer goroutine has stopped reading src.
func uploadBody(name []byte, src io.Reader) (io.ReadCloser, <-chan struct{}) {
	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		var err error
		defer close(done)
		defer func() { pw.CloseWithError(err) }()

		if _, err = io.WriteString(pw, `{"filename":`); err != nil {
			return
		}
		if _, err = pw.Write(name); err != nil {
			return
		}
		if _, err = io.WriteString(pw, `,"content":"`); err != nil {
			return
		}
		enc := base64.NewEncoder(base64.StdEncoding, pw)
		if _, err = io.Copy(enc, src); err != nil {
			return
		}
		if err = enc.Close(); err != nil {
			return
		}
		_, err = io.WriteString(pw, `"}`)
	}()
	return pr, done
}

// roundTrip sends req and returns the body of a 2xx reply. Network errors,
// 429 and 5xx are retryable; anything else is permanent.
func (s *HTTPStore) roundTrip(req *http.Request, notFoundIs404 bool) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errSnippetBytes))
		err := transportErr("%s returned %d: %s", req.URL.Redacted(), resp.StatusCode, strings.TrimSpace(string(snippet)))
		switch {
		case resp.StatusCode == http.StatusNotFound && notFoundIs404:
			return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrNotFound, err))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.opts.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}
	if int64(len(data)) > s.opts.MaxResponseBytes {
		return nil, backoff.Permanent(invalidErr("response exceeds %d bytes", s.opts.MaxResponseBytes))
	}
	return data, nil
}

func (s *HTTPStore) retry(ctx context.Context, op string, attempt func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = 10 * time.Second

	return backoff.Retry(ctx, func() ([]byte, error) {
		actx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
		return attempt(actx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.opts.MaxRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn(ctx, "document service call failed, retrying", "op", op, "err", err, "retry_in", next)
		}),
	)
}
