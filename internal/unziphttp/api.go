// Package unziphttp is the REST front door of the unzip service.
package unziphttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/ziprehome/internal/docstore"
	"github.com/keithlinneman/ziprehome/internal/extract"
	"github.com/keithlinneman/ziprehome/internal/log"
	"github.com/keithlinneman/ziprehome/internal/unzipsvc"
)

// FileField is the multipart field that carries the archive.
const FileField = "file"

var errMissingFile = errors.New("missing multipart field " + FileField)

// Service is the unzip service as the API uses it.
type Service interface {
	Process(ctx context.Context, name string, r io.Reader) (*unzipsvc.Response, error)
	ProcessDocument(ctx context.Context, clientID, linkID string) (map[string]unzipsvc.UnzipDetail, error)
	ProcessUpload(ctx context.Context, clientID, name string, r io.Reader) (map[string]unzipsvc.UnzipDetail, error)
	Fetch(ctx context.Context, linkID string) (*docstore.Document, error)
}

type API struct {
	svc    Service
	logger log.Logger
}

func NewAPI(svc Service, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{svc: svc, logger: logger}
}

// RegisterRoutes attaches the unzip endpoints to the router.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Post("/unzip", api.HandleUnzip)
	r.Get("/unzip_upload_save_doc/{clientId}/{documentLinkId}", api.HandleUnzipStoredDoc)
	r.Post("/unzip_upload_doc/{clientId}", api.HandleUnzipUploadDoc)
	r.Get("/fetch_file_documentum/{documentLinkId}", api.HandleFetch)
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HandleUnzip extracts an uploaded archive and returns ids plus tree.
func (api *API) HandleUnzip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	name, part, err := filePart(r)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	defer part.Close()

	res, err := api.svc.Process(ctx, name, part)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, res)
}

// HandleUnzipStoredDoc extracts an archive already in the content store.
func (api *API) HandleUnzipStoredDoc(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := strings.TrimSpace(chi.URLParam(r, "clientId"))
	linkID := strings.TrimSpace(chi.URLParam(r, "documentLinkId"))
	if clientID == "" || linkID == "" {
		api.writeError(ctx, w, unzipsvc.ErrEmptyInput)
		return
	}

	out, err := api.svc.ProcessDocument(ctx, clientID, linkID)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, out)
}

// HandleUnzipUploadDoc stores an uploaded archive, then extracts it.
func (api *API) HandleUnzipUploadDoc(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := strings.TrimSpace(chi.URLParam(r, "clientId"))
	if clientID == "" {
		api.writeError(ctx, w, unzipsvc.ErrEmptyInput)
		return
	}

	name, part, err := filePart(r)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	defer part.Close()

	out, err := api.svc.ProcessUpload(ctx, clientID, name, part)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, out)
}

// HandleFetch streams a stored document back as an attachment.
func (api *API) HandleFetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	linkID := strings.TrimSpace(chi.URLParam(r, "documentLinkId"))

	doc, err := api.svc.Fetch(ctx, linkID)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	defer doc.Body.Close()

	name := doc.Name
	if name == "" {
		name = linkID
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if doc.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if n, err := io.Copy(w, doc.Body); err != nil {
		api.logger.Warn(ctx, "fetch stream interrupted", "document_link_id", linkID, "written", n, "err", err)
	}
}

// filePart streams the first part named FileField without buffering the
// rest of the form.
func filePart(r *http.Request) (string, *multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, errMissingFile
	}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return "", nil, errMissingFile
		}
		if err != nil {
			return "", nil, err
		}
		if p.FormName() == FileField {
			return p.FileName(), p, nil
		}
		p.Close()
	}
}

// StatusFor maps a service error to an HTTP status.
func StatusFor(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, unzipsvc.ErrEmptyInput),
		errors.Is(err, unzipsvc.ErrUnsupportedFormat),
		errors.Is(err, errMissingFile):
		return http.StatusBadRequest
	case errors.Is(err, unzipsvc.ErrTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, extract.ErrArchiveCorrupt):
		return http.StatusUnprocessableEntity
	case errors.Is(err, extract.ErrStoreTransport),
		errors.Is(err, extract.ErrInvalidStoreResponse),
		errors.Is(err, docstore.ErrTransport),
		errors.Is(err, docstore.ErrInvalidResponse):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (api *API) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusBadGateway:
		msg = "content store failure"
	case status >= 500:
		msg = http.StatusText(status)
	}
	if status >= 500 {
		api.logger.Error(ctx, err, "unzip request failed", "status", status, "kind", extract.FailureKind(err))
	} else {
		api.logger.Info(ctx, "unzip request rejected", "status", status, "err", err)
	}
	api.writeJSON(ctx, w, status, ErrorResponse{Error: msg})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
