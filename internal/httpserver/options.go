package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/ziprehome/internal/health"
	"github.com/keithlinneman/ziprehome/internal/httpmw"
	"github.com/keithlinneman/ziprehome/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Checker
	Readiness    health.Checker

	// APIRoutes mounts the service endpoints on the router.
	APIRoutes func(chi.Router)

	// MaxBodyBytes caps request bodies; 0 leaves them unbounded.
	MaxBodyBytes int64

	// zero keeps the NewServer defaults
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}
