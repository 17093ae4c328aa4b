package opshttp

import (
	"net/http"

	"github.com/keithlinneman/ziprehome/internal/health"
)

// DefaultPort is the ops listener port when Options.Port is 0.
const DefaultPort = 9000

type Options struct {
	Port int

	// Metrics is served at /metrics when set.
	Metrics http.Handler

	// EnablePprof mounts net/http/pprof; otherwise /debug/pprof/ is a 404.
	EnablePprof bool

	Health    health.Checker
	Readiness health.Checker
}
