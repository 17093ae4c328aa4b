// Package httpmw provides HTTP middleware for the unzip API server.
//
// httpserver.NewHandler composes them outermost first: panic recovery,
// security headers, request ID, client IP, rate limiting, OTel tracing,
// metrics, request logger, access log, body limit and the chi router.
//
// Loggers only carry values the server derives itself. Query strings,
// user agents and cookies are never logged.
package httpmw
