// Package health holds the liveness and readiness checks served on the API
// and ops listeners. Readiness combines the shutdown gate with backend
// checks (the audit database) through [All]; a failing check's error text is
// the 503 body.
package health
