// Package ratelimit provides per-IP rate limiting for the unzip API with
// background eviction of stale entries.
//
// Extraction requests are expensive: each one holds pool slots, temp disk and
// content store capacity. The limiter bounds how fast a single client can
// start them. It is single-instance and in-memory, so distributed floods still
// need upstream filtering. The visitor map is capped so unique-source floods
// cannot grow it without limit.
package ratelimit
