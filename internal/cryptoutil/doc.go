// Package cryptoutil holds the digest helpers shared by extraction and the
// content stores: streaming SHA-256 while copying, and constant-time
// comparison of hex digests.
package cryptoutil
