package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
)

// HashEqual compares two hex digests in constant time.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SHA256Hex returns the lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// CopyWithHash copies src to dst and returns the bytes written and the hex
// SHA-256 of everything written. On error the hash is empty.
func CopyWithHash(dst io.Writer, src io.Reader) (written int64, sum string, err error) {
	h := sha256.New()
	written, err = io.Copy(io.MultiWriter(dst, h), src)
	if err != nil {
		return written, "", err
	}
	return written, hex.EncodeToString(h.Sum(nil)), nil
}
