// Package cryptox holds content hashing used to identify attachment files.
package cryptox

import (
	"crypto/md5"
	"encoding/hex"
	"io"
)

// MD5 returns the lowercase hex MD5 digest of everything read from r and the
// number of bytes consumed. Attachment stores compare files by this digest.
func MD5(r io.Reader) (string, int64, error) {
	h := md5.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// MD5Bytes is MD5 over an in-memory buffer.
func MD5Bytes(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
