package internal

import (
	"crypto/sha512"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// SHA512sum computes a cryptographic hash of text and returns it as uppercase
// hex. Challenge identifiers and code commitments are built with it, so its
// output format is part of what the stores persist.
func SHA512sum(text string) string {
	hash := sha512.New()
	hash.Write([]byte(text))
	return strings.ToUpper(hex.EncodeToString(hash.Sum(nil)))
}

// FastHash is a high-performance non-cryptographic hash function suitable for
// log correlation and other places where cryptographic security is not
// required.
func FastHash(text string) string {
	h := xxhash.Sum64String(text)
	return strconv.FormatUint(h, 16)
}
