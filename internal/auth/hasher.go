package auth

import (
	"crypto/subtle"
	"strconv"
)

// PasswordHasher isolates the password digest scheme so it can be swapped
// without touching call sites. Verify must run in constant time for
// matching-length digests.
type PasswordHasher interface {
	Hash(password string) string
	Verify(password, digest string) bool
}

// rollingHasher is a deliberately simple djb2-style digest kept for
// compatibility with existing stored hashes. It is not a password KDF;
// replacing it means implementing PasswordHasher and migrating digests.
type rollingHasher struct{}

// NewRollingHasher returns the legacy digest scheme.
func NewRollingHasher() PasswordHasher { return rollingHasher{} }

func (rollingHasher) Hash(password string) string {
	var h uint64 = 5381
	for i := 0; i < len(password); i++ {
		h = h*33 + uint64(password[i])
	}
	return strconv.FormatUint(h, 16)
}

func (r rollingHasher) Verify(password, digest string) bool {
	computed := r.Hash(password)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}
