// Package passwordauth hashes and verifies user passwords with SHA3-512
// over a per-user random salt, the algorithm named explicitly
// (in preference to the original source's inconsistent std::hash/SHA3
// mix).
package passwordauth

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/sha3"
)

// SaltSize is the number of random bytes generated per user.
const SaltSize = 16

// Hash generates a random salt and returns the SHA3-512 digest of
// salt||password alongside it.
func Hash(password string) (hash, salt []byte, err error) {
	salt = make([]byte, SaltSize)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, err
	}
	hash = digest(password, salt)
	return hash, salt, nil
}

// Verify recomputes the digest for password under salt and compares it to
// hash in constant time.
func Verify(password string, salt, hash []byte) bool {
	want := digest(password, salt)
	return subtle.ConstantTimeCompare(want, hash) == 1
}

func digest(password string, salt []byte) []byte {
	h := sha3.Sum512(append(append([]byte(nil), salt...), password...))
	return h[:]
}
