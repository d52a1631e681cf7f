package acebase

import (
	"crypto/rand"
	"time"
)

// pushKeyAlphabet is the 62-character digit/letter set, in ascending byte
// order so that fixed-width encodings sort like the numbers they encode,
// matching the restricted-alphabet approach the teacher's tests/Shared.go
// GenerateRandomBytes uses for generating test keys, adapted here into
// production code for push() key generation.
const pushKeyAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// pushKeyRandomChars is how many trailing random characters follow the
// timestamp prefix, giving collision resistance within the same millisecond.
const pushKeyRandomChars = 16

// generatePushKey returns a 24-character key: an 8-character timestamp
// prefix (milliseconds since epoch, base-62-ish encoded so keys sort in
// creation order) followed by pushKeyRandomChars random characters.
func generatePushKey(now time.Time) (string, error) {
	ms := uint64(now.UnixMilli())

	prefix := make([]byte, 8)
	for i := len(prefix) - 1; i >= 0; i-- {
		prefix[i] = pushKeyAlphabet[ms%uint64(len(pushKeyAlphabet))]
		ms /= uint64(len(pushKeyAlphabet))
	}

	randomBytes := make([]byte, pushKeyRandomChars)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", &IoError{Op: "generatePushKey", Cause: err}
	}
	suffix := make([]byte, pushKeyRandomChars)
	for i, b := range randomBytes {
		suffix[i] = pushKeyAlphabet[int(b)%len(pushKeyAlphabet)]
	}

	return string(prefix) + string(suffix), nil
}
