package service

import (
	"fmt"
	"strings"

	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/wire"
)

// MaxChunkSize bounds the chunk size a publisher may announce.
const MaxChunkSize = 16 << 20

// MaxHashLen is the length of a hex-encoded SHA-256 digest.
const MaxHashLen = 64

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// storable rejects values that would break a flat-file row.
func storable(field, v string) error {
	if strings.ContainsAny(v, "|\r\n") {
		return invalid("%s contains a reserved character", field)
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" || !strings.Contains(email, "@") {
		return invalid("email must contain '@'")
	}
	if err := wire.CheckString(email, wire.EmailCap); err != nil {
		return err
	}
	return storable("email", email)
}

// ValidateFilename accepts a bare file name: non-empty, shorter than the
// wire capacity, without path separators or parent references.
func ValidateFilename(name string) error {
	switch {
	case name == "":
		return invalid("empty filename")
	case strings.Contains(name, ".."):
		return invalid("filename %q contains '..'", name)
	case strings.ContainsAny(name, `/\`):
		return invalid("filename %q contains a path separator", name)
	}
	if err := wire.CheckString(name, wire.FilenameCap); err != nil {
		return err
	}
	return storable("filename", name)
}

// ValidateHash accepts 1 to 64 lowercase hex characters.
func ValidateHash(h string) error {
	if h == "" || len(h) > MaxHashLen {
		return invalid("hash length %d", len(h))
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return invalid("hash is not lowercase hex")
		}
	}
	return nil
}
