package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const argon2Version = 19 // argon2.Version (0x13)

// Hash returns a salted digest of password using the configured algorithm.
// Policy is not applied here; callers run Validate on user input first.
func (c Config) Hash(password string) (string, error) {
	switch Algorithm(strings.ToLower(string(c.Algorithm))) {
	case AlgorithmBcrypt:
		b, err := bcrypt.GenerateFromPassword([]byte(password), c.BcryptCost)
		if err != nil {
			return "", fmt.Errorf("bcrypt: %w", err)
		}
		return string(b), nil
	case AlgorithmArgon2id, "":
		return c.hashArgon2id(password)
	default:
		return "", ErrUnknownAlgorithm
	}
}

func (c Config) hashArgon2id(password string) (string, error) {
	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		c.Params.Iterations,
		c.Params.MemoryKiB,
		c.Params.Parallelism,
		c.Params.KeyLength,
	)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		c.Params.MemoryKiB,
		c.Params.Iterations,
		c.Params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify reports whether password matches digest.
// Malformed digests, unsupported algorithms and mismatches all yield false.
func (c Config) Verify(password, digest string) bool {
	ok, err := c.Compare(digest, password)
	return err == nil && ok
}

// NeedsRehash reports whether digest was produced with a different algorithm or weaker cost
// than the current configuration.
func (c Config) NeedsRehash(digest string) bool {
	switch {
	case strings.HasPrefix(digest, "$argon2id$"):
		if Algorithm(strings.ToLower(string(c.Algorithm))) == AlgorithmBcrypt {
			return true
		}
		params, _, _, err := decodeArgon2id(digest)
		if err != nil {
			return true
		}
		return params.MemoryKiB < c.Params.MemoryKiB || params.Iterations < c.Params.Iterations
	case isBcrypt(digest):
		if Algorithm(strings.ToLower(string(c.Algorithm))) != AlgorithmBcrypt {
			return true
		}
		cost, err := bcrypt.Cost([]byte(digest))
		return err != nil || cost < c.BcryptCost
	default:
		return true
	}
}

// Compare is Verify with the failure reason exposed.
// Returns (false, ErrInvalidHash) for malformed or out-of-bounds digests.
func (c Config) Compare(digest, password string) (bool, error) {
	switch {
	case strings.HasPrefix(digest, "$argon2id$"):
		return c.checkArgon2id(digest, password)
	case isBcrypt(digest):
		return c.checkBcrypt(digest, password)
	default:
		return false, ErrInvalidHash
	}
}

func (c Config) checkArgon2id(digest, password string) (bool, error) {
	params, salt, expected, err := decodeArgon2id(digest)
	if err != nil {
		return false, err
	}
	if !withinReasonableBounds(params, c.Params) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		uint32(len(expected)), // #nosec G115 -- bounded by withinReasonableBounds.
	)
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

func (c Config) checkBcrypt(digest, password string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return false, ErrInvalidHash
	}
	if cost > max(c.BcryptCost+2, 14) {
		return false, ErrInvalidHash
	}

	err = bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

func withinReasonableBounds(got Argon2idParams, limits Argon2idParams) bool {
	// Older, cheaper settings verify; wildly larger ones are refused.
	if got.MemoryKiB > limits.MemoryKiB*2 {
		return false
	}
	if got.Iterations > limits.Iterations*2 {
		return false
	}
	if got.Parallelism > limits.Parallelism*2 {
		return false
	}
	if got.SaltLength < 8 || got.SaltLength > 64 {
		return false
	}
	if got.KeyLength < 16 || got.KeyLength > 64 {
		return false
	}
	return true
}

func decodeArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != "v=19" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	hash, err := b64.DecodeString(parts[5])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),
		SaltLength:  uint32(len(salt)), // #nosec G115 -- checked by withinReasonableBounds.
		KeyLength:   uint32(len(hash)), // #nosec G115 -- checked by withinReasonableBounds.
	}, salt, hash, nil
}
