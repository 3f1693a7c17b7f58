package password

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Algorithm selects the function used for new digests.
type Algorithm string

const (
	AlgorithmArgon2id Algorithm = "argon2id"
	AlgorithmBcrypt   Algorithm = "bcrypt"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds acceptable plaintext passwords.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Algorithm  Algorithm
	Params     Argon2idParams
	BcryptCost int
	Policy     Policy
}

// DefaultConfig returns the production baseline.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Algorithm: AlgorithmArgon2id,
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		BcryptCost: 12,
		Policy: Policy{
			MinLength: 6,
			MaxLength: 256,
		},
	}
}

// Check validates a config assembled from external settings.
func (c Config) Check() error {
	switch Algorithm(strings.ToLower(string(c.Algorithm))) {
	case AlgorithmArgon2id, AlgorithmBcrypt:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, c.Algorithm)
	}

	p := c.Params
	if p.MemoryKiB < 8*1024 || p.MemoryKiB > 1024*1024 {
		return fmt.Errorf("argon2 memory_kib out of range [%d..%d]", 8*1024, 1024*1024)
	}
	if p.Iterations < 1 || p.Iterations > 20 {
		return fmt.Errorf("argon2 iterations out of range [1..20]")
	}
	if p.Parallelism < 1 || p.Parallelism > 64 {
		return fmt.Errorf("argon2 parallelism out of range [1..64]")
	}
	if p.SaltLength < 8 || p.SaltLength > 64 {
		return fmt.Errorf("argon2 salt_len out of range [8..64]")
	}
	if p.KeyLength < 16 || p.KeyLength > 64 {
		return fmt.Errorf("argon2 key_len out of range [16..64]")
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost out of range [%d..%d]", bcrypt.MinCost, bcrypt.MaxCost)
	}

	if c.Policy.MinLength < 1 {
		return fmt.Errorf("password policy invalid: min_len must be >= 1")
	}
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	// bcrypt only reads the first 72 bytes.
	if Algorithm(strings.ToLower(string(c.Algorithm))) == AlgorithmBcrypt && c.Policy.MaxLength > bcryptMaxBytes {
		return fmt.Errorf("password policy invalid: max_len must be <= 72 with bcrypt")
	}
	return nil
}
