package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// fastConfig keeps argon2 cheap so the suite stays quick.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	cfg.BcryptCost = bcrypt.MinCost
	return cfg
}

func TestHashAndVerify_OK(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	h, err := cfg.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$") {
		t.Fatalf("unexpected digest format: %s", h)
	}
	if !cfg.Verify("secret1", h) {
		t.Fatalf("expected match")
	}
}

func TestHash_SaltedPerCall(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	a, err := cfg.Hash("same input")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := cfg.Hash("same input")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Fatalf("expected different digests for the same input")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	h, err := cfg.Hash("this is a strong password 123!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Compare(h, "wrong password")
	if err != nil {
		t.Fatalf("Compare error: %v", err)
	}
	if ok || cfg.Verify("wrong password", h) {
		t.Fatalf("expected mismatch")
	}
}

func TestVerify_MalformedDigestIsFalse(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	cases := []string{
		"",
		"not-a-hash",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaGhhc2hoYXNoaGFzaA",
		"$2b$04$tooshort",
	}
	for _, digest := range cases {
		if cfg.Verify("whatever", digest) {
			t.Fatalf("Verify(%q) = true, want false", digest)
		}
		ok, err := cfg.Compare(digest, "whatever")
		if ok || !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("Compare(%q) = (%v, %v), want (false, ErrInvalidHash)", digest, ok, err)
		}
	}
}

func TestVerify_RefusesOversizedParams(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	heavy := "$argon2id$v=19$m=1048576,t=50,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaA"
	ok, err := cfg.Compare(heavy, "whatever")
	if ok || !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got ok=%v err=%v", ok, err)
	}
}

func TestBcrypt_HashAndLegacyVerify(t *testing.T) {
	t.Parallel()

	legacy, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	cfg := fastConfig()
	if !cfg.Verify("secret1", string(legacy)) {
		t.Fatalf("argon2id config must still verify bcrypt digests")
	}
	if cfg.Verify("secret2", string(legacy)) {
		t.Fatalf("expected mismatch")
	}
	if !cfg.NeedsRehash(string(legacy)) {
		t.Fatalf("bcrypt digest should be flagged for rehash under argon2id")
	}

	cfg.Algorithm = AlgorithmBcrypt
	h, err := cfg.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(h, "$2a$") {
		t.Fatalf("expected bcrypt digest, got %s", h)
	}
	if !cfg.Verify("secret1", h) {
		t.Fatalf("expected match")
	}
	if cfg.NeedsRehash(h) {
		t.Fatalf("fresh digest should not need rehash")
	}
}

func TestValidate_MinMax(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 6
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.Validate("this password is definitely too long"); err != ErrPasswordTooLong {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if err := cfg.Validate("secret1"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = true

	for _, pw := range []string{"password", "11111111", "aaaaaaa", "123456"} {
		if err := cfg.Validate(pw); err != ErrWeakPassword {
			t.Fatalf("Validate(%q): expected ErrWeakPassword, got %v", pw, err)
		}
	}
	if err := cfg.Validate("a-very-ok-pass"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestConfig_Check(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bcrypt", mutate: func(c *Config) { c.Algorithm = AlgorithmBcrypt; c.Policy.MaxLength = 72 }},
		{name: "bcrypt long max", mutate: func(c *Config) { c.Algorithm = AlgorithmBcrypt }, wantErr: true},
		{name: "unknown algorithm", mutate: func(c *Config) { c.Algorithm = "md5" }, wantErr: true},
		{name: "min > max", mutate: func(c *Config) { c.Policy.MinLength = 20; c.Policy.MaxLength = 10 }, wantErr: true},
		{name: "tiny memory", mutate: func(c *Config) { c.Params.MemoryKiB = 1024 }, wantErr: true},
		{name: "bcrypt cost", mutate: func(c *Config) { c.BcryptCost = 2 }, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Check()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Check()=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_BcryptByteLimit(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.Algorithm = AlgorithmBcrypt
	cfg.Policy.MaxLength = 72
	if err := cfg.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}

	// 40 runes, 80 bytes.
	multibyte := strings.Repeat("é", 40)
	if err := cfg.Validate(multibyte); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}

	// 36 runes, 72 bytes: the largest input bcrypt accepts.
	fits := strings.Repeat("é", 36)
	if err := cfg.Validate(fits); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	h, err := cfg.Hash(fits)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !cfg.Verify(fits, h) {
		t.Fatalf("expected match")
	}

	cfg.Algorithm = AlgorithmArgon2id
	if err := cfg.Validate(multibyte); err != nil {
		t.Fatalf("argon2id has no byte limit, got %v", err)
	}
}
