package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrTooShort is returned by Hash for passwords under Policy.MinBytes.
	ErrTooShort = errors.New("password too short")
	// ErrTooLong is returned by Hash and Verify for passwords over
	// Policy.MaxBytes. Verify rejects them before hashing.
	ErrTooLong = errors.New("password too long")
	// ErrMalformedHash is returned by Verify for input that is not an
	// argon2id PHC string this package can read.
	ErrMalformedHash = errors.New("malformed password hash")
)

const (
	floorMemoryKB = 8 * 1024
	floorSalt     = 16
	floorKey      = 16
)

// Params are the argon2id cost settings recorded in every hash.
type Params struct {
	MemoryKB   uint32
	Iterations uint32
	Threads    uint8
	SaltBytes  uint32
	KeyBytes   uint32
}

// Policy bounds the accepted password length in bytes. Bytes are hashed as
// given, without Unicode normalization.
type Policy struct {
	MinBytes int
	MaxBytes int
}

// PortalPolicy matches the identity provider's sign-up rule of 6 to 72
// characters.
var PortalPolicy = Policy{MinBytes: 6, MaxBytes: 72}

// StandinParams is the cheapest parameter set New accepts. Stand-in
// accounts exist only in memory for the life of the process.
func StandinParams() Params {
	return Params{MemoryKB: floorMemoryKB, Iterations: 1, Threads: 1, SaltBytes: floorSalt, KeyBytes: 32}
}

// Hasher hashes and verifies passwords. It is safe for concurrent use.
type Hasher struct {
	params Params
	policy Policy
}

// New checks params against the argon2id floors and policy for sanity.
func New(params Params, policy Policy) (*Hasher, error) {
	switch {
	case params.MemoryKB < floorMemoryKB:
		return nil, fmt.Errorf("argon2 memory must be >= %d KB", floorMemoryKB)
	case params.Iterations < 1:
		return nil, errors.New("argon2 iterations must be >= 1")
	case params.Threads < 1:
		return nil, errors.New("argon2 threads must be >= 1")
	case params.SaltBytes < floorSalt:
		return nil, fmt.Errorf("argon2 salt must be >= %d bytes", floorSalt)
	case params.KeyBytes < floorKey:
		return nil, fmt.Errorf("argon2 key must be >= %d bytes", floorKey)
	case policy.MinBytes < 1:
		return nil, errors.New("password policy minimum must be >= 1")
	case policy.MaxBytes < policy.MinBytes:
		return nil, errors.New("password policy maximum must be >= minimum")
	}
	return &Hasher{params: params, policy: policy}, nil
}

// Hash returns the PHC string for pw with a fresh random salt.
func (h *Hasher) Hash(pw string) (string, error) {
	if err := h.policy.check(pw); err != nil {
		return "", err
	}
	salt := make([]byte, h.params.SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	d := digest{params: h.params, salt: salt}
	d.key = d.derive(pw)
	return d.String(), nil
}

// Verify reports whether pw produces encoded. The comparison is constant
// time; the cost parameters come from encoded, not from h.
func (h *Hasher) Verify(pw, encoded string) (bool, error) {
	if len(pw) > h.policy.MaxBytes {
		return false, ErrTooLong
	}
	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(d.derive(pw), d.key) == 1, nil
}

func (p Policy) check(pw string) error {
	switch {
	case len(pw) < p.MinBytes:
		return fmt.Errorf("%w: need at least %d bytes", ErrTooShort, p.MinBytes)
	case len(pw) > p.MaxBytes:
		return fmt.Errorf("%w: at most %d bytes", ErrTooLong, p.MaxBytes)
	}
	return nil
}

// digest is one decoded $argon2id$v=19$m=..,t=..,p=..$salt$key string.
type digest struct {
	params Params
	salt   []byte
	key    []byte
}

var b64 = base64.RawStdEncoding

func (d digest) derive(pw string) []byte {
	return argon2.IDKey([]byte(pw), d.salt, d.params.Iterations, d.params.MemoryKB, d.params.Threads, d.params.KeyBytes)
}

func (d digest) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, d.params.MemoryKB, d.params.Iterations, d.params.Threads,
		b64.EncodeToString(d.salt), b64.EncodeToString(d.key))
}

func parseDigest(encoded string) (digest, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return digest{}, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return digest{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, fields[2])
	}

	var d digest
	var memory, iterations, threads uint64
	n, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads)
	if err != nil || n != 3 || fmt.Sprintf("m=%d,t=%d,p=%d", memory, iterations, threads) != fields[3] {
		return digest{}, fmt.Errorf("%w: bad parameters %q", ErrMalformedHash, fields[3])
	}
	if memory < floorMemoryKB || memory > 1<<32-1 || iterations < 1 || iterations > 1<<32-1 || threads < 1 || threads > 255 {
		return digest{}, fmt.Errorf("%w: parameters out of range", ErrMalformedHash)
	}
	d.params = Params{MemoryKB: uint32(memory), Iterations: uint32(iterations), Threads: uint8(threads)}

	if d.salt, err = b64.DecodeString(fields[4]); err != nil || len(d.salt) < floorSalt {
		return digest{}, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	if d.key, err = b64.DecodeString(fields[5]); err != nil || len(d.key) < floorKey {
		return digest{}, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	d.params.SaltBytes = uint32(len(d.salt))
	d.params.KeyBytes = uint32(len(d.key))
	return d, nil
}
