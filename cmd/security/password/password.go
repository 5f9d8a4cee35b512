package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// phcVersion is argon2.Version (0x13) as written in the PHC string.
const phcVersion = "v=19"

var b64 = base64.RawStdEncoding

// phc is a parsed "$argon2id$v=19$m=<KiB>,t=<iter>,p=<lanes>$<salt>$<key>" string, the form
// stored in user_credentials.password_hash.
type phc struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (h phc) String() string {
	return fmt.Sprintf("$argon2id$%s$m=%d,t=%d,p=%d$%s$%s",
		phcVersion, h.params.MemoryKiB, h.params.Iterations, h.params.Parallelism,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

func parsePHC(s string) (phc, error) {
	fields := strings.Split(s, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" || fields[2] != phcVersion {
		return phc{}, ErrInvalidHash
	}

	var mem, iter, lanes uint64
	for _, kv := range strings.Split(fields[3], ",") {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return phc{}, ErrInvalidHash
		}
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || n == 0 {
			return phc{}, ErrInvalidHash
		}
		switch name {
		case "m":
			mem = n
		case "t":
			iter = n
		case "p":
			lanes = n
		default:
			return phc{}, ErrInvalidHash
		}
	}
	if mem == 0 || iter == 0 || lanes == 0 || lanes > 255 {
		return phc{}, ErrInvalidHash
	}

	salt, err := b64.DecodeString(fields[4])
	if err != nil {
		return phc{}, ErrInvalidHash
	}
	key, err := b64.DecodeString(fields[5])
	if err != nil {
		return phc{}, ErrInvalidHash
	}

	return phc{
		params: Argon2idParams{
			MemoryKiB:   uint32(mem),       // #nosec G115 -- ParseUint bitSize 32.
			Iterations:  uint32(iter),      // #nosec G115 -- ParseUint bitSize 32.
			Parallelism: uint8(lanes),      // #nosec G115 -- checked <= 255 above.
			SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded by the encoded string.
			KeyLength:   uint32(len(key)),  // #nosec G115 -- bounded by the encoded string.
		},
		salt: salt,
		key:  key,
	}, nil
}

func derive(pw string, salt []byte, p Argon2idParams) []byte {
	return argon2.IDKey([]byte(pw), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
}

// Hash validates pw against the sign-up policy and returns its PHC-encoded argon2id hash.
func (c Config) Hash(pw string) (string, error) {
	if err := c.Validate(pw); err != nil {
		return "", err
	}
	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: salt: %w", err)
	}
	return phc{params: c.Params, salt: salt, key: derive(pw, salt, c.Params)}.String(), nil
}

// Verify reports whether pw matches encoded. A malformed hash, or one whose cost is far above
// the configured parameters, yields ErrInvalidHash without running argon2.
func (c Config) Verify(encoded, pw string) (bool, error) {
	h, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if !c.affordable(h.params) {
		return false, ErrInvalidHash
	}
	got := derive(pw, h.salt, h.params)
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// affordable accepts hashes made with older, cheaper settings and anything up to twice the
// configured cost.
func (c Config) affordable(p Argon2idParams) bool {
	limit := c.Params
	switch {
	case p.MemoryKiB > 2*limit.MemoryKiB, p.Iterations > 2*limit.Iterations, p.Parallelism > 2*limit.Parallelism:
		return false
	case p.SaltLength < 8, p.SaltLength > 64:
		return false
	case p.KeyLength < 16, p.KeyLength > 128:
		return false
	}
	return true
}

// NeedsRehash reports whether encoded was produced with parameters other than the configured
// ones. Sign-in rehashes after a successful Verify, so cost changes roll out on login.
func (c Config) NeedsRehash(encoded string) bool {
	h, err := parsePHC(encoded)
	if err != nil {
		return true
	}
	p := h.params
	return p.MemoryKiB != c.Params.MemoryKiB ||
		p.Iterations != c.Params.Iterations ||
		p.Parallelism != c.Params.Parallelism ||
		p.KeyLength != c.Params.KeyLength
}
