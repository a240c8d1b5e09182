package masking

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"math/big"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	NullRewriteName         = "null_rewrite"
	StringRewriteName       = "string_rewrite"
	HashName                = "hash"
	RandomStringRewriteName = "random_string_rewrite"
)

type nullRewrite struct{}

func newNullRewrite(map[string]any) (Strategy, error) {
	return nullRewrite{}, nil
}

func (nullRewrite) Name() string { return NullRewriteName }

func (nullRewrite) Mask(values []any, _ string) ([]any, error) {
	return make([]any, len(values)), nil
}

type stringRewrite struct {
	value string
}

func newStringRewrite(options map[string]any) (Strategy, error) {
	value, err := stringOption(options, "rewrite_value", "")
	if err != nil {
		return nil, err
	}
	return stringRewrite{value: value}, nil
}

func (s stringRewrite) Name() string { return StringRewriteName }

func (s stringRewrite) Mask(values []any, _ string) ([]any, error) {
	masked := make([]any, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		masked[i] = s.value
	}
	return masked, nil
}

type hashStrategy struct {
	algorithm string
	salt      string
}

func newHash(options map[string]any) (Strategy, error) {
	algorithm, err := stringOption(options, "algorithm", "SHA-256")
	if err != nil {
		return nil, err
	}
	algorithm = strings.ToUpper(algorithm)
	switch algorithm {
	case "SHA-256", "SHA-512", "BLAKE3":
	default:
		return nil, fmt.Errorf("%w: unsupported hash algorithm %q", ErrInvalidConfiguration, algorithm)
	}

	salt, err := stringOption(options, "salt", "")
	if err != nil {
		return nil, err
	}
	return hashStrategy{algorithm: algorithm, salt: salt}, nil
}

func (h hashStrategy) Name() string { return HashName }

func (h hashStrategy) newHash() hash.Hash {
	switch h.algorithm {
	case "SHA-512":
		return sha512.New()
	case "BLAKE3":
		return blake3.New()
	default:
		return sha256.New()
	}
}

// Mask salts with the configured salt, or the request id when none is configured,
// so equal inputs hash equally within one request.
func (h hashStrategy) Mask(values []any, requestID string) ([]any, error) {
	salt := h.salt
	if salt == "" {
		salt = requestID
	}

	masked := make([]any, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		digest := h.newHash()
		_, _ = fmt.Fprintf(digest, "%v%s", v, salt)
		masked[i] = hex.EncodeToString(digest.Sum(nil))
	}
	return masked, nil
}

const randomAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type randomStringRewrite struct {
	length int
}

func newRandomStringRewrite(options map[string]any) (Strategy, error) {
	length, err := intOption(options, "length", 30)
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: length must be positive", ErrInvalidConfiguration)
	}
	return randomStringRewrite{length: length}, nil
}

func (r randomStringRewrite) Name() string { return RandomStringRewriteName }

func (r randomStringRewrite) Mask(values []any, _ string) ([]any, error) {
	masked := make([]any, len(values))
	limit := big.NewInt(int64(len(randomAlphabet)))
	for i, v := range values {
		if v == nil {
			continue
		}
		var sb strings.Builder
		sb.Grow(r.length)
		for j := 0; j < r.length; j++ {
			n, err := rand.Int(rand.Reader, limit)
			if err != nil {
				return nil, err
			}
			sb.WriteByte(randomAlphabet[n.Int64()])
		}
		masked[i] = sb.String()
	}
	return masked, nil
}
