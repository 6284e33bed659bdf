package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

const (
	DefaultSIDLength = 10
	sidSeparator     = "-"
	sidAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var ErrInvalidSIDLength = errors.New("invalid session id length")

// SIDGenerator produces session identifiers: an optional base64url timestamp prefix followed by a
// random alphanumeric suffix.
type SIDGenerator struct {
	Length    int
	Timestamp bool
	Now       func() time.Time
}

func NewSIDGenerator(length int, timestamp bool) *SIDGenerator {
	return &SIDGenerator{Length: length, Timestamp: timestamp, Now: time.Now}
}

func (g *SIDGenerator) Generate() (string, error) {
	if g.Length < 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidSIDLength, g.Length)
	}
	length := g.Length
	prefix := ""
	if g.Timestamp {
		now := time.Now
		if g.Now != nil {
			now = g.Now
		}
		prefix = EncodeSIDTimestamp(now())
		if length == 0 {
			return prefix, nil
		}
		prefix += sidSeparator
	}
	if length == 0 {
		length = DefaultSIDLength
	}
	suffix, err := RandomAlphaNumeric(length)
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return prefix + suffix, nil
}

// EncodeSIDTimestamp encodes the decimal millisecond timestamp as unpadded base64url.
func EncodeSIDTimestamp(t time.Time) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(t.UnixMilli(), 10)))
}

func RandomAlphaNumeric(n int) (string, error) {
	limit := big.NewInt(int64(len(sidAlphabet)))
	out := make([]byte, n)
	for i := range out {
		v, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out[i] = sidAlphabet[v.Int64()]
	}
	return string(out), nil
}
