package motion

import (
	"fmt"
	"strings"
)

// Signer reduces an encoded frame to a scalar signature
type Signer interface {
	Name() string
	Sign(data []byte) float64
}

const (
	SignerChecksum = "checksum"
	SignerLength   = "length"

	// maxSignatureSamples bounds the sampling stride, not the exact sample count
	maxSignatureSamples = 1000
)

// NewSigner returns the signer for a configured mode
func NewSigner(mode string) (Signer, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", SignerChecksum:
		return ChecksumSigner{}, nil
	case SignerLength:
		return LengthSigner{}, nil
	default:
		return nil, fmt.Errorf("unknown signature mode %q (valid: checksum, length)", mode)
	}
}

// ChecksumSigner sums byte values sampled at a fixed stride.
// The stride is len/min(len, 1000), so a payload is sampled roughly a
// thousand times regardless of its size.
type ChecksumSigner struct{}

func (ChecksumSigner) Name() string { return SignerChecksum }

func (ChecksumSigner) Sign(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	samples := len(data)
	if samples > maxSignatureSamples {
		samples = maxSignatureSamples
	}
	step := len(data) / samples

	var sum uint64
	for i := 0; i < len(data); i += step {
		sum += uint64(data[i])
	}
	return float64(sum)
}

// LengthSigner uses the encoded payload size. Compressed stills grow or
// shrink with scene content, which makes the size a usable proxy.
type LengthSigner struct{}

func (LengthSigner) Name() string { return SignerLength }

func (LengthSigner) Sign(data []byte) float64 {
	return float64(len(data))
}
