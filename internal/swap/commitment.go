package swap

import (
	"crypto/subtle"
	"encoding/binary"
	"math"

	"github.com/minio/sha256-simd"

	"github.com/nmxmxh/ringswap/internal/core"
)

const (
	// WordSize is the width of every payload word.
	WordSize = 8
	// DigestSize is the length of a commitment.
	DigestSize = sha256.Size
	// minPayloadWords covers the nonce and the location.
	minPayloadWords = 2
)

// Payload is the value each side commits to before revealing it: a random
// nonce, its own location and the locations of its neighbors.
type Payload struct {
	Nonce     uint64
	Location  float64
	Neighbors []float64
}

// Encode lays the payload out as big-endian 64-bit words:
// [nonce, location bits, neighbor bits...].
func (p Payload) Encode() []byte {
	buf := make([]byte, (minPayloadWords+len(p.Neighbors))*WordSize)
	binary.BigEndian.PutUint64(buf[0:], p.Nonce)
	binary.BigEndian.PutUint64(buf[WordSize:], math.Float64bits(p.Location))
	for i, n := range p.Neighbors {
		binary.BigEndian.PutUint64(buf[(minPayloadWords+i)*WordSize:], math.Float64bits(n))
	}
	return buf
}

// DecodePayload parses a revealed payload. It checks only the shape; use
// Validate for the location ranges.
func DecodePayload(b []byte) (Payload, error) {
	if len(b)%WordSize != 0 || len(b) < minPayloadWords*WordSize {
		return Payload{}, errBadPayload(len(b))
	}

	words := len(b) / WordSize
	p := Payload{
		Nonce:     binary.BigEndian.Uint64(b[0:]),
		Location:  math.Float64frombits(binary.BigEndian.Uint64(b[WordSize:])),
		Neighbors: make([]float64, words-minPayloadWords),
	}
	for i := range p.Neighbors {
		p.Neighbors[i] = math.Float64frombits(binary.BigEndian.Uint64(b[(minPayloadWords+i)*WordSize:]))
	}
	return p, nil
}

// Validate checks that every location in the payload lies on the ring.
func (p Payload) Validate() error {
	if !core.IsValid(p.Location) {
		return errLocationRange("location", p.Location)
	}
	for _, n := range p.Neighbors {
		if !core.IsValid(n) {
			return errLocationRange("neighbor", n)
		}
	}
	return nil
}

// Commit returns the commitment for an encoded payload.
func Commit(encoded []byte) []byte {
	sum := sha256.Sum256(encoded)
	return sum[:]
}

// CheckCommitment verifies that a commitment received from a peer has the
// digest length.
func CheckCommitment(commitment []byte) error {
	if len(commitment) != DigestSize {
		return errBadCommitment(len(commitment))
	}
	return nil
}

// OpenCommitment verifies a revealed payload against the commitment the peer
// sent earlier and decodes it.
func OpenCommitment(commitment, revealed []byte) (Payload, error) {
	p, err := DecodePayload(revealed)
	if err != nil {
		return Payload{}, err
	}
	if subtle.ConstantTimeCompare(Commit(revealed), commitment) != 1 {
		return Payload{}, errHashMismatch()
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}
