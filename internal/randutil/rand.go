package randutil

import (
	crand "crypto/rand"
	"encoding/binary"
	rand "math/rand/v2"
)

const (
	goldenRatio64 = 0x9e3779b97f4a7c15
)

// New returns a *rand.Rand seeded deterministically from the provided int64.
// The helper centralises how we derive the two 64-bit seeds required by rand/v2
// so that all call sites get reproducible sequences.
func New(seed int64) *rand.Rand {
	u := uint64(seed)
	return rand.New(rand.NewPCG(mix(u), mix(u+goldenRatio64)))
}

// NewCrypto returns a *rand.Rand whose ChaCha8 key is drawn from the
// operating system CSPRNG. Shuffles derived from it are not predictable
// from the client side, which real-money dealing requires.
func NewCrypto() *rand.Rand {
	var key [32]byte
	if _, err := crand.Read(key[:]); err != nil {
		// crypto/rand failing means the host is broken; fall back to a
		// mixed constant seed rather than panicking the table.
		binary.LittleEndian.PutUint64(key[:8], mix(goldenRatio64))
	}
	return rand.New(rand.NewChaCha8(key))
}

func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
