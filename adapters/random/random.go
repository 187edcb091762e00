// Package random provides Random implementations used for key material and
// session tokens.
package random

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/shrinkix/quotagate/ports"
)

// Real uses crypto/rand for secure randomness.
type Real struct{}

// Bytes generates n cryptographically secure random bytes.
func (Real) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// String generates a random hex string of n characters.
func (r Real) String(n int) (string, error) {
	b, err := r.Bytes((n + 1) / 2)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b)[:n], nil
}

var _ ports.Random = Real{}

// Fake provides deterministic randomness for testing.
type Fake struct {
	mu      sync.Mutex
	counter int
	values  [][]byte // Preset values to return
}

// NewFake creates a fake random source.
func NewFake(values ...[]byte) *Fake {
	return &Fake{values: values}
}

// Bytes returns preset bytes first, then bytes derived from a counter.
func (f *Fake) Bytes(n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := make([]byte, n)
	if len(f.values) > 0 {
		copy(b, f.values[0])
		f.values = f.values[1:]
		return b, nil
	}

	f.counter++
	for i := range b {
		b[i] = byte((f.counter + i) % 256)
	}
	return b, nil
}

// String returns a deterministic hex string.
func (f *Fake) String(n int) (string, error) {
	b, err := f.Bytes((n + 1) / 2)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b)[:n], nil
}

var _ ports.Random = (*Fake)(nil)
