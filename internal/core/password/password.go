// Package password hashes, verifies and generates account passwords.
package password

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const DefaultLength = 6

// MaxBytes is the longest input bcrypt accepts; it counts bytes, not runes.
const MaxBytes = 72

// Manager runs bcrypt behind a weighted semaphore so hashing bursts cannot take
// every P away from request dispatch.
type Manager struct {
	cost int
	sem  *semaphore.Weighted
}

// New builds a Manager. workers <= 0 means GOMAXPROCS-1 (at least one).
func New(cost, workers int) *Manager {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0) - 1
		if workers < 1 {
			workers = 1
		}
	}
	return &Manager{cost: cost, sem: semaphore.NewWeighted(int64(workers))}
}

func (m *Manager) Cost() int { return m.cost }

func (m *Manager) Hash(ctx context.Context, plain string) (string, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer m.sem.Release(1)
	b, err := bcrypt.GenerateFromPassword([]byte(plain), m.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (m *Manager) Verify(ctx context.Context, plain, digest string) bool {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer m.sem.Release(1)
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}

// Generate draws n characters uniformly from [A-Za-z0-9].
func Generate(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("password length must be positive")
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
