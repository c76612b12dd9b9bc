package utils

import (
	"context"
	"sync"
)

// GroupLock is an in-process keyed mutex. Holders of the same key run one at a
// time in arrival order; different keys never block each other.
//
// Each Acquire appends a link to the key's chain and waits for the previous
// link to close. The key is dropped from the map once its last link releases.
// There is no cross-process guarantee.
type GroupLock struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewGroupLock creates an empty lock registry
func NewGroupLock() *GroupLock {
	return &GroupLock{tails: make(map[string]chan struct{})}
}

// Acquire blocks until the caller holds key and returns the release function.
// Release must be called on every exit path; calling it more than once is a no-op.
func (g *GroupLock) Acquire(key string) func() {
	release, _ := g.AcquireContext(context.Background(), key)
	return release
}

// AcquireContext is Acquire with a bounded wait. If ctx ends while the caller is
// still queued, it returns ctx.Err() and the queued link releases itself as soon
// as its predecessor does, so later callers are not stranded.
func (g *GroupLock) AcquireContext(ctx context.Context, key string) (func(), error) {
	done := make(chan struct{})

	g.mu.Lock()
	prev := g.tails[key]
	g.tails[key] = done
	g.mu.Unlock()

	release := g.releaser(key, done)
	if prev == nil {
		return release, nil
	}

	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

func (g *GroupLock) releaser(key string, done chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			close(done)
			if g.tails[key] == done {
				delete(g.tails, key)
			}
		})
	}
}

// Len returns the number of keys with at least one queued or running holder
func (g *GroupLock) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tails)
}

// GroupLockKey builds the (user, token) key used by withdrawal operations
func GroupLockKey(userAddress, tokenAddress string) string {
	return NormalizeAddress(userAddress) + "+" + NormalizeAddress(tokenAddress)
}

// WalletLockKey builds the key guarding a wallet's ledger balance
func WalletLockKey(walletAddress string) string {
	return "wallet:" + NormalizeAddress(walletAddress)
}
