package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// PendingNonceReader is the slice of the RPC client the nonce manager needs
// to seed a counter.
type PendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out transaction nonces for the executor key. Concurrent
// submissions on the same chain serialize on nonce acquisition only; the
// transactions themselves are sent and mined in parallel.
type NonceManager struct {
	mu   sync.Mutex
	next map[string]uint64
	seen map[string]bool
}

// NewNonceManager creates an empty NonceManager.
func NewNonceManager() *NonceManager {
	return &NonceManager{
		next: make(map[string]uint64),
		seen: make(map[string]bool),
	}
}

func nonceKey(chainID int64, addr common.Address) string {
	return strconv.FormatInt(chainID, 10) + ":" + addr.Hex()
}

// Acquire reserves the next nonce for (chainID, addr). The first acquisition
// seeds the counter from the node's pending nonce; subsequent acquisitions
// increment locally so parallel trades never collide.
func (nm *NonceManager) Acquire(ctx context.Context, client PendingNonceReader, chainID int64, addr common.Address) (uint64, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	key := nonceKey(chainID, addr)
	if !nm.seen[key] {
		pending, err := client.PendingNonceAt(ctx, addr)
		if err != nil {
			return 0, fmt.Errorf("gateway: pending nonce for %s: %w", addr.Hex(), err)
		}
		nm.next[key] = pending
		nm.seen[key] = true
	}

	n := nm.next[key]
	nm.next[key] = n + 1
	return n, nil
}

// Reset drops the cached counter for (chainID, addr) so the next Acquire
// re-seeds from the node. Call it after a nonce-related send failure.
func (nm *NonceManager) Reset(chainID int64, addr common.Address) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	key := nonceKey(chainID, addr)
	delete(nm.next, key)
	nm.seen[key] = false
}
