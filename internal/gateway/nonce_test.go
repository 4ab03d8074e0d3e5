package gateway

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type stubNonceReader struct {
	mu      sync.Mutex
	pending uint64
	calls   int
}

func (s *stubNonceReader) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.pending, nil
}

func TestNonceManagerSequential(t *testing.T) {
	nm := NewNonceManager()
	client := &stubNonceReader{pending: 7}
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	for want := uint64(7); want < 12; want++ {
		got, err := nm.Acquire(context.Background(), client, 42161, addr)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if got != want {
			t.Fatalf("nonce = %d, want %d", got, want)
		}
	}
	if client.calls != 1 {
		t.Errorf("node queried %d times, want 1 (seed only)", client.calls)
	}
}

func TestNonceManagerConcurrentNoCollisions(t *testing.T) {
	nm := NewNonceManager()
	client := &stubNonceReader{pending: 100}
	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")

	const workers = 32
	nonces := make([]uint64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := nm.Acquire(context.Background(), client, 42161, addr)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			nonces[i] = n
		}(i)
	}
	wg.Wait()

	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i, n := range nonces {
		if n != 100+uint64(i) {
			t.Fatalf("nonces are not a gapless run from 100: %v", nonces)
		}
	}
}

func TestNonceManagerIsolatesChainsAndAccounts(t *testing.T) {
	nm := NewNonceManager()
	addrA := common.HexToAddress("0x3333333333333333333333333333333333333333")

	arb := &stubNonceReader{pending: 5}
	base := &stubNonceReader{pending: 40}

	n1, _ := nm.Acquire(context.Background(), arb, 42161, addrA)
	n2, _ := nm.Acquire(context.Background(), base, 8453, addrA)
	if n1 != 5 || n2 != 40 {
		t.Fatalf("nonces = %d/%d, want independent counters 5/40", n1, n2)
	}
}

func TestNonceManagerReset(t *testing.T) {
	nm := NewNonceManager()
	client := &stubNonceReader{pending: 3}
	addr := common.HexToAddress("0x4444444444444444444444444444444444444444")

	if n, _ := nm.Acquire(context.Background(), client, 42161, addr); n != 3 {
		t.Fatalf("nonce = %d, want 3", n)
	}
	if n, _ := nm.Acquire(context.Background(), client, 42161, addr); n != 4 {
		t.Fatalf("nonce = %d, want 4", n)
	}

	// After a send failure the counter is dropped and re-seeded from the node.
	client.pending = 9
	nm.Reset(42161, addr)

	n, err := nm.Acquire(context.Background(), client, 42161, addr)
	if err != nil {
		t.Fatalf("Acquire after reset: %v", err)
	}
	if n != 9 {
		t.Errorf("nonce = %d, want re-seeded 9", n)
	}
	if client.calls != 2 {
		t.Errorf("node queried %d times, want 2", client.calls)
	}
}
