package service

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// WaitTimeout is the maximum time a client can wait for notifications
	WaitTimeout = 25 * time.Second
)

// Progress identifies how far a game has advanced: finalized turns and votes in the open round
type Progress struct {
	MoveIndex int
	Voters    int
}

// WaitRegistry manages long-polling clients waiting for game state changes
type WaitRegistry struct {
	mu       sync.RWMutex
	waiters  map[string][]*WaitRequest // gameID → waiting clients
	timeout  time.Duration
	shutdown chan struct{}
	closing  sync.Once
	wg       sync.WaitGroup
}

// WaitRequest represents a single client waiting for game updates
type WaitRequest struct {
	Seen    Progress        // Last progress the client saw
	Notify  chan struct{}   // Closed on change, timeout or shutdown
	Timer   *time.Timer     // Timeout timer
	Context context.Context // Client connection context
	GameID  string          // Game being watched
	fired   sync.Once
}

func (r *WaitRequest) fire() {
	r.fired.Do(func() { close(r.Notify) })
}

// NewWaitRegistry creates a new wait registry
func NewWaitRegistry(timeout time.Duration) *WaitRegistry {
	return &WaitRegistry{
		waiters:  make(map[string][]*WaitRequest),
		timeout:  timeout,
		shutdown: make(chan struct{}),
	}
}

// RegisterWait registers a client to wait for game state changes.
// The returned channel is closed once, whichever of change, timeout or shutdown comes first.
func (w *WaitRegistry) RegisterWait(ctx context.Context, gameID string, seen Progress) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	req := &WaitRequest{
		Seen:    seen,
		Notify:  make(chan struct{}),
		Context: ctx,
		GameID:  gameID,
	}
	req.Timer = time.AfterFunc(w.timeout, req.fire)

	w.waiters[gameID] = append(w.waiters[gameID], req)

	// Cleanup on disconnect, notification or shutdown
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-ctx.Done():
		case <-req.Notify:
		case <-w.shutdown:
			req.fire()
		}
		w.removeWaiter(gameID, req)
	}()

	return req.Notify
}

// NotifyGame wakes every waiter whose last seen progress differs from current
func (w *WaitRegistry) NotifyGame(gameID string, current Progress) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, req := range w.waiters[gameID] {
		if req.Seen != current {
			req.fire()
		}
	}
}

// Shutdown wakes all waiters and waits for their cleanup
func (w *WaitRegistry) Shutdown(timeout time.Duration) error {
	w.closing.Do(func() { close(w.shutdown) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("wait registry shutdown timed out")
	}
}

func (w *WaitRegistry) count(gameID string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.waiters[gameID])
}

// removeWaiter removes a specific waiter from the registry
func (w *WaitRegistry) removeWaiter(gameID string, req *WaitRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()

	waitList := w.waiters[gameID]
	for i, waiter := range waitList {
		if waiter == req {
			w.waiters[gameID] = append(waitList[:i], waitList[i+1:]...)
			break
		}
	}

	if len(w.waiters[gameID]) == 0 {
		delete(w.waiters, gameID)
	}

	req.Timer.Stop()
}
