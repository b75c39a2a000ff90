package jobs

import (
	"fmt"
	"sync"

	"github.com/dvloznov/statement-reconciler/internal/reconcile"
)

// ScopeLock guards against two runs touching the same records at once. ScopeAll overlaps
// every scope; statementsOnly and filesOnly only overlap themselves.
//
// The guard is in-process. Runs started from another process are not seen.
type ScopeLock struct {
	mu     sync.Mutex
	active map[reconcile.Scope]int
}

// NewScopeLock creates an empty lock.
func NewScopeLock() *ScopeLock {
	return &ScopeLock{active: make(map[reconcile.Scope]int)}
}

func overlaps(a, b reconcile.Scope) bool {
	return a == b || a == reconcile.ScopeAll || b == reconcile.ScopeAll
}

// TryAcquire claims scope, returning a release func. It returns ErrScopeBusy without
// blocking when an overlapping scope is held. The release func is idempotent.
func (l *ScopeLock) TryAcquire(scope reconcile.Scope) (func(), error) {
	if scope == "" {
		scope = reconcile.ScopeAll
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for held, n := range l.active {
		if n > 0 && overlaps(held, scope) {
			return nil, fmt.Errorf("%w: %s conflicts with running %s", ErrScopeBusy, scope, held)
		}
	}
	l.active[scope]++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.active[scope]--
			if l.active[scope] <= 0 {
				delete(l.active, scope)
			}
		})
	}, nil
}

// Held returns the scopes currently claimed.
func (l *ScopeLock) Held() []reconcile.Scope {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []reconcile.Scope
	for _, s := range []reconcile.Scope{reconcile.ScopeAll, reconcile.ScopeStatementsOnly, reconcile.ScopeFilesOnly} {
		if l.active[s] > 0 {
			out = append(out, s)
		}
	}
	return out
}
