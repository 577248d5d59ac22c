package usecase

import (
	"sync"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
)

// JobLocks serializes lifecycle commands per job id. Entries are dropped when unused.
type JobLocks struct {
	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

// NewJobLocks creates an empty lock table.
func NewJobLocks() *JobLocks {
	return &JobLocks{locks: make(map[string]*jobLock)}
}

// Lock acquires the lock of id and returns its release function.
func (l *JobLocks) Lock(id string) (unlock func()) {
	l.mu.Lock()
	jl, ok := l.locks[id]
	if !ok {
		jl = &jobLock{}
		l.locks[id] = jl
	}
	jl.refs++
	l.mu.Unlock()

	jl.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			jl.mu.Unlock()
			l.mu.Lock()
			jl.refs--
			if jl.refs == 0 {
				delete(l.locks, id)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of ids with a holder or waiter.
func (l *JobLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// ActiveTargets records which job currently runs against each target table.
// A positive limit caps how many targets may be held at once.
type ActiveTargets struct {
	mu      sync.Mutex
	holders map[model.TargetKey]string
	limit   int
}

// NewActiveTargets creates an empty registry. limit <= 0 means no cap.
func NewActiveTargets(limit int) *ActiveTargets {
	return &ActiveTargets{holders: make(map[model.TargetKey]string), limit: limit}
}

// Acquire claims key for jobID. When another job holds it, that job's id is returned with ok unset.
// When the registry is full, ok is unset and holder is empty.
// Re-acquiring a key already held by jobID succeeds.
func (a *ActiveTargets) Acquire(key model.TargetKey, jobID string) (holder string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if h, taken := a.holders[key]; taken {
		if h != jobID {
			return h, false
		}
		return jobID, true
	}
	if a.limit > 0 && len(a.holders) >= a.limit {
		return "", false
	}
	a.holders[key] = jobID
	return jobID, true
}

// Hold claims key for jobID regardless of the limit, for processes that are already running.
// It returns the previous holder when it was another job.
func (a *ActiveTargets) Hold(key model.TargetKey, jobID string) (previous string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if h := a.holders[key]; h != jobID {
		previous = h
	}
	a.holders[key] = jobID
	return previous
}

// Release frees key if jobID holds it.
func (a *ActiveTargets) Release(key model.TargetKey, jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holders[key] == jobID {
		delete(a.holders, key)
	}
}

// Holder returns the job holding key.
func (a *ActiveTargets) Holder(key model.TargetKey) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.holders[key]
	return h, ok
}

// Len returns the number of held targets.
func (a *ActiveTargets) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.holders)
}
