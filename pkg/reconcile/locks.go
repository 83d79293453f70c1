package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentstation/ratify/pkg/errors"
)

// Locks hands out one exclusive mutation lock per project. Acquisition
// honors context cancellation; idle entries are dropped.
type Locks struct {
	mu       sync.Mutex
	projects map[string]*projectLock
}

type projectLock struct {
	sem   chan struct{}
	users int
}

// NewLocks returns an empty lock table.
func NewLocks() *Locks {
	return &Locks{projects: map[string]*projectLock{}}
}

// Acquire blocks until the project's lock is held or ctx is done. The
// returned release function must be called exactly once.
func (l *Locks) Acquire(ctx context.Context, projectID string) (func(), error) {
	l.mu.Lock()
	pl, ok := l.projects[projectID]
	if !ok {
		pl = &projectLock{sem: make(chan struct{}, 1)}
		l.projects[projectID] = pl
	}
	pl.users++
	l.mu.Unlock()

	select {
	case pl.sem <- struct{}{}:
	case <-ctx.Done():
		l.leave(projectID, pl)
		return nil, fmt.Errorf("waiting for project %s lock: %w: %w", projectID, errors.ErrCanceled, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-pl.sem
			l.leave(projectID, pl)
		})
	}, nil
}

func (l *Locks) leave(projectID string, pl *projectLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.users--
	if pl.users == 0 {
		delete(l.projects, projectID)
	}
}

// Len returns the number of projects with a holder or waiter.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.projects)
}
