package infrastructure

import "sync"

// userLock is the mutual-exclusion scope of one user
type userLock struct {
	mu   sync.Mutex
	refs int
}

// UserLocks hands out one mutex per idUser. Entries are reference counted and
// dropped once nobody holds or waits on them, so idle users cost nothing.
type UserLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

func NewUserLocks() *UserLocks {
	return &UserLocks{
		locks: make(map[string]*userLock),
	}
}

// Lock blocks until the scope of userID is free and returns its release func.
// The release func is safe to call more than once.
func (l *UserLocks) Lock(userID string) func() {
	l.mu.Lock()
	ul, exists := l.locks[userID]
	if !exists {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ul.mu.Unlock()

			l.mu.Lock()
			ul.refs--
			if ul.refs == 0 {
				delete(l.locks, userID)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of users currently holding or waiting on a lock.
func (l *UserLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
