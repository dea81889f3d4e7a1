// Package lock provides per-key serialization for stream senders and the
// single-instance lock file held by the daemon.
package lock

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

type keyedMutex struct {
	mu   sync.Mutex
	refs int
}

// MutexMap hands out one mutex per key. Entries are reference counted so a
// key can be forgotten once no goroutine holds or waits on it.
type MutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*keyedMutex
}

func NewMutexMap() *MutexMap {
	return &MutexMap{
		mutexes: make(map[string]*keyedMutex),
	}
}

func (m *MutexMap) Lock(key string) {
	m.acquire(key).mu.Lock()
}

func (m *MutexMap) Unlock(key string) {
	m.mu.Lock()
	km, ok := m.mutexes[key]
	if !ok {
		m.mu.Unlock()
		panic(fmt.Sprintf("lock: unlock of unlocked key %q", key))
	}
	km.refs--
	m.mu.Unlock()
	km.mu.Unlock()
}

// Forget drops the entry for key if nobody holds or waits on it. It reports
// whether the entry is gone.
func (m *MutexMap) Forget(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	km, ok := m.mutexes[key]
	if !ok {
		return true
	}
	if km.refs > 0 {
		return false
	}
	delete(m.mutexes, key)
	return true
}

// Len returns the number of tracked keys.
func (m *MutexMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mutexes)
}

func (m *MutexMap) acquire(key string) *keyedMutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	km, ok := m.mutexes[key]
	if !ok {
		km = &keyedMutex{}
		m.mutexes[key] = km
	}
	km.refs++
	return km
}

// FileLock is an exclusive, non-blocking flock on a pid file.
type FileLock struct {
	path string
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

func (fl *FileLock) Path() string { return fl.path }

func (fl *FileLock) TryLock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("acquire lock (another termcmd daemon may be running): %w", err)
	}

	if err := writePID(f); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return err
	}

	fl.file = f
	return nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

// Unlock releases the lock and removes the file. Calling it twice is safe.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	f := fl.file
	fl.file = nil

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close()
		return fmt.Errorf("release lock: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	os.Remove(fl.path)
	return nil
}
