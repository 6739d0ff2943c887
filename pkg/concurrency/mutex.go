package concurrency

import (
	"sync"
	"time"

	"github.com/arlobridge/natsws/pkg/logger"
)

// slowHoldThreshold is the lock-hold duration above which Unlock logs a
// warning. Long holds on the subscription registry or pending-request table
// are exactly the kind of thing that turns into read-loop stalls.
const slowHoldThreshold = 250 * time.Millisecond

// MutexConfig names a mutex for diagnostics. The name shows up in the slow
// hold warning, nothing else.
type MutexConfig struct {
	Name string
}

// SmartMutex is a sync.Mutex that logs when a critical section runs long
// enough to suggest something is blocking inside it that shouldn't be.
type SmartMutex struct {
	mu       sync.Mutex
	name     string
	lockedAt time.Time
}

func NewSmartMutex(cfg MutexConfig) *SmartMutex {
	return &SmartMutex{name: cfg.Name}
}

func (m *SmartMutex) Lock() {
	m.mu.Lock()
	m.lockedAt = time.Now()
}

func (m *SmartMutex) Unlock() {
	held := time.Since(m.lockedAt)
	m.mu.Unlock()
	if held > slowHoldThreshold {
		logger.L().Warn("long mutex hold", "mutex", m.name, "held", held)
	}
}

// SmartRWMutex is a sync.RWMutex with the same slow-hold diagnostic on the
// writer path. Reader holds are not timed: short concurrent reads are the
// expected case and timing them adds overhead for no signal.
type SmartRWMutex struct {
	mu       sync.RWMutex
	name     string
	lockedAt time.Time
}

func NewSmartRWMutex(cfg MutexConfig) *SmartRWMutex {
	return &SmartRWMutex{name: cfg.Name}
}

func (m *SmartRWMutex) Lock() {
	m.mu.Lock()
	m.lockedAt = time.Now()
}

func (m *SmartRWMutex) Unlock() {
	held := time.Since(m.lockedAt)
	m.mu.Unlock()
	if held > slowHoldThreshold {
		logger.L().Warn("long rwmutex write hold", "mutex", m.name, "held", held)
	}
}

func (m *SmartRWMutex) RLock()   { m.mu.RLock() }
func (m *SmartRWMutex) RUnlock() { m.mu.RUnlock() }
