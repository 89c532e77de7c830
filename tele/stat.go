package tele

import (
	"sync"
	"time"
)

// Stat counts relay outcomes. Safe for concurrent use:
// engine writes, status endpoint and error hook read and write.
type Stat struct {
	mu sync.Mutex
	s  StatSnapshot
}

type StatSnapshot struct {
	Cycles        uint64    `json:"cycles"`
	Sent          uint64    `json:"sent"`
	Retried       uint64    `json:"retried"`
	Buffered      uint64    `json:"buffered"`
	Skipped       uint64    `json:"skipped"`
	Aggregated    uint64    `json:"aggregated"`
	Dropped       uint64    `json:"dropped"`
	ConnectErrors uint64    `json:"connect_errors"`
	Errors        uint64    `json:"errors"`
	LastSent      time.Time `json:"last_sent,omitempty"`
}

func (self *Stat) Modify(fun func(*StatSnapshot)) {
	self.mu.Lock()
	fun(&self.s)
	self.mu.Unlock()
}

func (self *Stat) Snapshot() StatSnapshot {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.s
}

// Error is suitable for log2.SetErrorFunc.
func (self *Stat) Error(error) {
	self.Modify(func(s *StatSnapshot) { s.Errors++ })
}

func (self *Stat) Reset() {
	self.Modify(func(s *StatSnapshot) { *s = StatSnapshot{} })
}
