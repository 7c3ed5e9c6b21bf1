package p2p

import (
	"sync"
	"time"
)

// BanTTL is how long an address stays banned after a ban-worthy violation
// (spec.md §4.8). Banned peers cannot be re-added, dialed, or dial in.
const BanTTL = 10 * time.Minute

// banList tracks banned addresses with lazy expiry: entries are only
// dropped when looked up, never on a background timer.
type banList struct {
	mu      sync.Mutex
	bannedUntil map[string]time.Time
}

func newBanList() *banList {
	return &banList{bannedUntil: make(map[string]time.Time)}
}

// ban marks addr banned until now+BanTTL.
func (b *banList) ban(addr string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bannedUntil[addr] = now.Add(BanTTL)
}

// isBanned reports whether addr is currently banned, purging it from the
// map if its TTL has lapsed.
func (b *banList) isBanned(addr string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.bannedUntil[addr]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(b.bannedUntil, addr)
		return false
	}
	return true
}
