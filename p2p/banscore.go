package p2p

import "time"

// BanThreshold is the score at which a peer is disconnected and banned. Every
// ban-worthy dispatch violation (spec.md §4.8) adds this delta directly, so
// there is no accumulation of small infractions into a ban — one violation,
// one ban.
const BanThreshold = 100

// BanScore is a small per-peer policy counter, adapted from the teacher's
// time-decayed ban score. It is not a consensus rule.
type BanScore struct {
	score       int
	lastUpdated time.Time
}

func (b *BanScore) Score(now time.Time) int {
	b.decayTo(now)
	return b.score
}

func (b *BanScore) Add(now time.Time, delta int) int {
	b.decayTo(now)
	b.score += delta
	if b.score < 0 {
		b.score = 0
	}
	return b.score
}

func (b *BanScore) ShouldBan(now time.Time) bool {
	return b.Score(now) >= BanThreshold
}

func (b *BanScore) decayTo(now time.Time) {
	if b.lastUpdated.IsZero() {
		b.lastUpdated = now
		return
	}
	if now.Before(b.lastUpdated) {
		b.lastUpdated = now
		return
	}
	minutes := int(now.Sub(b.lastUpdated) / time.Minute)
	if minutes <= 0 {
		return
	}
	b.score -= minutes
	if b.score < 0 {
		b.score = 0
	}
	b.lastUpdated = now
}
