package session

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ClaimAuthority hands out session ids and opaque claim tokens.
type ClaimAuthority struct {
	sessions atomic.Uint64
	nonces   atomic.Uint64
	now      func() time.Time
}

func NewClaimAuthority(now func() time.Time) *ClaimAuthority {
	if now == nil {
		now = time.Now
	}
	return &ClaimAuthority{now: now}
}

// NextSessionID returns a strictly increasing id starting at 1.
func (a *ClaimAuthority) NextSessionID() uint64 {
	return a.sessions.Add(1)
}

// NextClaimToken mints a 48 character hex token. The nonce alone makes every
// token unique within the process.
func (a *ClaimAuthority) NextClaimToken(sessionID uint64) string {
	nonce := a.nonces.Add(1)
	return fmt.Sprintf("%016x%016x%016x", unixMillis(a.now()), sessionID, nonce)
}

func unixMillis(t time.Time) uint64 {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}
