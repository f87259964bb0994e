// Package tokenpool implements the ProxyToken data type and the
// TokenProvider collaborator contract from spec §3/§6, plus the default,
// config-driven StaticPool implementation gravityproxy ships so the
// proxy runs standalone (token acquisition and storage are formally an
// external collaborator per spec §1).
package tokenpool

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// Token is the ProxyToken tuple from spec §3: immutable per call; a
// missing ProjectID is a fatal config error at the call site, not here.
type Token struct {
	AccountIdentifier string
	AccessToken       string
	ProjectID         string
	SessionID         string
}

// Provider is the TokenProvider collaborator contract from spec §6:
// Next() is round-robin and thread-safe, Len() reports pool size. An
// empty pool is valid and must be handled by callers (spec §4.C10 step 1,
// "if none, respond 503").
type Provider interface {
	Next() (Token, bool)
	Len() int
}

// StaticPool is a fixed list of tokens loaded from config, rotated with a
// monotonically incrementing cursor (spec §9, "Round-robin token
// rotation … the token provider owns a monotonically incrementing
// cursor"). An optional session key lets a caller bias the starting
// offset via rendezvous hashing so the same logical session tends to
// land on the same account across separate requests, without losing the
// round-robin guarantee that a single client request never revisits an
// account.
type StaticPool struct {
	tokens []Token
	cursor atomic.Uint64
	rdv    *rendezvous.Rendezvous
	mu     sync.Mutex
}

// NewStaticPool builds a StaticPool from tokens. Order is preserved for
// round robin; a rendezvous hash ring over the account identifiers picks
// the starting cursor position for a given session key (see NextFor).
func NewStaticPool(tokens []Token) *StaticPool {
	names := make([]string, len(tokens))
	for i, t := range tokens {
		names[i] = t.AccountIdentifier
	}
	var rdv *rendezvous.Rendezvous
	if len(names) > 0 {
		rdv = rendezvous.New(names, xxhash.Sum64String)
	}
	return &StaticPool{tokens: tokens, rdv: rdv}
}

// Next returns the next token in round-robin order. Safe for concurrent
// use: the cursor is an atomic counter, matching the teacher's
// dependency-injected, thread-safe collaborator pattern.
func (p *StaticPool) Next() (Token, bool) {
	if len(p.tokens) == 0 {
		return Token{}, false
	}
	idx := p.cursor.Add(1) - 1
	return p.tokens[idx%uint64(len(p.tokens))], true
}

// NextFor behaves like Next but, on the first call of a fresh attempt
// sequence (attempt == 0), starts from the account rendezvous-hashing
// picks for sessionKey instead of the raw rotating cursor. This gives
// repeated calls from the same logical session (sessionKey) a preferred
// account while still allowing the orchestrator's retry loop to advance
// through the rest of the pool on subsequent attempts.
func (p *StaticPool) NextFor(sessionKey string, attempt int) (Token, bool) {
	if len(p.tokens) == 0 {
		return Token{}, false
	}
	if attempt > 0 || p.rdv == nil || sessionKey == "" {
		return p.Next()
	}

	p.mu.Lock()
	preferred := p.rdv.Get(sessionKey)
	p.mu.Unlock()

	for i, t := range p.tokens {
		if t.AccountIdentifier == preferred {
			// Move the cursor forward to the slot right after the
			// preferred account, so the following Next() calls walk the
			// rest of the pool before coming back to it.
			n := uint64(len(p.tokens))
			for {
				cur := p.cursor.Load()
				step := (uint64(i) + 1 + n - cur%n) % n
				if step == 0 {
					step = n
				}
				if p.cursor.CompareAndSwap(cur, cur+step) {
					break
				}
			}
			return p.tokens[i], true
		}
	}
	return p.Next()
}

// Len reports the pool size.
func (p *StaticPool) Len() int {
	return len(p.tokens)
}
