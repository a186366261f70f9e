// Package transport holds the connection-scoped transport-selection setting
// and the guard that overrides it for the span of one variant invocation.
//
// Settings are created per dispatch from the configured default, so an
// override on one host's connection is never visible to another dispatch.
package transport

import (
	"errors"
	"sync"
)

var (
	ErrNilToken   = errors.New("transport: nil override token")
	ErrTokenEnded = errors.New("transport: override token already ended")
	ErrWrongOwner = errors.New("transport: override token belongs to other settings")
)

// Settings is the transport-selection state of one connection.
type Settings struct {
	mu       sync.Mutex
	forceSCP bool
}

// Snapshot is an immutable copy of Settings handed to variant executors.
type Snapshot struct {
	ForceSCP bool `json:"force_scp"`
}

// NewSettings returns settings initialised to the configured default.
func NewSettings(forceSCP bool) *Settings {
	return &Settings{forceSCP: forceSCP}
}

// ForceSCP reports whether file copies must use scp instead of sftp.
func (s *Settings) ForceSCP() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forceSCP
}

// Snapshot returns the current values.
func (s *Settings) Snapshot() Snapshot {
	return Snapshot{ForceSCP: s.ForceSCP()}
}

// Token captures the value in effect before an override. It must be passed to
// End exactly once.
type Token struct {
	owner *Settings
	prior bool

	mu    sync.Mutex
	ended bool
}

// Begin saves the current value and applies forceSCP.
func (s *Settings) Begin(forceSCP bool) *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := &Token{owner: s, prior: s.forceSCP}
	s.forceSCP = forceSCP
	return tok
}

// End restores the value saved by Begin. Ending a token twice is an error and
// leaves the settings untouched.
func (s *Settings) End(tok *Token) error {
	if tok == nil {
		return ErrNilToken
	}
	if tok.owner != s {
		return ErrWrongOwner
	}

	tok.mu.Lock()
	defer tok.mu.Unlock()
	if tok.ended {
		return ErrTokenEnded
	}
	tok.ended = true

	s.mu.Lock()
	s.forceSCP = tok.prior
	s.mu.Unlock()
	return nil
}
