// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import "sync"

// registry maps editor-visible session ids to live sessions. Lookup
// happens on every routed message; registration and removal only at
// session boundaries.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*session)}
}

func (r *registry) register(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.proxyID] = s
}

func (r *registry) lookup(proxyID string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[proxyID]
	return s, ok
}

// remove takes the session out of the registry, reporting whether it
// was present. Removing an already-removed id is a no-op, which is
// what makes duplicate session/end harmless.
func (r *registry) remove(proxyID string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[proxyID]
	if ok {
		delete(r.sessions, proxyID)
	}
	return s, ok
}

// drainAll empties the registry and returns every session that was
// live, for shutdown.
func (r *registry) drainAll() []*session {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := make([]*session, 0, len(r.sessions))
	for id, s := range r.sessions {
		delete(r.sessions, id)
		drained = append(drained, s)
	}
	return drained
}
