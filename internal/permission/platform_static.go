package permission

import "sync"

// StaticPlatform grants a fixed, mutable set of permissions.
// It backs configuration overrides and tests.
type StaticPlatform struct {
	version int

	mu       sync.Mutex
	granted  map[string]bool
	requests [][]string
}

// NewStaticPlatform creates a platform reporting version with the given permissions granted
func NewStaticPlatform(version int, granted ...string) *StaticPlatform {
	p := &StaticPlatform{
		version: version,
		granted: make(map[string]bool, len(granted)),
	}
	for _, perm := range granted {
		p.granted[perm] = true
	}
	return p
}

func (p *StaticPlatform) Version() int {
	return p.version
}

func (p *StaticPlatform) Granted(permission string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted[permission]
}

// Request records the prompt; grants only change through Grant and Revoke
func (p *StaticPlatform) Request(permissions []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, append([]string(nil), permissions...))
	return nil
}

func (p *StaticPlatform) Grant(permissions ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, perm := range permissions {
		p.granted[perm] = true
	}
}

func (p *StaticPlatform) Revoke(permissions ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, perm := range permissions {
		delete(p.granted, perm)
	}
}

// Requests returns every prompt recorded so far
func (p *StaticPlatform) Requests() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]string, len(p.requests))
	copy(out, p.requests)
	return out
}
