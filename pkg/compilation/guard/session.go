package guard

import (
	"sync"

	"github.com/google/uuid"
	"github.com/platinummonkey/webcompile/pkg/compilation"
)

// Session carries the state of one logical build call chain: the units
// currently being built, the directories already batched and the lock
// depth. A session must not be shared between goroutines that build
// concurrently; worker goroutines never receive one.
type Session struct {
	ID string

	mu          sync.Mutex
	inFlight    map[string]struct{}
	directories map[string]struct{}
	depth       int
	precompile  bool
}

// NewSession creates a session
func NewSession() *Session {
	return &Session{
		ID:          uuid.New().String(),
		inFlight:    make(map[string]struct{}),
		directories: make(map[string]struct{}),
	}
}

// NewPrecompileSession creates a session for a precompilation run
func NewPrecompileSession() *Session {
	s := NewSession()
	s.precompile = true
	return s
}

// Precompiling reports whether the session belongs to a precompilation run
func (s *Session) Precompiling() bool {
	return s.precompile
}

// Enter marks vpath as being built. Entering a path already in flight means
// the unit depends on itself.
func (s *Session) Enter(vpath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inFlight[vpath]; ok {
		return &compilation.CircularReferenceError{VirtualPath: vpath}
	}
	s.inFlight[vpath] = struct{}{}
	return nil
}

// Leave marks vpath as no longer being built
func (s *Session) Leave(vpath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, vpath)
}

// InFlight reports whether vpath is being built
func (s *Session) InFlight(vpath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[vpath]
	return ok
}

// MarkDirectory records that dir was batched and reports whether this is
// the first time
func (s *Session) MarkDirectory(dir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.directories[dir]; ok {
		return false
	}
	s.directories[dir] = struct{}{}
	return true
}

// Depth returns how many times the session holds the lock
func (s *Session) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}
