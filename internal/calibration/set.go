package calibration

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrUnknownParameter is returned when a name is not registered.
var ErrUnknownParameter = errors.New("unknown calibration parameter")

// Set is the registry of every parameter on the board, in registration order.
type Set struct {
	mu     sync.RWMutex
	order  []*Parameter
	byName map[string]*Parameter
}

func NewSet() *Set {
	return &Set{byName: make(map[string]*Parameter)}
}

// Register creates a bounded parameter and adds it to the set.
// Registering the same name twice returns the existing parameter.
func (s *Set) Register(name string, def, min, max float64) *Parameter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byName[name]; ok {
		return p
	}
	p := New(name, def, min, max)
	s.order = append(s.order, p)
	s.byName[name] = p
	return p
}

// RegisterUnbounded is Register without limits.
func (s *Set) RegisterUnbounded(name string, def float64) *Parameter {
	return s.Register(name, def, 0, 0)
}

func (s *Set) Lookup(name string) (*Parameter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byName[name]
	return p, ok
}

// Update sets a parameter by name, returning the clamped value.
func (s *Set) Update(name string, v float64) (float64, error) {
	p, ok := s.Lookup(name)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownParameter, "%q", name)
	}
	return p.Set(v), nil
}

// All returns the parameters in registration order.
func (s *Set) All() []*Parameter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Parameter, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Set) Snapshots() []Snapshot {
	all := s.All()
	out := make([]Snapshot, 0, len(all))
	for _, p := range all {
		out = append(out, p.Snapshot())
	}
	return out
}
