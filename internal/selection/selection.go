package selection

import (
	"fmt"
	"strings"

	"github.com/BadgerOps/proxysync/internal/target"
)

// Set records which targets take part in a fan-out. It always holds an
// entry for every kind in target.AllKinds.
type Set struct {
	enabled map[target.Kind]bool
}

// New returns a Set with every target enabled.
func New() *Set {
	s := &Set{enabled: make(map[target.Kind]bool, len(target.AllKinds))}
	for _, k := range target.AllKinds {
		s.enabled[k] = true
	}
	return s
}

// Only returns a Set with just the given targets enabled.
func Only(kinds ...target.Kind) *Set {
	s := New()
	for _, k := range target.AllKinds {
		s.enabled[k] = false
	}
	for _, k := range kinds {
		s.enabled[k] = true
	}
	return s
}

// Toggle flips kind and returns its new state.
func (s *Set) Toggle(kind target.Kind) bool {
	s.enabled[kind] = !s.enabled[kind]
	return s.enabled[kind]
}

// Set forces kind on or off.
func (s *Set) Set(kind target.Kind, on bool) {
	s.enabled[kind] = on
}

// Enabled reports whether kind takes part in fan-out.
func (s *Set) Enabled(kind target.Kind) bool {
	return s.enabled[kind]
}

// EnabledKinds returns the enabled targets in display order.
func (s *Set) EnabledKinds() []target.Kind {
	var kinds []target.Kind
	for _, k := range target.AllKinds {
		if s.enabled[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// String renders the checklist shown by the interactive menu.
func (s *Set) String() string {
	var b strings.Builder
	for i, k := range target.AllKinds {
		mark := "[ ]"
		if s.enabled[k] {
			mark = "[x]"
		}
		fmt.Fprintf(&b, "%d. %s %s Proxy\n", i+1, mark, k.Label())
	}
	return b.String()
}
