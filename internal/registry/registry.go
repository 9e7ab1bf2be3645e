// Package registry resolves symbolic container references to container ids.
//
// A Registry is an immutable snapshot built once at the start of a run. It is
// never re-queried, so containers created mid-run stay invisible until the
// next run. Because it is never mutated after Build, it can be shared by any
// number of goroutines without locking.
package registry

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/fleetrecon/internal/fleet"
	"github.com/roach88/fleetrecon/internal/logging"
)

// Source lists every container known to the store.
type Source interface {
	ListContainers(ctx context.Context) ([]fleet.Container, error)
}

// Registry maps normalized container refs to container ids.
type Registry struct {
	byRef     map[string]fleet.ContainerID
	ambiguous []string
}

// Build scans src once and returns the snapshot. Only a failing source is an
// error; ambiguous refs are logged at WARN and left unresolvable.
func Build(ctx context.Context, src Source) (*Registry, error) {
	containers, err := src.ListContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	reg := New(containers)
	if len(reg.ambiguous) > 0 {
		logging.FromContext(ctx).Warn("ambiguous container refs excluded from registry",
			"refs", reg.ambiguous, "count", len(reg.ambiguous))
	}
	return reg, nil
}

// New builds a registry from an in-memory container list.
// Containers with a blank ref are not addressable and are left out. A key
// shared by two or more containers is dropped entirely, so installs naming it
// surface as unresolved destinations.
func New(containers []fleet.Container) *Registry {
	byRef := make(map[string]fleet.ContainerID, len(containers))
	seen := make(map[string]int, len(containers))
	var ambiguous []string
	for _, c := range containers {
		key := Normalize(c.Ref)
		if key == "" {
			continue
		}
		seen[key]++
		switch seen[key] {
		case 1:
			byRef[key] = c.ID
		case 2:
			delete(byRef, key)
			ambiguous = append(ambiguous, key)
		}
	}
	return &Registry{byRef: byRef, ambiguous: ambiguous}
}

// Resolve returns the container id for ref. Both sides are trimmed and put in
// Unicode NFC before the exact match, so composed and decomposed spellings of
// a ref resolve to the same container. Case is significant.
func (r *Registry) Resolve(ref string) (fleet.ContainerID, bool) {
	if r == nil {
		return 0, false
	}
	id, ok := r.byRef[Normalize(ref)]
	return id, ok
}

// Len returns the number of addressable containers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byRef)
}

// Ambiguous returns the normalized refs shared by more than one container,
// in the order they were found.
func (r *Registry) Ambiguous() []string {
	if r == nil {
		return nil
	}
	return r.ambiguous
}

// Normalize trims surrounding whitespace and applies Unicode NFC so that a
// ref typed on different keyboards compares equal. Case is preserved.
func Normalize(ref string) string {
	return norm.NFC.String(strings.TrimSpace(ref))
}
