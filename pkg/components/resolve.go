package components

import (
	"fmt"
	"sort"
	"strings"

	"github.com/masterbooter/masterbooter/pkg/schema"
)

// Request is what the caller wants installed. Overrides are explicit user choices:
// true forces a component in, false forces it out together with everything that needs it.
// Disabled is the implicit form, a disabled component that something else needs is an error.
type Request struct {
	Requested []string
	Disabled  []string
	Overrides map[string]bool
}

// Resolution lists the components to install, dependencies first.
type Resolution struct {
	Order           []Component
	AutoIncluded    []string
	CascadeDisabled []string
}

// IDs returns the ids of Order.
func (r Resolution) IDs() []string {
	ids := make([]string, 0, len(r.Order))
	for _, c := range r.Order {
		ids = append(ids, c.ID)
	}
	return ids
}

// Resolve orders the requested components so every dependency precedes its dependents.
// Ties are broken by catalog position, so identical input always yields the same order.
func Resolve(cat *Catalog, req Request) (Resolution, error) {
	if err := checkKnown(cat, req); err != nil {
		return Resolution{}, err
	}

	forcedOff := map[string]bool{}
	forcedOn := map[string]bool{}
	for id, on := range req.Overrides {
		if on {
			forcedOn[id] = true
		} else {
			forcedOff[id] = true
		}
	}
	disabled := map[string]bool{}
	for _, id := range req.Disabled {
		if !forcedOn[id] {
			disabled[id] = true
		}
	}

	roots := map[string]bool{}
	for _, id := range req.Requested {
		roots[id] = true
	}
	for id := range forcedOn {
		roots[id] = true
	}

	var res Resolution
	for _, id := range cat.sorted(roots) {
		switch {
		case forcedOff[id]:
			delete(roots, id)
		case disabled[id]:
			delete(roots, id)
		case cat.needsAny(id, forcedOff, map[string]bool{}):
			delete(roots, id)
			res.CascadeDisabled = append(res.CascadeDisabled, id)
		}
	}

	selected := map[string]bool{}
	for _, id := range cat.sorted(roots) {
		if err := cat.include(id, disabled, selected); err != nil {
			return Resolution{}, err
		}
	}
	for _, id := range cat.sorted(selected) {
		if !roots[id] {
			res.AutoIncluded = append(res.AutoIncluded, id)
		}
	}

	order, err := cat.topo(selected)
	if err != nil {
		return Resolution{}, err
	}
	res.Order = order
	return res, nil
}

func checkKnown(cat *Catalog, req Request) error {
	seen := map[string]bool{}
	var unknown []string
	check := func(id string) {
		if !cat.Has(id) && !seen[id] {
			seen[id] = true
			unknown = append(unknown, id)
		}
	}
	for _, id := range req.Requested {
		check(id)
	}
	for _, id := range req.Disabled {
		check(id)
	}
	var overrides []string
	for id := range req.Overrides {
		overrides = append(overrides, id)
	}
	sort.Strings(overrides)
	for _, id := range overrides {
		check(id)
	}
	if len(unknown) > 0 {
		return schema.NewConfigError("resolve", fmt.Errorf("%w: %s", schema.ErrUnknownComponent, strings.Join(unknown, ", ")))
	}
	return nil
}

// sorted returns the ids of set in catalog order.
func (c *Catalog) sorted(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return c.position(ids[i]) < c.position(ids[j]) })
	return ids
}

// needsAny reports whether id transitively depends on a member of off.
func (c *Catalog) needsAny(id string, off, visited map[string]bool) bool {
	if visited[id] {
		return false
	}
	visited[id] = true
	item, _ := c.Get(id)
	for _, dep := range item.Deps {
		if off[dep] || c.needsAny(dep, off, visited) {
			return true
		}
	}
	return false
}

func (c *Catalog) include(id string, disabled, selected map[string]bool) error {
	if selected[id] {
		return nil
	}
	selected[id] = true
	item, _ := c.Get(id)
	for _, dep := range item.Deps {
		if disabled[dep] {
			return schema.NewConfigError("resolve", fmt.Errorf("%w: %s requires %s, which is disabled", schema.ErrUnsatisfiedDependency, id, dep))
		}
		if err := c.include(dep, disabled, selected); err != nil {
			return err
		}
	}
	return nil
}

// topo is Kahn's algorithm picking the earliest declared ready component each round.
func (c *Catalog) topo(selected map[string]bool) ([]Component, error) {
	indegree := map[string]int{}
	dependents := map[string][]string{}
	for id := range selected {
		item, _ := c.Get(id)
		for _, dep := range item.Deps {
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var order []Component
	done := map[string]bool{}
	for len(order) < len(selected) {
		next := ""
		for _, id := range c.sorted(selected) {
			if !done[id] && indegree[id] == 0 {
				next = id
				break
			}
		}
		if next == "" {
			return nil, c.cycleError(selected, done)
		}
		done[next] = true
		item, _ := c.Get(next)
		order = append(order, item)
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return order, nil
}

// cycleError walks dependencies among the unprocessed components until one repeats.
// Every unprocessed component still waits on another unprocessed one, so the walk always closes.
func (c *Catalog) cycleError(selected, done map[string]bool) error {
	remaining := map[string]bool{}
	for id := range selected {
		if !done[id] {
			remaining[id] = true
		}
	}
	start := c.sorted(remaining)[0]
	var path []string
	seenAt := map[string]int{}
	current := start
	for {
		if i, ok := seenAt[current]; ok {
			cycle := append(path[i:], current)
			return schema.NewConfigError("resolve", fmt.Errorf("%w: %s", schema.ErrDependencyCycle, strings.Join(cycle, " -> ")))
		}
		seenAt[current] = len(path)
		path = append(path, current)
		item, _ := c.Get(current)
		for _, dep := range item.Deps {
			if remaining[dep] {
				current = dep
				break
			}
		}
	}
}
