package dag

import "sync"

// Graph holds build units and the "waits on" edges between them. It is
// safe for concurrent use.
type Graph struct {
	mutex sync.RWMutex
	nodes map[string]*node
	// order is insertion order; every traversal follows it.
	order []string
}

// node is one unit. Callers address units by name only.
type node struct {
	id string
	// deps are the units this one waits on.
	deps map[string]*node
	// dependents are the units waiting on this one.
	dependents map[string]*node
}
