package graph

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrNotFound is returned when a node id is not present in the store.
var ErrNotFound = errors.New("node not found")

// Reader is the read-only view of the graph handed to transforms.
type Reader interface {
	GetNode(id string) (*Node, error)
	Lookup(typ, key string) (*Node, bool)
	QueryByType(typ string) []*Node
	QueryRelated(id, relation string) []string
}

type edgeKey struct {
	from, name string
}

// Store owns every node and relation of one build.
type Store struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	order     []string
	byType    map[string][]string
	relations map[edgeKey]map[string]struct{}
}

// NewStore creates an empty graph store.
func NewStore() *Store {
	return &Store{
		nodes:     make(map[string]*Node),
		byType:    make(map[string][]string),
		relations: make(map[edgeKey]map[string]struct{}),
	}
}

// AddNode inserts n and returns its id. When a node with the same id already
// exists the call is a no-op and added is false. The store keeps a private
// copy of n.
func (s *Store) AddNode(n *Node) (id string, added bool) {
	if n == nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[n.ID]; exists {
		return n.ID, false
	}
	c := n.Clone()
	s.nodes[c.ID] = c
	s.order = append(s.order, c.ID)
	s.byType[c.Type] = append(s.byType[c.Type], c.ID)
	return c.ID, true
}

// GetNode returns the node with id or ErrNotFound.
func (s *Store) GetNode(id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return n, nil
}

// Lookup finds the node of typ whose id derives from key.
func (s *Store) Lookup(typ, key string) (*Node, bool) {
	n, err := s.GetNode(NodeID(typ, key))
	if err != nil || n.Type != typ {
		return nil, false
	}
	return n, true
}

// LinkRelation records a named, directed edge. Both endpoints must exist.
// Linking the same edge twice has no effect.
func (s *Store) LinkRelation(name, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[from]; !ok {
		return fmt.Errorf("link %s: %w: %s", name, ErrNotFound, from)
	}
	if _, ok := s.nodes[to]; !ok {
		return fmt.Errorf("link %s: %w: %s", name, ErrNotFound, to)
	}
	k := edgeKey{from: from, name: name}
	targets, ok := s.relations[k]
	if !ok {
		targets = make(map[string]struct{})
		s.relations[k] = targets
	}
	targets[to] = struct{}{}
	return nil
}

// QueryByType returns the nodes of typ in insertion order.
func (s *Store) QueryByType(typ string) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byType[typ]
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.nodes[id])
	}
	return out
}

// QueryRelated returns the sorted ids reachable from id over relation.
func (s *Store) QueryRelated(id, relation string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targets := s.relations[edgeKey{from: id, name: relation}]
	out := make([]string, 0, len(targets))
	for t := range targets {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Nodes returns every node in insertion order.
func (s *Store) Nodes() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Node, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.nodes[id])
	}
	return out
}

// Len returns the number of nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Counts returns the number of nodes per type.
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.byType))
	for typ, ids := range s.byType {
		out[typ] = len(ids)
	}
	return out
}

// Types returns the sorted set of node types present.
func (s *Store) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byType))
	for typ := range s.byType {
		out = append(out, typ)
	}
	slices.Sort(out)
	return out
}
