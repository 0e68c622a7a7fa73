package memory

import (
	"sort"
	"sync"
)

// RelatedEntity is an entity and how often it co-occurred with another.
type RelatedEntity struct {
	Entity string `json:"entity"`
	Count  int    `json:"count"`
}

// EntityGraph is an undirected weighted co-occurrence graph of entities.
// It is a derived cache: it can be rebuilt at any time from the "entities"
// metadata of stored memories and is never the source of truth.
type EntityGraph struct {
	mu    sync.RWMutex
	edges map[string]map[string]int
}

// NewEntityGraph creates an empty graph.
func NewEntityGraph() *EntityGraph {
	return &EntityGraph{edges: make(map[string]map[string]int)}
}

// AddCooccurrence increments the edge weight of every unordered pair of
// distinct entities in the list.
func (g *EntityGraph) AddCooccurrence(entities []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	addPairs(g.edges, entities)
}

func addPairs(edges map[string]map[string]int, entities []string) {
	uniq := make([]string, 0, len(entities))
	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		if e != "" && !seen[e] {
			seen[e] = true
			uniq = append(uniq, e)
		}
	}
	for i := 0; i < len(uniq); i++ {
		for j := i + 1; j < len(uniq); j++ {
			a, b := uniq[i], uniq[j]
			if edges[a] == nil {
				edges[a] = make(map[string]int)
			}
			if edges[b] == nil {
				edges[b] = make(map[string]int)
			}
			edges[a][b]++
			edges[b][a]++
		}
	}
}

// Rebuild replaces the whole graph with one built from the given entity lists.
func (g *EntityGraph) Rebuild(lists [][]string) {
	edges := make(map[string]map[string]int)
	for _, l := range lists {
		addPairs(edges, l)
	}
	g.mu.Lock()
	g.edges = edges
	g.mu.Unlock()
}

// Weight returns the co-occurrence count of a and b.
func (g *EntityGraph) Weight(a, b string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[a][b]
}

// Related returns up to max entities that co-occur with entity, sorted by
// descending count and then by name.
func (g *EntityGraph) Related(entity string, max int) []RelatedEntity {
	g.mu.RLock()
	neighbors := g.edges[entity]
	out := make([]RelatedEntity, 0, len(neighbors))
	for e, n := range neighbors {
		out = append(out, RelatedEntity{Entity: e, Count: n})
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Entity < out[j].Entity
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// Len returns the number of entities with at least one edge.
func (g *EntityGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}
