package traversal

import (
	"github.com/emirpasic/gods/sets/treeset"

	"github.com/dsrkit/dsrkit/pkg/graph"
)

// Diff summarizes how a rerun's plan differs from a cached one. All lists are sorted.
type Diff struct {
	PreviousCollectionCount int      `json:"previous_collection_count"`
	CurrentCollectionCount  int      `json:"current_collection_count"`
	AddedCollections        []string `json:"added_collections"`
	RemovedCollections      []string `json:"removed_collections"`
	AddedEdges              []string `json:"added_edges"`
	RemovedEdges            []string `json:"removed_edges"`

	// AlreadyProcessed are completed collections whose results can be reused.
	AlreadyProcessed []string `json:"already_processed"`
	// RequiresRerun are completed collections whose inputs changed.
	RequiresRerun []string `json:"requires_rerun"`
	// SkippedAddedEdges feed an already processed collection from a newly added
	// collection. They are not walked on this run.
	SkippedAddedEdges []string `json:"skipped_added_edges"`
}

func stringValues(s *treeset.Set) []string {
	out := make([]string, 0, s.Size())
	for _, v := range s.Values() {
		out = append(out, v.(string))
	}
	return out
}

func edgeSet(r Representation) *treeset.Set {
	s := treeset.NewWithStringComparator()
	for _, edges := range r {
		for _, e := range edges {
			s.Add(e)
		}
	}
	return s
}

func collectionSet(r Representation) *treeset.Set {
	s := treeset.NewWithStringComparator()
	for addr := range r {
		s.Add(addr)
	}
	return s
}

// minus returns the members of a that are not in b.
func minus(a, b *treeset.Set) *treeset.Set {
	out := treeset.NewWithStringComparator()
	for _, v := range a.Values() {
		if !b.Contains(v) {
			out.Add(v)
		}
	}
	return out
}

// Compare diffs a cached plan against the current one. completed lists the
// collections that finished on the previous run. A completed collection stays
// reusable unless an inbound edge was removed, or added from a collection that
// already existed. Edges added from brand new collections into completed ones are
// skipped instead. Collections downstream of one that must rerun, through edges
// that are not skipped, must rerun too.
func Compare(prev, curr Representation, completed []graph.CollectionAddress) Diff {
	prevCollections, currCollections := collectionSet(prev), collectionSet(curr)
	prevEdges, currEdges := edgeSet(prev), edgeSet(curr)

	addedCollections := minus(currCollections, prevCollections)
	addedEdges := minus(currEdges, prevEdges)
	removedEdges := minus(prevEdges, currEdges)

	done := treeset.NewWithStringComparator()
	for _, addr := range completed {
		if currCollections.Contains(addr.String()) {
			done.Add(addr.String())
		}
	}

	affected := treeset.NewWithStringComparator()
	skipped := treeset.NewWithStringComparator()

	for _, raw := range addedEdges.Values() {
		e, err := ParseEdge(raw.(string))
		if err != nil {
			continue
		}
		to := e.To.Collection.String()
		if !done.Contains(to) {
			continue
		}
		if addedCollections.Contains(e.From.Collection.String()) {
			skipped.Add(raw)
		} else {
			affected.Add(to)
		}
	}
	for _, raw := range removedEdges.Values() {
		e, err := ParseEdge(raw.(string))
		if err != nil {
			continue
		}
		if to := e.To.Collection.String(); done.Contains(to) {
			affected.Add(to)
		}
	}

	downstream := make(map[string][]string)
	for _, raw := range currEdges.Values() {
		if skipped.Contains(raw) {
			continue
		}
		e, err := ParseEdge(raw.(string))
		if err != nil {
			continue
		}
		from := e.From.Collection.String()
		downstream[from] = append(downstream[from], e.To.Collection.String())
	}

	frontier := stringValues(affected)
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, child := range downstream[next] {
			if done.Contains(child) && !affected.Contains(child) {
				affected.Add(child)
				frontier = append(frontier, child)
			}
		}
	}

	return Diff{
		PreviousCollectionCount: prevCollections.Size(),
		CurrentCollectionCount:  currCollections.Size(),
		AddedCollections:        stringValues(addedCollections),
		RemovedCollections:      stringValues(minus(prevCollections, currCollections)),
		AddedEdges:              stringValues(addedEdges),
		RemovedEdges:            stringValues(removedEdges),
		AlreadyProcessed:        stringValues(minus(done, affected)),
		RequiresRerun:           stringValues(affected),
		SkippedAddedEdges:       stringValues(skipped),
	}
}
