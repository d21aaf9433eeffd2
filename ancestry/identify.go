package ancestry

import (
	"fmt"

	"github.com/dhcgn/patchtrack/model"
)

// graphIndex maps each commit to the first entry in listing order that
// merges it in as a second or later parent, and to the first single-parent
// entry that carries it forward. The first parent of a merge is the line the
// merge happened on, so it is neither absorbed nor carried forward.
type graphIndex struct {
	merge     map[string]string
	successor map[string]string
}

func buildIndex(entries []Entry) graphIndex {
	idx := graphIndex{
		merge:     make(map[string]string),
		successor: make(map[string]string),
	}
	for _, e := range entries {
		switch {
		case e.IsMerge():
			for _, parent := range e.Parents[1:] {
				if _, ok := idx.merge[parent]; !ok {
					idx.merge[parent] = e.Commit
				}
			}
		case len(e.Parents) == 1:
			if _, ok := idx.successor[e.Parents[0]]; !ok {
				idx.successor[e.Parents[0]] = e.Commit
			}
		}
	}
	return idx
}

// Identify finds how target was integrated, given the ancestry-path listing
// of target..branch in rev-list order.
//
// Starting at target it follows single-parent successors until a merge
// absorbs the current commit, then keeps following absorbing merges
// upwards; the last merge found is the integration point. A non-empty
// listing without any absorbing merge on that chain means the commit was
// integrated directly.
func Identify(entries []Entry, target string) (model.Integration, error) {
	result := model.Integration{Target: target, State: model.NotIntegrated}
	if len(entries) == 0 {
		return result, nil
	}

	idx := buildIndex(entries)
	visited := map[string]bool{target: true}

	commit := target
	var merge string
	for {
		if m, ok := idx.merge[commit]; ok {
			merge = m
			break
		}
		next, ok := idx.successor[commit]
		if !ok {
			result.State = model.IntegratedDirectly
			result.Commit = target
			return result, nil
		}
		if visited[next] {
			return result, fmt.Errorf("%w: cycle through %s", ErrMalformedListing, next)
		}
		visited[next] = true
		commit = next
	}

	for {
		if visited[merge] {
			return result, fmt.Errorf("%w: cycle through %s", ErrMalformedListing, merge)
		}
		visited[merge] = true

		outer, ok := idx.merge[merge]
		if !ok {
			break
		}
		merge = outer
	}

	result.State = model.IntegratedViaMerge
	result.Commit = merge
	return result, nil
}
