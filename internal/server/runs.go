package server

import (
	"sync"

	"github.com/fyrsmithlabs/traind/internal/pipeline"
)

// runIndex is the in-memory record of submitted runs. It stores snapshots,
// never live run pointers: the executing goroutine owns its record until
// completion and publishes a final copy here.
type runIndex struct {
	mu    sync.RWMutex
	runs  map[string]pipeline.Run
	order []string
}

func newRunIndex() *runIndex {
	return &runIndex{runs: make(map[string]pipeline.Run)}
}

func (idx *runIndex) put(run pipeline.Run) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, seen := idx.runs[run.ID]; !seen {
		idx.order = append(idx.order, run.ID)
	}
	idx.runs[run.ID] = run
}

func (idx *runIndex) get(id string) (pipeline.Run, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	run, ok := idx.runs[id]
	return run, ok
}

// list returns runs in submission order.
func (idx *runIndex) list() []pipeline.Run {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]pipeline.Run, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.runs[id])
	}
	return out
}
