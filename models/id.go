package models

import "sync"

// A sequential id generator.
type SequentialIDGenerator struct {
	mutex       sync.Mutex
	currentID   uint32
	reusableIDs map[uint32]struct{}
}

// New returns a sequental id. The lowest reusable id is returned first.
func (g *SequentialIDGenerator) New() uint32 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if len(g.reusableIDs) != 0 {
		var lowest uint32
		for id := range g.reusableIDs {
			if lowest == 0 || id < lowest {
				lowest = id
			}
		}

		delete(g.reusableIDs, lowest)
		return lowest
	}

	g.currentID++
	return g.currentID
}

// Reuse marks the given id as reusable. Reusable ids are returned in priority
// when using New.
func (g *SequentialIDGenerator) Reuse(id uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if id == 0 || id > g.currentID {
		return
	}

	if g.reusableIDs == nil {
		g.reusableIDs = make(map[uint32]struct{})
	}

	g.reusableIDs[id] = struct{}{}
}
