package grid

// StorageIDs hands out arena slot ids. Released ids are reissued in last in,
// first out order so that a freshly released slot is the next one reused.
type StorageIDs struct {
	nextID      int
	reusableIDs []int
}

// New returns a storage id, preferring reusable ones.
func (g *StorageIDs) New() (id int, reused bool) {
	if n := len(g.reusableIDs); n != 0 {
		id = g.reusableIDs[n-1]
		g.reusableIDs = g.reusableIDs[:n-1]
		return id, true
	}

	id = g.nextID
	g.nextID++
	return id, false
}

// Reuse marks the given id as reusable.
func (g *StorageIDs) Reuse(id int) {
	g.reusableIDs = append(g.reusableIDs, id)
}

// Reusable returns the number of ids waiting to be reissued.
func (g *StorageIDs) Reusable() int {
	return len(g.reusableIDs)
}
