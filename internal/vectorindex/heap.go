package vectorindex

type candidate struct {
	idx  int32
	dist float64
}

func closer(a, b candidate) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.idx < b.idx
}

// minQueue pops the closest candidate first.
type minQueue []candidate

func (q minQueue) Len() int           { return len(q) }
func (q minQueue) Less(i, j int) bool { return closer(q[i], q[j]) }
func (q minQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *minQueue) Push(x any)        { *q = append(*q, x.(candidate)) }
func (q *minQueue) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	*q = old[:n-1]
	return c
}

// maxQueue pops the farthest candidate first; q[0] is the current worst result.
type maxQueue []candidate

func (q maxQueue) Len() int           { return len(q) }
func (q maxQueue) Less(i, j int) bool { return closer(q[j], q[i]) }
func (q maxQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *maxQueue) Push(x any)        { *q = append(*q, x.(candidate)) }
func (q *maxQueue) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	*q = old[:n-1]
	return c
}

// bitset tracks visited nodes during one search.
type bitset []uint64

func newBitset(n int) bitset { return make(bitset, (n+63)/64) }

// testAndSet marks i and reports whether it was already marked.
func (b bitset) testAndSet(i int32) bool {
	w, m := i/64, uint64(1)<<(uint(i)%64)
	if b[w]&m != 0 {
		return true
	}
	b[w] |= m
	return false
}
