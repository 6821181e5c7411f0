package algo

// closedList deduplicates constraint tree nodes by fingerprint. Nodes in the
// same bucket are compared in full, so a hash collision never merges two
// different nodes.
type closedList struct {
	buckets map[[32]byte][]*Node
	size    int
}

func newClosedList() *closedList {
	return &closedList{buckets: make(map[[32]byte][]*Node)}
}

// Get returns the stored node equal to n, if any.
func (c *closedList) Get(n *Node) *Node {
	for _, o := range c.buckets[n.Fingerprint()] {
		if o.Equal(n) {
			return o
		}
	}
	return nil
}

func (c *closedList) Add(n *Node) {
	fp := n.Fingerprint()
	c.buckets[fp] = append(c.buckets[fp], n)
	c.size++
}

func (c *closedList) Len() int { return c.size }
