package follower

// FloodCache remembers which destinations a sequence number was already
// relayed to, so a frame is flooded at most once per (sequence, destination).
// It only grows for the duration of a run.
type FloodCache struct {
	sent map[int]map[string]struct{}
	done bool
}

func NewFloodCache() *FloodCache {
	return &FloodCache{
		sent: make(map[int]map[string]struct{}),
	}
}

func (c *FloodCache) Seen(seq int, dest string) bool {
	_, ok := c.sent[seq][dest]
	return ok
}

func (c *FloodCache) Record(seq int, dest string) {
	dests, ok := c.sent[seq]
	if !ok {
		dests = make(map[string]struct{})
		c.sent[seq] = dests
	}
	dests[dest] = struct{}{}
}

// Size is the number of destinations seq was relayed to.
func (c *FloodCache) Size(seq int) int {
	return len(c.sent[seq])
}

// Len is the number of distinct sequence numbers relayed.
func (c *FloodCache) Len() int {
	return len(c.sent)
}

func (c *FloodCache) MarkDone() {
	c.done = true
}

func (c *FloodCache) Done() bool {
	return c.done
}
