package engine

// CursorTracker detects repeated continuation tokens during one form fetch.
//
// Upstream cursors can briefly repeat: a page answers with a token that was
// already consumed. Following it is harmless as long as the page it returns
// is not appended twice. The tracker remembers every consumed cursor and
// counts consecutive pages that made no progress, so a fetch that keeps
// circling is stopped instead of looping forever.
//
// CRITICAL DISTINCTION from the page quota:
//   - Page quota: bounds the total pages of a healthy fetch (truncates)
//   - Cursor tracking: catches an upstream that stopped advancing (fails)
type CursorTracker struct {
	seen     map[string]bool
	stalled  int
	maxStall int
	repeats  int
}

// NewCursorTracker creates a tracker that tolerates maxStall consecutive
// non-progressing pages.
func NewCursorTracker(maxStall int) *CursorTracker {
	return &CursorTracker{seen: make(map[string]bool), maxStall: maxStall}
}

// Visit records that the page for cursor was received. It reports whether
// the page is new and should be appended.
func (c *CursorTracker) Visit(cursor string) bool {
	if c.seen[cursor] {
		c.stalled++
		c.repeats++
		return false
	}
	c.seen[cursor] = true
	c.stalled = 0
	return true
}

// Stalled reports whether more than maxStall consecutive pages repeated.
func (c *CursorTracker) Stalled() bool {
	return c.stalled > c.maxStall
}

// Repeats returns the total number of repeated pages seen.
func (c *CursorTracker) Repeats() int {
	return c.repeats
}
