package collection

// SyncBatch is one write batch from a source adapter (spec §6.1
// begin/write/commit). Writes land directly in the collection's base
// layer, shadowing (and on Commit, reconciling) any optimistic overlay
// entry for the same key left by a local mutation still awaiting its
// adapter echo.
type SyncBatch struct {
	c       *Collection
	pending []ChangeMessage
}

func (c *Collection) beginSyncBatch() *SyncBatch {
	return &SyncBatch{c: c}
}

// Write stages one change into the batch. It is not visible to readers or
// subscribers until Commit.
func (b *SyncBatch) Write(msg ChangeMessage) {
	b.pending = append(b.pending, msg)
}

// Commit applies every staged write to the base layer and broadcasts the
// batch to subscriptions in one pass. A write for a key that also has a
// pending optimistic overlay entry reconciles the overlay away: the
// adapter's echo is now authoritative.
func (b *SyncBatch) Commit() {
	c := b.c
	for _, msg := range b.pending {
		switch msg.Type {
		case Insert, Update:
			c.base[msg.Key] = msg.Value
			c.updateIndexes(msg.Key, msg.Value)
		case Delete:
			delete(c.base, msg.Key)
			c.removeFromIndexes(msg.Key)
		}
		if _, hadOverlay := c.overlay[msg.Key]; hadOverlay || c.deleted[msg.Key] {
			delete(c.overlay, msg.Key)
			delete(c.deleted, msg.Key)
		}
	}
	if len(b.pending) > 0 {
		c.broadcast(b.pending)
	}
	b.pending = nil
}

func (c *Collection) markReady() {
	c.status = StatusReady
}
