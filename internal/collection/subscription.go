package collection

import (
	"github.com/relaydb/relaydb/internal/queryir"
	"github.com/relaydb/relaydb/internal/rowkey"
)

// Subscription is one registered changes listener (spec §4.I): it filters
// the collection's broadcast stream down to rows matching its where
// expression, suppresses a duplicate Insert for a key it has already sent
// (an adapter replaying its initial load after a late subscribe, or a
// loadSubset overlapping previously-sent rows), and optionally primes the
// callback with the collection's current matching rows before delivering
// any live change.
type Subscription struct {
	id       int
	c        *Collection
	where    queryir.Expr
	cb       SubscriptionCallback
	sentKeys map[rowkey.Key]bool
	active   bool
}

func newSubscription(id int, c *Collection, opts SubscribeOptions, cb SubscriptionCallback) *Subscription {
	return &Subscription{
		id:       id,
		c:        c,
		where:    opts.Where,
		cb:       cb,
		sentKeys: map[rowkey.Key]bool{},
		active:   true,
	}
}

// Unsubscribe removes this subscription from its collection's registry; no
// further batches are delivered after it returns.
func (s *Subscription) Unsubscribe() {
	if !s.active {
		return
	}
	s.active = false
	s.c.removeSubscription(s)
}

// matches reports whether row satisfies this subscription's where clause.
// A nil where clause matches every row.
func (s *Subscription) matches(row Row) bool {
	if s.where == nil {
		return true
	}
	return queryir.Truthy(queryir.Eval(s.where, row))
}

// deliver filters msgs down to ones this subscription cares about,
// suppressing a redundant Insert for a key already sent, and invokes the
// callback once with the filtered batch (skipped entirely if empty).
func (s *Subscription) deliver(msgs []ChangeMessage) {
	if !s.active {
		return
	}
	out := make([]ChangeMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Type {
		case Insert:
			if !s.matches(m.Value) {
				continue
			}
			if s.sentKeys[m.Key] {
				continue
			}
			s.sentKeys[m.Key] = true
		case Update:
			wasSent := s.sentKeys[m.Key]
			nowMatches := s.matches(m.Value)
			switch {
			case wasSent && nowMatches:
				// falls through unchanged
			case wasSent && !nowMatches:
				s.sentKeys[m.Key] = false
				out = append(out, ChangeMessage{Type: Delete, Key: m.Key, PreviousValue: m.PreviousValue, Metadata: m.Metadata})
				continue
			case !wasSent && nowMatches:
				s.sentKeys[m.Key] = true
				out = append(out, ChangeMessage{Type: Insert, Key: m.Key, Value: m.Value, Metadata: m.Metadata})
				continue
			default:
				continue
			}
		case Delete:
			if !s.sentKeys[m.Key] {
				continue
			}
			delete(s.sentKeys, m.Key)
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return
	}
	s.cb(out)
}

// primeInitialState delivers one synthetic Insert batch for every row
// already in the collection that matches this subscription's where clause
// (spec §4.H.1 includeInitialState).
func (s *Subscription) primeInitialState() {
	rows := s.c.matchingRows(s.where)
	if len(rows) == 0 {
		return
	}
	batch := make([]ChangeMessage, 0, len(rows))
	for key, row := range rows {
		s.sentKeys[key] = true
		batch = append(batch, ChangeMessage{Type: Insert, Key: key, Value: row})
	}
	s.cb(batch)
}
