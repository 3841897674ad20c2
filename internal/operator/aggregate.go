package operator

import (
	"github.com/shopspring/decimal"

	"github.com/relaydb/relaydb/internal/multiset"
	"github.com/relaydb/relaydb/internal/queryir"
	"github.com/relaydb/relaydb/internal/rowkey"
)

// AggSpec is one output column of an aggregate operator: a named
// count/sum/min/max/avg/first/last applied to a value extracted from each
// group member's row (spec §4.B "aggregate").
type AggSpec struct {
	Name    string
	Kind    string // count, sum, min, max, avg, first, last
	ValueFn func(row any) any
}

type groupMember struct {
	row any
	seq int
}

type aggGroup struct {
	members    map[rowkey.Key]groupMember
	seqCounter int
	hasOutput  bool
	lastOutput any
}

// Aggregate groups its input by GroupKeyFn and maintains each AggSpec
// incrementally as a running recomputation over the group's current
// member bag — member bags are small relative to the whole collection
// (bounded by group cardinality, not overall row count), so recomputing an
// aggregate from the bag on every touching delta is simple and correct
// without the bookkeeping a fully streaming running-sum would need for
// min/max retraction.
type Aggregate struct {
	In            *Buffer
	Out           *Buffer
	GroupKeyFn    func(row any) rowkey.Key
	GroupByFields func(repRow any) map[string]any
	Specs         []AggSpec

	groups map[rowkey.Key]*aggGroup
}

// NewAggregate wires an Aggregate reading from in.
func NewAggregate(in *Buffer, groupKeyFn func(any) rowkey.Key, groupByFields func(any) map[string]any, specs []AggSpec) *Aggregate {
	return &Aggregate{
		In: in, Out: NewBuffer(), GroupKeyFn: groupKeyFn, GroupByFields: groupByFields, Specs: specs,
		groups: map[rowkey.Key]*aggGroup{},
	}
}

func (a *Aggregate) PendingWork() bool { return a.In.PendingWork() }

func (a *Aggregate) Propagate() {
	touched := map[rowkey.Key]bool{}
	for _, c := range a.In.Drain() {
		switch c.Kind {
		case multiset.Enter:
			touched[a.addMember(c.Key, c.Value)] = true
		case multiset.Exit:
			gk := a.GroupKeyFn(c.Value)
			a.removeMember(gk, c.Key)
			touched[gk] = true
		case multiset.Update:
			oldGk := a.GroupKeyFn(c.PreviousValue)
			a.removeMember(oldGk, c.Key)
			touched[oldGk] = true
			touched[a.addMember(c.Key, c.Value)] = true
		}
	}
	for gk := range touched {
		a.flushGroup(gk)
	}
}

func (a *Aggregate) addMember(memberKey rowkey.Key, row any) rowkey.Key {
	gk := a.GroupKeyFn(row)
	g := a.groups[gk]
	if g == nil {
		g = &aggGroup{members: map[rowkey.Key]groupMember{}}
		a.groups[gk] = g
	}
	g.seqCounter++
	g.members[memberKey] = groupMember{row: row, seq: g.seqCounter}
	return gk
}

func (a *Aggregate) removeMember(gk, memberKey rowkey.Key) {
	g := a.groups[gk]
	if g == nil {
		return
	}
	delete(g.members, memberKey)
}

func (a *Aggregate) flushGroup(gk rowkey.Key) {
	g := a.groups[gk]
	if g == nil || len(g.members) == 0 {
		if g != nil && g.hasOutput {
			a.Out.Accumulate(gk, g.lastOutput, -1)
		}
		delete(a.groups, gk)
		return
	}
	out := a.computeRow(g)
	switch {
	case !g.hasOutput:
		a.Out.Accumulate(gk, out, 1)
	case !multiset.SameRow(g.lastOutput, out):
		a.Out.Accumulate(gk, g.lastOutput, -1)
		a.Out.Accumulate(gk, out, 1)
	}
	g.hasOutput = true
	g.lastOutput = out
}

func (a *Aggregate) computeRow(g *aggGroup) map[string]any {
	row := map[string]any{}
	if a.GroupByFields != nil {
		for _, m := range g.members {
			for k, v := range a.GroupByFields(m.row) {
				row[k] = v
			}
			break
		}
	}
	for _, spec := range a.Specs {
		row[spec.Name] = computeAgg(spec, g)
	}
	return row
}

func computeAgg(spec AggSpec, g *aggGroup) any {
	switch spec.Kind {
	case "count":
		return len(g.members)
	case "sum", "avg":
		sum := decimal.Zero
		n := 0
		for _, m := range g.members {
			v := valueOf(spec, m.row)
			if f, ok := queryir.NumericValue(v); ok {
				sum = sum.Add(decimal.NewFromFloat(f))
				n++
			}
		}
		if spec.Kind == "avg" {
			if n == 0 {
				return nil
			}
			avg, _ := sum.Div(decimal.NewFromInt(int64(n))).Float64()
			return avg
		}
		f, _ := sum.Float64()
		return f
	case "min", "max":
		var best float64
		found := false
		for _, m := range g.members {
			f, ok := queryir.NumericValue(valueOf(spec, m.row))
			if !ok {
				continue
			}
			if !found || (spec.Kind == "min" && f < best) || (spec.Kind == "max" && f > best) {
				best, found = f, true
			}
		}
		if !found {
			return nil
		}
		return best
	case "first", "last":
		var target groupMember
		found := false
		for _, m := range g.members {
			if !found || (spec.Kind == "first" && m.seq < target.seq) || (spec.Kind == "last" && m.seq > target.seq) {
				target, found = m, true
			}
		}
		if !found {
			return nil
		}
		return valueOf(spec, target.row)
	default:
		return nil
	}
}

func valueOf(spec AggSpec, row any) any {
	if spec.ValueFn == nil {
		return row
	}
	return spec.ValueFn(row)
}
