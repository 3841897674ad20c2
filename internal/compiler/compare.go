package compiler

import (
	"github.com/relaydb/relaydb/internal/collate"
	"github.com/relaydb/relaydb/internal/operator"
	"github.com/relaydb/relaydb/internal/queryir"
)

// buildCompareFn lowers an orderBy clause into the multi-term CompareFn the
// orderBy operators need: later terms only break ties left by earlier ones,
// and nulls sort first or last per term independent of direction (spec
// §4.B "orderBy").
func buildCompareFn(terms []queryir.OrderTerm) operator.CompareFn {
	return func(a, b any) int {
		for _, t := range terms {
			av := queryir.Eval(t.Expr, a)
			bv := queryir.Eval(t.Expr, b)
			c := compareTerm(av, bv, t)
			if c != 0 {
				if t.Direction == queryir.Desc {
					c = -c
				}
				return c
			}
		}
		return 0
	}
}

func compareTerm(av, bv any, t queryir.OrderTerm) int {
	aNil, bNil := av == nil, bv == nil
	if aNil && bNil {
		return 0
	}
	if aNil || bNil {
		// Nulls compare independent of direction's later sign flip, so
		// pre-flip here when nulls should sort first under descending.
		nullsFirst := t.Nulls == queryir.NullsFirst
		if t.Direction == queryir.Desc {
			nullsFirst = !nullsFirst
		}
		switch {
		case aNil && !bNil:
			if nullsFirst {
				return -1
			}
			return 1
		default: // bNil && !aNil
			if nullsFirst {
				return 1
			}
			return -1
		}
	}
	if as, ok := av.(string); ok {
		if bs, ok := bv.(string); ok {
			return collate.Compare(as, bs, t.StringSort, t.Collate)
		}
	}
	if fa, ok := queryir.NumericValue(av); ok {
		if fb, ok := queryir.NumericValue(bv); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	return 0
}
