// Package collate implements the string-comparison half of
// compareOptions.stringSort: lexical (codepoint) ordering by default, or
// locale-aware Unicode collation when a query's orderBy term asks for it.
// It is the one place golang.org/x/text/collate and golang.org/x/text/cases
// are wired in, per spec §4.B ("String comparison follows
// compareOptions.stringSort").
package collate

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/relaydb/relaydb/internal/queryir"
)

// cache avoids rebuilding a collate.Collator (which parses locale data) on
// every comparison; collators are keyed by the option bag that configures
// them. mu guards only the cache map: a cached collator is shared, and
// Compare calls CompareString on it without holding mu.
var (
	mu    sync.Mutex
	cache = map[string]*collate.Collator{}
)

func collatorFor(opts queryir.CollateOptions) *collate.Collator {
	key := opts.Locale + "|" + boolKey(opts.Numeric)
	mu.Lock()
	defer mu.Unlock()
	if c, ok := cache[key]; ok {
		return c
	}
	tag := language.Und
	if opts.Locale != "" {
		if t, err := language.Parse(opts.Locale); err == nil {
			tag = t
		}
	}
	var collOpts []collate.Option
	if opts.Numeric {
		collOpts = append(collOpts, collate.Numeric)
	}
	c := collate.New(tag, collOpts...)
	cache[key] = c
	return c
}

func boolKey(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Compare orders a and b according to mode and opts. For StringSortLexical
// it compares raw codepoint sequences (strings.Compare semantics); for
// StringSortLocale it delegates to a cached x/text collator, folding case
// first when CaseInsensitive is set.
func Compare(a, b string, mode queryir.StringSortMode, opts queryir.CollateOptions) int {
	if mode != queryir.StringSortLocale {
		return strings.Compare(a, b)
	}
	if opts.CaseInsensitive {
		a = cases.Fold().String(a)
		b = cases.Fold().String(b)
	}
	return collatorFor(opts).CompareString(a, b)
}
