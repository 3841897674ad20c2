package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/relaydb/relaydb/internal/querybuilder"
	"github.com/relaydb/relaydb/internal/queryir"
)

var describeCmd = &cobra.Command{
	Use:   "describe <query-file>",
	Short: "Parse a tiny JSON query description and print its IR fingerprint",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

func init() {
	rootCmd.AddCommand(describeCmd)
}

// queryDesc is the JSON shape `describe` accepts: just enough of the
// builder's clauses to exercise Fingerprint() end to end without writing
// Go code.
type queryDesc struct {
	CollectionID string `json:"collectionId"`
	Alias        string `json:"alias"`
	Where        []struct {
		Field string `json:"field"`
		Op    string `json:"op"`
		Value any    `json:"value"`
	} `json:"where"`
	OrderBy []struct {
		Field string `json:"field"`
		Desc  bool   `json:"desc"`
	} `json:"orderBy"`
	Limit *int `json:"limit"`
}

func runDescribe(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var desc queryDesc
	if err := json.Unmarshal(data, &desc); err != nil {
		return err
	}

	b := querybuilder.From(desc.CollectionID, desc.Alias)
	for _, w := range desc.Where {
		ref := queryir.RefPath(desc.Alias, w.Field)
		var e queryir.Expr
		switch w.Op {
		case "eq":
			e = queryir.Eq(ref, queryir.Val(w.Value))
		case "neq":
			e = queryir.Neq(ref, queryir.Val(w.Value))
		case "gt":
			e = queryir.Gt(ref, queryir.Val(w.Value))
		case "gte":
			e = queryir.Gte(ref, queryir.Val(w.Value))
		case "lt":
			e = queryir.Lt(ref, queryir.Val(w.Value))
		case "lte":
			e = queryir.Lte(ref, queryir.Val(w.Value))
		default:
			return fmt.Errorf("describe: unknown where op %q", w.Op)
		}
		b = b.Where(e)
	}
	for _, o := range desc.OrderBy {
		dir := queryir.Asc
		if o.Desc {
			dir = queryir.Desc
		}
		b = b.OrderBy(queryir.RefPath(desc.Alias, o.Field), dir)
	}
	if desc.Limit != nil {
		b = b.Limit(*desc.Limit)
	}

	q := b.Build()
	out := map[string]any{
		"fingerprint":   q.Fingerprint().String(),
		"canonicalText": q.CanonicalText(),
	}
	enc, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	fmt.Print(string(enc))
	return nil
}
