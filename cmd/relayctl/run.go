package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaydb/relaydb/internal/collection"
	"github.com/relaydb/relaydb/internal/livequery"
	"github.com/relaydb/relaydb/internal/querybuilder"
	"github.com/relaydb/relaydb/internal/queryir"
	"github.com/relaydb/relaydb/internal/rowkey"
)

var runCmd = &cobra.Command{
	Use:   "run [fixture]",
	Short: "Run a small in-memory join+orderBy+limit live query and print its change feed",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFixture,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

type user struct {
	ID     int
	Name   string
	DeptID int
	Score  int
}

type department struct {
	ID   int
	Name string
}

func runFixture(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	userKey := func(r collection.Row) rowkey.Key { return rowkey.Of(r.(user).ID) }
	deptKey := func(r collection.Row) rowkey.Key { return rowkey.Of(r.(department).ID) }

	users, err := collection.New(collection.Options{
		KeyFn: userKey,
		Adapter: newMemAdapter(userKey,
			user{ID: 1, Name: "Alice", DeptID: 10, Score: 92},
			user{ID: 2, Name: "Bob", DeptID: 10, Score: 77},
			user{ID: 3, Name: "Charlie", DeptID: 20, Score: 88},
			user{ID: 4, Name: "Dave", DeptID: 20, Score: 95},
		),
	})
	if err != nil {
		return err
	}
	depts, err := collection.New(collection.Options{
		KeyFn: deptKey,
		Adapter: newMemAdapter(deptKey,
			department{ID: 10, Name: "Engineering"},
			department{ID: 20, Name: "Sales"},
		),
	})
	if err != nil {
		return err
	}

	q := querybuilder.From("users", "u").
		InnerJoin("departments", "d", queryir.Eq(queryir.RefPath("u", "DeptID"), queryir.RefPath("d", "ID"))).
		OrderByTerm(queryir.OrderTerm{Expr: queryir.RefPath("u", "Score"), Direction: queryir.Desc}).
		Limit(3).
		Build()

	lq, err := livequery.New(livequery.Options{
		Query: q,
		Sources: map[string]livequery.Source{
			"u": {CollectionID: "users", Collection: users, GetKey: func(r any) rowkey.Key { return userKey(r) }},
			"d": {CollectionID: "departments", Collection: depts, GetKey: func(r any) rowkey.Key { return deptKey(r) }},
		},
	})
	if err != nil {
		return err
	}
	if err := lq.Start(ctx); err != nil {
		return err
	}

	lq.Collection().SubscribeChanges(collection.SubscribeOptions{IncludeInitialState: true}, func(batch []collection.ChangeMessage) {
		for _, m := range batch {
			fmt.Printf("%-7s key=%s value=%v\n", m.Type, m.Key, m.Value)
		}
	})

	fmt.Printf("top-3 by score across %d users / %d departments:\n", users.Size(), depts.Size())
	for _, row := range lq.Collection().ToArray() {
		fmt.Printf("  %v\n", row)
	}
	return nil
}
