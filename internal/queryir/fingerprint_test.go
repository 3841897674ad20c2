package queryir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func baseQuery() *Query {
	return &Query{
		From:  Source{Kind: SourceCollection, CollectionID: "users", Alias: "u"},
		Where: Eq(RefPath("u", "active"), Val(true)),
		Select: &Projection{Fields: []ProjectField{
			{Name: "name", Value: RefPath("u", "name")},
		}},
	}
}

func TestFingerprintDeterministicAcrossDateInstants(t *testing.T) {
	q1 := baseQuery()
	q1.Where = Eq(RefPath("u", "createdAt"), Val(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	q2 := baseQuery()
	// Same instant, constructed as a distinct time.Time value in a
	// different location — must fingerprint identically.
	loc := time.FixedZone("UTC+1", 3600)
	q2.Where = Eq(RefPath("u", "createdAt"), Val(time.Date(2026, 1, 1, 1, 0, 0, 0, loc)))

	assert.Equal(t, q1.Fingerprint(), q2.Fingerprint())
}

func TestFingerprintDiffersOnDifferentInstant(t *testing.T) {
	q1 := baseQuery()
	q1.Where = Eq(RefPath("u", "createdAt"), Val(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	q2 := baseQuery()
	q2.Where = Eq(RefPath("u", "createdAt"), Val(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))

	assert.NotEqual(t, q1.Fingerprint(), q2.Fingerprint())
}

func TestFingerprintIgnoresAndOperandOrder(t *testing.T) {
	q1 := baseQuery()
	q1.Where = And(Eq(RefPath("u", "active"), Val(true)), Gt(RefPath("u", "age"), Val(21)))

	q2 := baseQuery()
	q2.Where = And(Gt(RefPath("u", "age"), Val(21)), Eq(RefPath("u", "active"), Val(true)))

	assert.Equal(t, q1.Fingerprint(), q2.Fingerprint())
}

func TestFingerprintIgnoresProjectionFieldOrder(t *testing.T) {
	q1 := baseQuery()
	q1.Select = &Projection{Fields: []ProjectField{
		{Name: "a", Value: RefPath("u", "a")},
		{Name: "b", Value: RefPath("u", "b")},
	}}
	q2 := baseQuery()
	q2.Select = &Projection{Fields: []ProjectField{
		{Name: "b", Value: RefPath("u", "b")},
		{Name: "a", Value: RefPath("u", "a")},
	}}
	assert.Equal(t, q1.Fingerprint(), q2.Fingerprint())
}

func TestFingerprintDiffersOnJoinOrder(t *testing.T) {
	q1 := baseQuery()
	q1.Joins = []Join{
		{Kind: JoinInner, From: Source{Kind: SourceCollection, CollectionID: "a", Alias: "a"}, On: Val(true)},
		{Kind: JoinInner, From: Source{Kind: SourceCollection, CollectionID: "b", Alias: "b"}, On: Val(true)},
	}
	q2 := baseQuery()
	q2.Joins = []Join{
		{Kind: JoinInner, From: Source{Kind: SourceCollection, CollectionID: "b", Alias: "b"}, On: Val(true)},
		{Kind: JoinInner, From: Source{Kind: SourceCollection, CollectionID: "a", Alias: "a"}, On: Val(true)},
	}
	assert.NotEqual(t, q1.Fingerprint(), q2.Fingerprint())
}
