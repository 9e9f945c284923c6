package shard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetGetNestedField(t *testing.T) {
	r := NewRecord("id-1")
	ts := time.Now()
	r.SetField("user.name", "ada", ts)

	v, ok := r.GetField("user.name")
	require.True(t, ok)
	require.Equal(t, "ada", v)
	require.Equal(t, ts, r.LastUpdated["user.name"])
}

func TestValidateCatchesMissingTimestamp(t *testing.T) {
	r := NewRecord("id-1")
	r.Fields["description"] = "x"
	require.Error(t, r.Validate())

	r.LastUpdated["description"] = time.Now()
	require.NoError(t, r.Validate())
}

func TestHashStableUnderFieldOrder(t *testing.T) {
	r1 := NewRecord("id-1")
	r1.SetField("a", 1, time.Unix(1, 0))
	r1.SetField("b", 2, time.Unix(2, 0))

	r2 := NewRecord("id-1")
	r2.SetField("b", 2, time.Unix(2, 0))
	r2.SetField("a", 1, time.Unix(1, 0))

	h1, err := r1.Hash()
	require.NoError(t, err)
	h2, err := r2.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestMergeRecordsSelfIsIdentity(t *testing.T) {
	r := NewRecord("id-1")
	r.SetField("description", "x", time.Now())

	merged, err := MergeRecords(r, r)
	require.NoError(t, err)

	v, _ := merged.GetField("description")
	orig, _ := r.GetField("description")
	require.Equal(t, orig, v)
}

func TestMergeRecordsLastWriteWins(t *testing.T) {
	t1 := time.Unix(100, 0)
	t2 := time.Unix(200, 0)

	a := NewRecord("id-1")
	a.SetField("description", "a", t1)

	b := NewRecord("id-1")
	b.SetField("description", "b", t2)

	merged, err := MergeRecords(a, b)
	require.NoError(t, err)

	v, ok := merged.GetField("description")
	require.True(t, ok)
	require.Equal(t, "b", v)
	require.Equal(t, t2, merged.LastUpdated["description"])
}

func TestMergeRecordsRejectsMismatchedIDs(t *testing.T) {
	a := NewRecord("id-1")
	b := NewRecord("id-2")
	_, err := MergeRecords(a, b)
	require.Error(t, err)
}
