package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	t.Parallel()

	doc := []byte(`{"email":"a@b.com","role":"ADMIN","total":42.5,"tags":["vip","eu"],"address":{"country":"DE"},"active":true}`)

	cases := []struct {
		name string
		f    Filter
		want bool
	}{
		{"eq string", Where("role", OpEq, "ADMIN"), true},
		{"eq string miss", Where("role", OpEq, "CUSTOMER"), false},
		{"ne", Where("role", OpNe, "CUSTOMER"), true},
		{"ne missing field", Where("nope", OpNe, "x"), true},
		{"gt number", Where("total", OpGt, 40), true},
		{"lte number", Where("total", OpLte, 42.5), true},
		{"lt number miss", Where("total", OpLt, 10), false},
		{"range on missing", Where("nope", OpGt, 1), false},
		{"type mismatch", Where("total", OpEq, "42.5"), false},
		{"nested path", Where("address.country", OpEq, "DE"), true},
		{"in", Where("role", OpIn, []string{"ADMIN", "STAFF"}), true},
		{"in miss", Where("role", OpIn, []string{"STAFF"}), false},
		{"array contains", Where("tags", OpArrayContains, "vip"), true},
		{"array contains miss", Where("tags", OpArrayContains, "us"), false},
		{"bool", Where("active", OpEq, true), true},
		{"unknown op", Filter{Path: "role", Op: "~", Value: "A"}, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Match(doc, []Filter{tc.f}))
		})
	}
}

func TestApply_OrderAndPaging(t *testing.T) {
	t.Parallel()

	docs := []Doc{
		{ID: "a", Data: []byte(`{"n":3,"s":"x"}`)},
		{ID: "b", Data: []byte(`{"n":1,"s":"x"}`)},
		{ID: "c", Data: []byte(`{"n":2,"s":"y"}`)},
		{ID: "d", Data: []byte(`{"n":5,"s":"x"}`)},
	}

	got := Apply(docs, Query{Where: []Filter{Where("s", OpEq, "x")}, OrderBy: "n", Desc: true, Limit: 2})
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	got = Apply(docs, Query{OrderBy: "n", Offset: 1, Limit: 2})
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	assert.Empty(t, Apply(docs, Query{Offset: 10}))
}

func TestMergePatch(t *testing.T) {
	t.Parallel()

	out, err := MergePatch([]byte(`{"a":1,"b":{"c":2},"d":"x"}`), map[string]any{
		"a":   "one",
		"b.c": 3,
		"d":   DeleteField,
		"e":   []string{"z"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"one","b":{"c":3},"e":["z"]}`, string(out))
}

func TestMarshal_RejectsNonObject(t *testing.T) {
	t.Parallel()

	_, err := Marshal([]int{1, 2})
	require.Error(t, err)

	raw, err := Marshal(map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(raw))
}

func TestMemory_CRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Create(ctx, CollUsers, "u1", map[string]any{"email": "a@b.com"}))
	require.ErrorIs(t, m.Create(ctx, CollUsers, "u1", map[string]any{"email": "c@d.com"}), ErrConflict)

	require.NoError(t, m.Update(ctx, CollUsers, "u1", map[string]any{"role": "ADMIN"}))
	d, err := m.Get(ctx, CollUsers, "u1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"a@b.com","role":"ADMIN"}`, string(d.Data))

	require.ErrorIs(t, m.Update(ctx, CollUsers, "missing", map[string]any{"x": 1}), ErrNotFound)

	require.NoError(t, m.Delete(ctx, CollUsers, "u1"))
	_, err = m.Get(ctx, CollUsers, "u1")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, m.Delete(ctx, CollUsers, "u1"))
}
