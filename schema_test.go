package atomix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaResolve(t *testing.T) {
	s := &Schema{
		Name: "User",
		Fields: []FieldSpec{
			{Name: "credits", Kind: KindInt},
			{Name: "tags", Kind: KindList},
			{Name: "profile", Kind: KindDoc, Sub: &Schema{
				Name:   "Profile",
				Fields: []FieldSpec{{Name: "bio", Kind: KindString}},
			}},
		},
	}
	require.NoError(t, s.resolve())

	f, ok := s.Field("tags")
	require.True(t, ok)
	assert.Equal(t, KindAny, f.Elem, "list element kind defaults to any")

	_, ok = s.Field("missing")
	assert.False(t, ok)
}

func TestSchemaResolveRejectsDuplicates(t *testing.T) {
	s := &Schema{
		Name: "User",
		Fields: []FieldSpec{
			{Name: "a", Kind: KindInt},
			{Name: "a", Kind: KindString},
		},
	}
	err := s.resolve()
	assert.True(t, IsCode(err, BadArgument))
}

func TestSchemaResolveRejectsUnnamedAndInvalid(t *testing.T) {
	err := (&Schema{Name: "User", Fields: []FieldSpec{{Kind: KindInt}}}).resolve()
	assert.True(t, IsCode(err, BadArgument))

	err = (&Schema{Name: "User", Fields: []FieldSpec{{Name: "x"}}}).resolve()
	assert.True(t, IsCode(err, BadArgument))

	err = (&Schema{Name: ""}).resolve()
	assert.True(t, IsCode(err, BadArgument))
}

func TestSchemaResolveRejectsNestedWithoutSub(t *testing.T) {
	err := (&Schema{Name: "User", Fields: []FieldSpec{{Name: "p", Kind: KindDoc}}}).resolve()
	assert.True(t, IsCode(err, BadArgument))
}

func TestSchemaResolveRejectsNonScalarElem(t *testing.T) {
	err := (&Schema{Name: "User", Fields: []FieldSpec{
		{Name: "nested", Kind: KindList, Elem: KindList},
	}}).resolve()
	assert.True(t, IsCode(err, BadArgument))
}

func TestSchemaIndexableKinds(t *testing.T) {
	err := (&Schema{Name: "User", Fields: []FieldSpec{
		{Name: "blob", Kind: KindBytes, Indexed: true},
	}}).resolve()
	assert.True(t, IsCode(err, UnsupportedIndexField))

	require.NoError(t, (&Schema{Name: "User", Fields: []FieldSpec{
		{Name: "name", Kind: KindString, Indexed: true},
		{Name: "seen", Kind: KindTimestamp, Indexed: true},
	}}).resolve())
}

func TestSchemaTolerantPolicy(t *testing.T) {
	s := &Schema{
		Name: "User",
		Fields: []FieldSpec{
			{Name: "strict", Kind: KindInt},
			{Name: "loose", Kind: KindInt, SafeLoad: true},
		},
	}
	require.NoError(t, s.resolve())
	assert.False(t, s.tolerant("strict"))
	assert.True(t, s.tolerant("loose"))

	s.SafeLoadAll = true
	assert.True(t, s.tolerant("strict"))
}

func TestSchemaQueueFields(t *testing.T) {
	s := &Schema{
		Name: "User",
		Fields: []FieldSpec{
			{Name: "credits", Kind: KindInt},
			{Name: "jobs", Kind: KindQueue, Elem: KindString},
			{Name: "retries", Kind: KindQueue, Elem: KindString},
		},
	}
	require.NoError(t, s.resolve())
	assert.Equal(t, []string{"jobs", "retries"}, s.queueFields())
}
