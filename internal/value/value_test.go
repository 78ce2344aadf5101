package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingDuplicateKeyKeepsFirstPosition(t *testing.T) {
	m := Mapping(
		Field{Key: "a", Value: String("1")},
		Field{Key: "b", Value: String("2")},
		Field{Key: "a", Value: String("3")},
	)
	assert.Equal(t, []string{"a", "b"}, m.Keys())
	got, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "3", got.Text())
}

func TestText(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"null", Null(), ""},
		{"string", String("hi"), "hi"},
		{"number keeps literal", Number("2.50"), "2.50"},
		{"bool", Bool(false), "false"},
		{"sequence", Sequence(String("a"), Number("1"), Null()), "a,1,"},
		{"empty sequence", Sequence(), ""},
		{"mapping", Mapping(Field{Key: "x", Value: Number("1")}, Field{Key: "y", Value: String("<b>")}), `{"x":1,"y":"<b>"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.Text())
		})
	}
}

func TestMarshalJSONKeepsOrder(t *testing.T) {
	v := Mapping(
		Field{Key: "z", Value: Sequence(Bool(true), Null())},
		Field{Key: "a", Value: Mapping()},
	)
	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"z":[true,null],"a":{}}`, string(b))
}

func TestMarshalJSONInvalidNumberLiteralIsQuoted(t *testing.T) {
	b, err := json.Marshal(Number("1e"))
	require.NoError(t, err)
	assert.Equal(t, `"1e"`, string(b))
}

func TestAccessorsOnWrongKind(t *testing.T) {
	s := String("x")
	assert.Nil(t, s.Fields())
	assert.Nil(t, s.Items())
	assert.Nil(t, s.Keys())
	assert.Equal(t, 0, s.Len())
	_, ok := s.Get("x")
	assert.False(t, ok)
	_, ok = Sequence(s).Index(1)
	assert.False(t, ok)
}

func TestEqual(t *testing.T) {
	a := Mapping(Field{Key: "a", Value: Number("1")}, Field{Key: "b", Value: Null()})
	b := Mapping(Field{Key: "a", Value: Number("1")}, Field{Key: "b", Value: Null()})
	c := Mapping(Field{Key: "b", Value: Null()}, Field{Key: "a", Value: Number("1")})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, Number("1").Equal(String("1")))
}

func TestSequenceCopiesInput(t *testing.T) {
	items := []Value{String("a")}
	s := Sequence(items...)
	items[0] = String("b")
	assert.Equal(t, "a", s.Items()[0].Text())
}
