package variables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	m := NewEmpty()
	require.NoError(t, m.Set("FOO", "bar"))
	assert.Equal(t, "bar", m.Get("FOO"))
	assert.Equal(t, "", m.Get("MISSING"))

	_, ok := m.Lookup("MISSING")
	assert.False(t, ok)

	assert.ErrorIs(t, m.Set("1abc", "x"), ErrInvalidName)
	assert.ErrorIs(t, m.Set("a-b", "x"), ErrInvalidName)
}

func TestReadOnly(t *testing.T) {
	m := NewEmpty()
	require.NoError(t, m.Set("X", "1"))
	require.NoError(t, m.SetReadOnly("X"))

	assert.ErrorIs(t, m.Set("X", "2"), ErrReadOnly)
	assert.ErrorIs(t, m.Unset("X"), ErrReadOnly)
	assert.Equal(t, "1", m.Get("X"))
	assert.True(t, m.IsReadOnly("X"))
}

func TestEnviron(t *testing.T) {
	m := NewEmpty()
	m.Set("B", "2")
	m.Set("A", "1")
	m.Set("LOCAL", "x")
	m.Export("A")
	m.Export("B")
	m.Export("EMPTY")

	assert.Equal(t, []string{"A=1", "B=2", "EMPTY="}, m.Exported())
	assert.Equal(t, []string{"A=override", "B=2", "C=3", "EMPTY="},
		m.Environ(map[string]string{"A": "override", "C": "3"}))

	m.Unexport("B")
	assert.False(t, m.IsExported("B"))
	assert.Equal(t, []string{"A=1", "EMPTY="}, m.Exported())
}

func TestReplace(t *testing.T) {
	m := NewEmpty()
	m.Set("OLD", "1")
	m.Replace([]Variable{{Name: "NEW", Value: "2", Exported: true}})

	assert.Equal(t, "", m.Get("OLD"))
	assert.Equal(t, "2", m.Get("NEW"))
	assert.True(t, m.IsExported("NEW"))

	all := m.All()
	require.Len(t, all, 1)
	assert.Equal(t, "NEW", all[0].Name)
}

func TestPositionalScopes(t *testing.T) {
	m := NewEmpty()
	m.SetArgs([]string{"a", "b", "c"})

	m.PushArgs([]string{"x"})
	assert.Equal(t, 1, m.Depth())
	assert.Equal(t, []string{"x"}, m.Args())
	m.PopArgs()

	assert.Equal(t, 0, m.Depth())
	assert.Equal(t, []string{"a", "b", "c"}, m.Args())

	require.NoError(t, m.Shift(2))
	assert.Equal(t, []string{"c"}, m.Args())
	assert.ErrorIs(t, m.Shift(2), ErrShiftCount)

	// The outermost scope is never popped.
	m.PopArgs()
	assert.Equal(t, []string{"c"}, m.Args())
}
