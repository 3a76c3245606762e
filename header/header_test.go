package header_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhttp/engine/header"
)

func TestSetThenGetAllReturnsSingleValue(t *testing.T) {
	l := header.New()
	require.NoError(t, l.Add("X-Trace", "a"))
	require.NoError(t, l.Add("X-Trace", "b"))
	require.NoError(t, l.Set("X-Trace", "c"))

	assert.Equal(t, []string{"c"}, l.GetAll("X-Trace"))
}

func TestRemoveThenContainsIsFalse(t *testing.T) {
	l := header.New()
	require.NoError(t, l.Add("X-Id", "1"))

	removed, err := l.Remove("x-id")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, l.Contains("X-Id"))

	removed, err = l.Remove("X-Id")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestCaseInsensitiveLookup(t *testing.T) {
	l := header.New()
	require.NoError(t, l.Add("Content-Type", "text/plain"))

	assert.Equal(t, "text/plain", l.Get("content-type"))
	assert.True(t, l.Contains("CONTENT-TYPE"))
}

func TestInsertionOrderPreserved(t *testing.T) {
	l := header.New()
	require.NoError(t, l.Add("B", "2"))
	require.NoError(t, l.Add("A", "1"))
	require.NoError(t, l.Add("C", "3"))

	var names []string
	for _, f := range l.All() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"B", "A", "C"}, names)
}

func TestWriteToWireFormat(t *testing.T) {
	l := header.New()
	require.NoError(t, l.Add("Host", "example.com"))
	require.NoError(t, l.Add("X-A", "1"))

	var sb strings.Builder
	_, err := l.WriteTo(&sb)
	require.NoError(t, err)
	assert.Equal(t, "Host: example.com\r\nX-A: 1\r\n", sb.String())
}

func TestFreezeRejectsMutation(t *testing.T) {
	l := header.New()
	l.Freeze()

	assert.ErrorIs(t, l.Add("X", "1"), header.ErrReadOnly)
	assert.ErrorIs(t, l.Set("X", "1"), header.ErrReadOnly)
	_, err := l.Remove("X")
	assert.ErrorIs(t, err, header.ErrReadOnly)
}

func TestValueSanitizationStripsCRLF(t *testing.T) {
	l := header.New()
	require.NoError(t, l.Add("X-Inject", "evil\r\nSet-Cookie: a=b"))

	var sb strings.Builder
	_, err := l.WriteTo(&sb)
	require.NoError(t, err)
	assert.NotContains(t, sb.String(), "\r\nSet-Cookie")
}

func TestIsToken(t *testing.T) {
	assert.True(t, header.IsToken("Content-Type"))
	assert.True(t, header.IsToken("X_Foo.Bar~Baz"))
	assert.False(t, header.IsToken(""))
	assert.False(t, header.IsToken("bad name"))
	assert.False(t, header.IsToken("bad:name"))
}

func TestIsValidValue(t *testing.T) {
	assert.True(t, header.IsValidValue("hello\tworld"))
	assert.False(t, header.IsValidValue("hello\rworld"))
	assert.False(t, header.IsValidValue("hello\nworld"))
}
