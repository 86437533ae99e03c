package iox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteStreamToFile(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "a.bin")
	n, err := WriteStreamToFile(fn, strings.NewReader("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	n, err = WriteStreamToFile(fn, strings.NewReader("hello"), 5)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	_, err = WriteStreamToFile(fn, strings.NewReader("hello!"), 5)
	require.True(t, errors.Is(err, ErrTooLarge))
	_, err = os.Stat(fn)
	require.True(t, os.IsNotExist(err))
}

func TestTailBuffer(t *testing.T) {
	tb := NewTailBuffer(8)
	tb.Write([]byte("0123"))
	require.Equal(t, "0123", tb.String())
	tb.Write([]byte("456789ab"))
	require.Equal(t, "456789ab", tb.String())
	tb.Write([]byte("cd"))
	require.Equal(t, "6789abcd", tb.String())
}
