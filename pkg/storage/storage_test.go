package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	require.NoError(t, ValidateName("processed_1a2b3c4d_clip.mp4"))
	require.Error(t, ValidateName(""))
	require.Error(t, ValidateName("../etc/passwd"))
	require.Error(t, ValidateName("a/b.mp4"))
	require.Error(t, ValidateName(`a\b.mp4`))
	require.Error(t, ValidateName("/abs.mp4"))
}

func TestContentType(t *testing.T) {
	require.Equal(t, "video/mp4", ContentType("a.MP4"))
	require.Equal(t, "video/x-msvideo", ContentType("a.avi"))
	require.Equal(t, "application/octet-stream", ContentType("a"))
}

func TestStorageFS(t *testing.T) {
	root := filepath.Join(t.TempDir(), "outputs")
	fs, err := NewStorageFS(logs.NewTestingLog(t), root)
	require.NoError(t, err)
	require.DirExists(t, root)

	require.NoError(t, WriteFile(fs, "a.mp4", bytes.NewReader([]byte("hello"))))
	b, err := ReadFile(fs, "a.mp4")
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	f, err := fs.ReadFile("a.mp4")
	require.NoError(t, err)
	require.EqualValues(t, 5, f.Size)
	require.NoError(t, f.Reader.Close())

	local, err := fs.Filename("a.mp4")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(fs.Root, "a.mp4"), local)
	require.FileExists(t, local)

	_, err = fs.URL("a.mp4")
	require.ErrorIs(t, err, ErrNoPublicUrl)

	_, err = fs.ReadFile("missing.mp4")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = fs.ReadFile("../outputs/a.mp4")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))

	require.NoError(t, fs.DeleteFile("a.mp4"))
	require.ErrorIs(t, fs.DeleteFile("a.mp4"), ErrNotFound)

	src := filepath.Join(t.TempDir(), "src.mkv")
	require.NoError(t, os.WriteFile(src, []byte("video bytes"), 0644))
	require.NoError(t, Upload(fs, "b.mkv", src))
	b, err = ReadFile(fs, "b.mkv")
	require.NoError(t, err)
	require.Equal(t, "video bytes", string(b))
}
