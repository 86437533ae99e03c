package iox

import (
	"io"
	"os"
	"sync"
)

// WriteStreamToFile copies src into a new file. On failure the partial file is removed.
// maxBytes limits the size of the file (0 = unlimited). Exceeding it is an error.
func WriteStreamToFile(dstFilename string, src io.Reader, maxBytes int64) (int64, error) {
	dstFile, err := os.Create(dstFilename)
	if err != nil {
		return 0, err
	}
	defer dstFile.Close()
	if maxBytes > 0 {
		src = io.LimitReader(src, maxBytes+1)
	}
	n, err := io.Copy(dstFile, src)
	if err == nil && maxBytes > 0 && n > maxBytes {
		err = ErrTooLarge
	}
	if err == nil {
		err = dstFile.Close()
	}
	if err != nil {
		os.Remove(dstFilename)
		return 0, err
	}
	return n, nil
}

// TailBuffer is an io.Writer that remembers only the last Max bytes written to it.
// We use it to capture the stderr of long running child processes.
type TailBuffer struct {
	Max  int
	lock sync.Mutex
	buf  []byte
}

func NewTailBuffer(max int) *TailBuffer {
	return &TailBuffer{Max: max}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.Max {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-t.Max:]...)
	}
	return len(p), nil
}

func (t *TailBuffer) String() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return string(t.buf)
}
