package videox

import (
	"errors"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/cyclopcam/vidannotate/pkg/iox"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Source decodes a video file into RGBA frames, in order.
// It is finite and cannot be rewound. You must Close it when done, even after an error.
type Source struct {
	filename  string
	info      VideoInfo
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    *iox.TailBuffer
	frameSize int
	nFrames   int
	eof       bool
	closed    bool
}

// OpenSource probes the file and starts decoding it.
// Errors wrap ErrIO.
func OpenSource(filename string) (*Source, error) {
	st, err := os.Stat(filename)
	if err != nil {
		return nil, ioErrorf("open %v: %v", filename, err)
	}
	if st.IsDir() {
		return nil, ioErrorf("%v is a directory", filename)
	}
	info, err := ProbeVideo(filename)
	if err != nil {
		return nil, err
	}

	stream := ffmpeg.Input(filename, ffmpeg.KwArgs{"loglevel": "error"}).
		Output("pipe:1", ffmpeg.KwArgs{"format": "rawvideo", "pix_fmt": "rgba", "an": "", "sn": ""}).
		GlobalArgs("-xerror")
	cmd := stream.Compile()
	stderr := iox.NewTailBuffer(4096)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, ioErrorf("ffmpeg pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, ioErrorf("starting ffmpeg to decode %v: %v", filename, err)
	}
	return &Source{
		filename:  filename,
		info:      *info,
		cmd:       cmd,
		stdout:    stdout,
		stderr:    stderr,
		frameSize: info.Width * info.Height * 4,
	}, nil
}

func (s *Source) Info() VideoInfo {
	return s.info
}

// Read returns the next frame, or io.EOF when the stream is exhausted.
// If ffmpeg fails partway through the file, Read returns ErrIO with the tail of ffmpeg's
// stderr, even if some frames were already decoded.
func (s *Source) Read() (*image.RGBA, error) {
	if s.closed || s.eof {
		return nil, io.EOF
	}
	buf := make([]byte, s.frameSize)
	_, err := io.ReadFull(s.stdout, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		s.eof = true
		waitErr := s.cmd.Wait()
		s.cmd = nil
		if waitErr != nil {
			return nil, ioErrorf("decoding %v after %v frames: %v (%v)", s.filename, s.nFrames, waitErr, strings.TrimSpace(s.stderr.String()))
		}
		return nil, io.EOF
	} else if err != nil {
		return nil, ioErrorf("reading frame %v of %v: %v", s.nFrames, s.filename, err)
	}
	s.nFrames++
	return &image.RGBA{
		Pix:    buf,
		Stride: s.info.Width * 4,
		Rect:   image.Rect(0, 0, s.info.Width, s.info.Height),
	}, nil
}

// Close stops the decoder. It is safe to call more than once.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.stdout.Close()
	if s.cmd != nil {
		if !s.eof {
			// We're stopping early, so ffmpeg will die of SIGPIPE or be killed here
			s.cmd.Process.Kill()
		}
		s.cmd.Wait()
		s.cmd = nil
	}
	return nil
}
