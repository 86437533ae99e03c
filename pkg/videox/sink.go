package videox

import (
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/vidannotate/pkg/iox"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// The codec that we encode with, for each output container.
// mpeg4 ("mp4v") is built into every ffmpeg, so it's our lowest common denominator.
var containerCodecs = map[string]ffmpeg.KwArgs{
	".mp4": {"c:v": "mpeg4"},
	".m4v": {"c:v": "mpeg4"},
	".mov": {"c:v": "mpeg4"},
	".mkv": {"c:v": "mpeg4"},
	".avi": {"c:v": "mpeg4", "vtag": "xvid"},
}

// IsSupportedContainer returns true if we know how to write a video file with the given extension (eg ".mp4")
func IsSupportedContainer(ext string) bool {
	_, ok := containerCodecs[strings.ToLower(ext)]
	return ok
}

// Sink encodes RGBA frames into a video file.
// All frames must have the dimensions that the sink was opened with.
// You must Close the sink to finalize the file.
type Sink struct {
	filename string
	width    int
	height   int
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stderr   *iox.TailBuffer
	packed   []byte
	nFrames  int
	closed   bool
	closeErr error
}

// OpenSink creates the output file and starts the encoder.
// Errors wrap ErrIO.
func OpenSink(filename string, width, height int, frameRate FrameRate) (*Sink, error) {
	if width <= 0 || height <= 0 {
		return nil, ioErrorf("invalid output dimensions %vx%v", width, height)
	}
	if !frameRate.IsValid() {
		return nil, ioErrorf("invalid output frame rate %v", frameRate)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	codec, ok := containerCodecs[ext]
	if !ok {
		return nil, ioErrorf("don't know how to write video file '%v'", filename)
	}

	// Create the file ourselves, so that a bad path fails now and not on the first frame
	f, err := os.Create(filename)
	if err != nil {
		return nil, ioErrorf("create %v: %v", filename, err)
	}
	f.Close()

	outArgs := ffmpeg.KwArgs{"pix_fmt": "yuv420p", "q:v": 3}
	for k, v := range codec {
		outArgs[k] = v
	}
	stream := ffmpeg.Input("pipe:0", ffmpeg.KwArgs{
		"loglevel":  "error",
		"format":    "rawvideo",
		"pix_fmt":   "rgba",
		"s":         fmt.Sprintf("%vx%v", width, height),
		"framerate": frameRate.String(),
	}).Output(filename, outArgs).OverWriteOutput()
	cmd := stream.Compile()
	stderr := iox.NewTailBuffer(4096)
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.Remove(filename)
		return nil, ioErrorf("ffmpeg pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		os.Remove(filename)
		return nil, ioErrorf("starting ffmpeg to encode %v: %v", filename, err)
	}
	return &Sink{
		filename: filename,
		width:    width,
		height:   height,
		cmd:      cmd,
		stdin:    stdin,
		stderr:   stderr,
	}, nil
}

// Write appends one frame to the video
func (s *Sink) Write(frame *image.RGBA) error {
	if s.closed {
		return ioErrorf("write to closed sink %v", s.filename)
	}
	if frame == nil {
		return ioErrorf("nil frame")
	}
	b := frame.Rect
	if b.Dx() != s.width || b.Dy() != s.height {
		return ioErrorf("frame is %vx%v, but %v was opened for %vx%v", b.Dx(), b.Dy(), s.filename, s.width, s.height)
	}
	pix := frame.Pix
	rowBytes := s.width * 4
	if frame.Stride != rowBytes || len(frame.Pix) != rowBytes*s.height {
		if s.packed == nil {
			s.packed = make([]byte, rowBytes*s.height)
		}
		for y := 0; y < s.height; y++ {
			off := frame.PixOffset(b.Min.X, b.Min.Y+y)
			copy(s.packed[y*rowBytes:(y+1)*rowBytes], frame.Pix[off:off+rowBytes])
		}
		pix = s.packed
	}
	if _, err := s.stdin.Write(pix); err != nil {
		return ioErrorf("writing frame %v to %v: %v (%v)", s.nFrames, s.filename, err, s.stderr.String())
	}
	s.nFrames++
	return nil
}

// Close flushes the encoder and finalizes the container.
// It is safe to call more than once. Later calls return the result of the first.
func (s *Sink) Close() error {
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		s.closeErr = ioErrorf("finalizing %v: %v (%v)", s.filename, err, s.stderr.String())
	}
	return s.closeErr
}
