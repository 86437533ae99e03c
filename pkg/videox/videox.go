package videox

// package videox reads and writes video files one RGBA frame at a time.
// The heavy lifting is done by ffmpeg/ffprobe child processes, which must be on the PATH.

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrIO is wrapped by every error that comes from opening, reading or writing a video.
// It is fatal to the run that sees it.
var ErrIO = errors.New("video I/O error")

func ioErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrIO, fmt.Sprintf(format, args...))
}

// FrameRate is an exact rational frame rate, such as 30000/1001
type FrameRate struct {
	Num int `json:"num"`
	Den int `json:"den"`
}

func (f FrameRate) IsValid() bool {
	return f.Num > 0 && f.Den > 0
}

func (f FrameRate) Float() float64 {
	if f.Den == 0 {
		return 0
	}
	return float64(f.Num) / float64(f.Den)
}

// String returns the form that ffmpeg accepts on the command line, eg "30000/1001"
func (f FrameRate) String() string {
	if f.Den == 1 {
		return strconv.Itoa(f.Num)
	}
	return fmt.Sprintf("%v/%v", f.Num, f.Den)
}

// ParseFrameRate parses "30000/1001", "25/1", or "25"
func ParseFrameRate(s string) (FrameRate, error) {
	num, den, hasDen := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.Atoi(num)
	if err != nil {
		return FrameRate{}, fmt.Errorf("Invalid frame rate '%v'", s)
	}
	d := 1
	if hasDen {
		if d, err = strconv.Atoi(den); err != nil {
			return FrameRate{}, fmt.Errorf("Invalid frame rate '%v'", s)
		}
	}
	return FrameRate{Num: n, Den: d}, nil
}

// VideoInfo holds the properties of a video stream, read once when the file is opened
type VideoInfo struct {
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	FrameRate  FrameRate `json:"frameRate"`
	FrameCount int       `json:"frameCount"` // Zero if the container doesn't record it
	Codec      string    `json:"codec"`
}

func (v VideoInfo) FPS() float64 {
	return v.FrameRate.Float()
}
