package videox

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Extract the duration of a video file
func ExtractVideoDuration(srcFilename string) (time.Duration, error) {
	args := []string{
		"-v",
		"error",
		"-show_entries",
		"format=duration",
		"-of",
		"default=noprint_wrappers=1:nokey=1",
		srcFilename,
	}
	out, err := RunAppCombinedOutput("ffprobe", args)
	if err != nil {
		return 0, err
	}
	// Some builds print warnings before the number (eg "Warning: using insecure memory!"),
	// so we take the first line that parses.
	outStr := string(out)
	for _, line := range strings.Split(outStr, "\n") {
		if seconds, err := strconv.ParseFloat(strings.TrimSpace(line), 64); err == nil {
			return time.Duration(seconds * float64(time.Second)), nil
		}
	}
	return 0, ioErrorf("Unable to parse ffprobe output: %v", outStr)
}

// Extract a single frame from a video file and return the JPEG bytes
// If outputWidth is zero, then we use the same width as the input video
func ExtractFrame(srcFilename string, atSecond float64, outputWidth int) ([]byte, error) {
	tmp, err := os.CreateTemp("", "vidannotate-frame-*.jpg")
	if err != nil {
		return nil, err
	}
	tmpFilename := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpFilename)

	outArgs := ffmpeg.KwArgs{"frames:v": 1, "q:v": 8}
	if outputWidth > 0 {
		outArgs["vf"] = fmt.Sprintf("scale=%v:-1", outputWidth)
	}
	cmd := ffmpeg.Input(srcFilename, ffmpeg.KwArgs{"ss": fmt.Sprintf("%.3f", atSecond), "loglevel": "error"}).
		Output(tmpFilename, outArgs).
		OverWriteOutput().
		Compile()
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, ioErrorf("ffmpeg frame extraction from %v failed: %v (%v)", srcFilename, err, string(out))
	}
	return os.ReadFile(tmpFilename)
}

// app_name is an executable, such as "ffmpeg" or "ffprobe"
// args must not include the executable name as the first parameter
// Returns the string output from exec.Cmd's "CombinedOutput" method.
func RunAppCombinedOutput(app_name string, args []string) ([]byte, error) {
	app_path, err := exec.LookPath(app_name)
	if err != nil {
		return nil, ioErrorf("Unable to find '%v' in your path (%v)", app_name, err)
	}
	args_with_app := append([]string{app_name}, args...)
	cmd := &exec.Cmd{
		Path: app_path,
		Args: args_with_app,
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		outStr := ""
		if out != nil {
			outStr = string(out)
		}
		return nil, ioErrorf("%v execution failed: %v (%v)", app_name, err, outStr)
	}
	return out, nil
}

// HaveFFmpeg returns true if both ffmpeg and ffprobe are on the PATH
func HaveFFmpeg() bool {
	_, e1 := exec.LookPath("ffmpeg")
	_, e2 := exec.LookPath("ffprobe")
	return e1 == nil && e2 == nil
}
