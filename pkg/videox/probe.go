package videox

import (
	"encoding/json"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

type probeStream struct {
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	RFrameRate   string            `json:"r_frame_rate"`
	NbFrames     string            `json:"nb_frames"`
	Tags         map[string]string `json:"tags"`
	SideDataList []struct {
		Rotation int `json:"rotation"`
	} `json:"side_data_list"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
}

// ProbeVideo reads the properties of the first video stream in the file
func ProbeVideo(filename string) (*VideoInfo, error) {
	raw, err := ffmpeg.Probe(filename)
	if err != nil {
		return nil, ioErrorf("ffprobe %v: %v", filename, err)
	}
	return parseProbe(filename, []byte(raw))
}

func parseProbe(filename string, raw []byte) (*VideoInfo, error) {
	out := probeOutput{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, ioErrorf("parsing ffprobe output for %v: %v", filename, err)
	}
	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return nil, ioErrorf("%v: video stream has invalid dimensions %vx%v", filename, s.Width, s.Height)
		}
		info := &VideoInfo{
			Width:  s.Width,
			Height: s.Height,
			Codec:  s.CodecName,
		}
		// avg_frame_rate is what players use. r_frame_rate is the fallback for streams that don't report it.
		for _, fr := range []string{s.AvgFrameRate, s.RFrameRate} {
			if r, err := ParseFrameRate(fr); err == nil && r.IsValid() {
				info.FrameRate = r
				break
			}
		}
		info.FrameCount, _ = strconv.Atoi(s.NbFrames)

		// ffmpeg auto-rotates while decoding, so our frames come out in display orientation
		rotation := 0
		if r, err := strconv.Atoi(s.Tags["rotate"]); err == nil {
			rotation = r
		}
		for _, sd := range s.SideDataList {
			if sd.Rotation != 0 {
				rotation = sd.Rotation
			}
		}
		if rotation%180 != 0 {
			info.Width, info.Height = info.Height, info.Width
		}
		return info, nil
	}
	return nil, ioErrorf("%v contains no video stream", filename)
}
