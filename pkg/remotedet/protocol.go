package remotedet

// package remotedet runs object detection on another machine, over a websocket.
//
// Protocol:
//  1. After the websocket opens, the server sends a helloMsg (JSON text message).
//  2. For every frame, the client sends the frame as a JPEG (binary message).
//  3. The server answers with a resultMsg (JSON text message), eg
//     {"detections":[{"box":[x1,y1,x2,y2],"score":0.87,"class":2}]}
// A non-empty resultMsg.Error means inference failed for that frame only.

import "github.com/cyclopcam/vidannotate/pkg/nn"

type helloMsg struct {
	Architecture string   `json:"architecture"`
	Classes      []string `json:"classes"`
	Device       string   `json:"device"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
}

type detectionMsg struct {
	Class int        `json:"class"`
	Score float32    `json:"score"`
	Box   [4]float32 `json:"box"` // x1, y1, x2, y2
}

type resultMsg struct {
	Detections []detectionMsg `json:"detections"`
	Error      string         `json:"error,omitempty"`
}

func toDetectionMsgs(dets []nn.ObjectDetection) []detectionMsg {
	out := make([]detectionMsg, len(dets))
	for i, d := range dets {
		out[i] = detectionMsg{
			Class: d.Class,
			Score: d.Confidence,
			Box:   [4]float32{float32(d.Box.X1), float32(d.Box.Y1), float32(d.Box.X2), float32(d.Box.Y2)},
		}
	}
	return out
}

func fromDetectionMsgs(msgs []detectionMsg) []nn.ObjectDetection {
	out := make([]nn.ObjectDetection, len(msgs))
	for i, m := range msgs {
		out[i] = nn.ObjectDetection{
			Class:      m.Class,
			Confidence: m.Score,
			Box:        nn.MakeRectF(m.Box[0], m.Box[1], m.Box[2], m.Box[3]),
		}
	}
	return out
}
