package remotedet

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"
	"net/http"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vidannotate/pkg/nn"
	"github.com/gorilla/websocket"
)

// Handler serves a local detector to remote clients.
// Inference is serialized, because a single model instance is shared by all connections.
type Handler struct {
	log      logs.Log
	detector nn.ObjectDetector
	upgrader websocket.Upgrader
	lock     sync.Mutex
}

func NewHandler(log logs.Log, detector nn.ObjectDetector) *Handler {
	return &Handler{
		log:      log,
		detector: detector,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 4 * 1024,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("Detector websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	cfg := h.detector.Config()
	hello := helloMsg{
		Architecture: cfg.Architecture,
		Classes:      cfg.Classes,
		Device:       h.detector.Device(),
		Width:        cfg.Width,
		Height:       cfg.Height,
	}
	if err := conn.WriteJSON(&hello); err != nil {
		h.log.Warnf("Detector websocket: failed to send hello: %v", err)
		return
	}

	nFrames := 0
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Infof("Detector websocket closed after %v frames: %v", nFrames, err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		nFrames++
		if err := conn.WriteJSON(h.detect(raw)); err != nil {
			h.log.Warnf("Detector websocket: failed to send result: %v", err)
			return
		}
	}
}

func (h *Handler) detect(jpg []byte) *resultMsg {
	img, err := jpeg.Decode(bytes.NewReader(jpg))
	if err != nil {
		return &resultMsg{Error: "Invalid JPEG: " + err.Error()}
	}
	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	}
	h.lock.Lock()
	dets, err := h.detector.DetectObjects(rgba)
	h.lock.Unlock()
	if err != nil {
		return &resultMsg{Error: err.Error()}
	}
	return &resultMsg{Detections: toDetectionMsgs(dets)}
}
