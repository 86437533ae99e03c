package remotedet

import (
	"encoding/json"
	"fmt"
	"image"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vidannotate/pkg/nn"
	"github.com/gorilla/websocket"
)

const DefaultTimeout = 30 * time.Second

// Detector is an nn.ObjectDetector whose model lives behind a websocket
type Detector struct {
	log       logs.Log
	serverURL string
	timeout   time.Duration
	quality   int
	conn      *websocket.Conn
	config    nn.ModelConfig
	device    string
}

var _ nn.ObjectDetector = (*Detector)(nil)

// Dial connects to a detection server (eg "ws://gpu-box:8090/api/detector/ws") and waits for its hello message.
// Failure to connect is a model load error.
func Dial(log logs.Log, serverURL string, timeout time.Duration) (*Detector, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Detector{
		log:       log,
		serverURL: serverURL,
		timeout:   timeout,
		quality:   90,
	}
	if err := d.connect(); err != nil {
		return nil, fmt.Errorf("%w: %v", nn.ErrModelLoad, err)
	}
	log.Infof("Connected to detection server %v (%v), frames encoded with %v", serverURL, d.device, JPEGEncoder)
	return d, nil
}

func (d *Detector) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = d.timeout
	conn, _, err := dialer.Dial(d.serverURL, nil)
	if err != nil {
		return fmt.Errorf("connecting to detection server %v: %w", d.serverURL, err)
	}
	conn.SetReadDeadline(time.Now().Add(d.timeout))
	hello := helloMsg{}
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return fmt.Errorf("reading hello from %v: %w", d.serverURL, err)
	}
	d.conn = conn
	d.config = nn.ModelConfig{
		Architecture: hello.Architecture,
		Width:        hello.Width,
		Height:       hello.Height,
		Classes:      hello.Classes,
	}
	d.device = "remote"
	if hello.Device != "" {
		d.device = "remote:" + hello.Device
	}
	return nil
}

func (d *Detector) Close() {
	if d.conn != nil {
		d.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		d.conn.Close()
		d.conn = nil
	}
}

func (d *Detector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *Detector) Device() string {
	return d.device
}

func (d *Detector) DetectObjects(img *image.RGBA) ([]nn.ObjectDetection, error) {
	if err := nn.CheckFrame(img); err != nil {
		return nil, err
	}
	if d.conn == nil {
		// A previous frame lost the connection. Try once to get it back.
		if err := d.connect(); err != nil {
			return nil, fmt.Errorf("%w: %v", nn.ErrInference, err)
		}
		d.log.Infof("Reconnected to detection server %v", d.serverURL)
	}

	jpg, err := encodeJPEG(img, d.quality)
	if err != nil {
		return nil, fmt.Errorf("%w: JPEG encode: %v", nn.ErrInference, err)
	}

	d.conn.SetWriteDeadline(time.Now().Add(d.timeout))
	if err := d.conn.WriteMessage(websocket.BinaryMessage, jpg); err != nil {
		d.dropConnection(err)
		return nil, fmt.Errorf("%w: sending frame: %v", nn.ErrInference, err)
	}
	d.conn.SetReadDeadline(time.Now().Add(d.timeout))
	_, raw, err := d.conn.ReadMessage()
	if err != nil {
		d.dropConnection(err)
		return nil, fmt.Errorf("%w: reading result: %v", nn.ErrInference, err)
	}
	res := resultMsg{}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: invalid result from server: %v", nn.ErrInference, err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("%w: %v", nn.ErrInference, res.Error)
	}
	return fromDetectionMsgs(res.Detections), nil
}

func (d *Detector) dropConnection(err error) {
	d.log.Warnf("Lost connection to detection server %v: %v", d.serverURL, err)
	d.conn.Close()
	d.conn = nil
}
