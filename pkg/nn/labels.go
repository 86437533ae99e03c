package nn

import "strconv"

// ObjectDetection is an object that a neural network has found in an image
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// ClassName returns the name of class id, or "Class_<id>" if the model's
// class table does not contain it.
func ClassName(classes []string, id int) string {
	if id >= 0 && id < len(classes) {
		return classes[id]
	}
	return "Class_" + strconv.Itoa(id)
}
