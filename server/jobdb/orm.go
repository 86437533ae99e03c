package jobdb

import "github.com/cyclopcam/dbh"

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"-"`
}

type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// ClassCounts is the number of boxes drawn for each class name
type ClassCounts map[string]int

// Job is one uploaded video, and what became of it
type Job struct {
	BaseModel
	PublicID      string                      `json:"id"`                                  // Random UUID, exposed through the API
	InputName     string                      `json:"inputName"`                           // Sanitized upload name
	OutputName    string                      `json:"outputName"`                          // Name in the output store
	Status        JobStatus                   `json:"status"`                              // processing, done, failed
	Error         string                      `json:"error,omitempty" gorm:"default:null"` // Failure message
	Model         string                      `json:"model"`                               // Model path or URL
	Device        string                      `json:"device" gorm:"default:null"`          // cuda, cpu, remote:...
	Width         int                         `json:"width"`
	Height        int                         `json:"height"`
	FPS           float64                     `json:"fps" gorm:"column:fps"`
	FramesRead    int                         `json:"framesRead"`
	FramesWritten int                         `json:"framesWritten"`
	FramesSkipped int                         `json:"framesSkipped"`
	Detections    int                         `json:"detections"`
	HasThumbnail  bool                        `json:"hasThumbnail"`
	ClassCounts   *dbh.JSONField[ClassCounts] `json:"classCounts"`
	CreatedAt     dbh.IntTime                 `json:"createdAt"`
	FinishedAt    dbh.IntTime                 `json:"finishedAt" gorm:"default:null"`
}

func (Job) TableName() string {
	return "job"
}
