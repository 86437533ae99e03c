package jobdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vidannotate/pkg/logx"
	"github.com/cyclopcam/vidannotate/pkg/pipeline"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("Job not found")

// JobDB records every annotation run that the server performs
type JobDB struct {
	log logs.Log
	db  *gorm.DB
}

// Open or create the job DB
func Open(logger logs.Log, cfg dbh.DBConfig) (*JobDB, error) {
	logger = logx.NewPrefixLogger(logger, "JobDB:")
	if cfg.Driver == dbh.DriverSqlite {
		os.MkdirAll(filepath.Dir(cfg.Database), 0770)
	}
	logger.Infof("Opening %v", cfg.LogSafeDescription())
	db, err := dbh.OpenDB(logger, cfg, Migrations(logger, cfg.Driver), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open job database: %w", err)
	}
	return &JobDB{
		log: logger,
		db:  db,
	}, nil
}

func (j *JobDB) Close() {
	if sqlDB, err := j.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// Start inserts a new job in the 'processing' state
func (j *JobDB) Start(inputName, outputName, model string) (*Job, error) {
	job := &Job{
		PublicID:   uuid.NewString(),
		InputName:  inputName,
		OutputName: outputName,
		Status:     JobStatusProcessing,
		Model:      model,
		CreatedAt:  dbh.MakeIntTime(time.Now()),
	}
	if err := j.db.Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// Finish records the outcome of a job. res may be nil when procErr is not nil.
func (j *JobDB) Finish(job *Job, res *pipeline.Result, procErr error) error {
	job.FinishedAt = dbh.MakeIntTime(time.Now())
	if procErr != nil {
		job.Status = JobStatusFailed
		job.Error = procErr.Error()
	} else {
		job.Status = JobStatusDone
		job.Error = ""
	}
	if res != nil {
		job.Device = res.Device
		job.Width = res.Info.Width
		job.Height = res.Info.Height
		job.FPS = res.FrameRate.Float()
		job.FramesRead = res.FramesRead
		job.FramesWritten = res.FramesWritten
		job.FramesSkipped = res.FramesSkipped
		job.Detections = res.Detections
		job.ClassCounts = &dbh.JSONField[ClassCounts]{Data: ClassCounts(res.ClassCounts)}
	}
	return j.db.Save(job).Error
}

// Get returns the job with the given public ID
func (j *JobDB) Get(publicID string) (*Job, error) {
	job := Job{}
	err := j.db.Where("public_id = ?", publicID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, publicID)
	} else if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetByOutput returns the most recent job that produced the named output
func (j *JobDB) GetByOutput(outputName string) (*Job, error) {
	job := Job{}
	err := j.db.Where("output_name = ?", outputName).Order("id DESC").First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, outputName)
	} else if err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns the most recent jobs, newest first
func (j *JobDB) List(limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	jobs := []Job{}
	if err := j.db.Order("id DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// FailAbandoned marks jobs that were still processing when the server last stopped
func (j *JobDB) FailAbandoned() (int64, error) {
	r := j.db.Model(&Job{}).Where("status = ?", JobStatusProcessing).Updates(map[string]any{
		"status":      JobStatusFailed,
		"error":       "Server stopped while processing",
		"finished_at": dbh.MakeIntTime(time.Now()),
	})
	if r.RowsAffected != 0 {
		j.log.Warnf("Marked %v abandoned jobs as failed", r.RowsAffected)
	}
	return r.RowsAffected, r.Error
}
