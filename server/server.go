package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vidannotate/pkg/nn"
	"github.com/cyclopcam/vidannotate/pkg/nnload"
	"github.com/cyclopcam/vidannotate/pkg/pipeline"
	"github.com/cyclopcam/vidannotate/pkg/storage"
	"github.com/cyclopcam/vidannotate/server/config"
	"github.com/cyclopcam/vidannotate/server/jobdb"
	"github.com/cyclopcam/vidannotate/server/metrics"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	Log     logs.Log
	Config  *config.Config
	Jobs    *jobdb.JobDB
	Metrics *metrics.Metrics

	// Closed when Shutdown has finished
	ShutdownComplete chan struct{}

	storage    storage.Storage
	templates  *template.Template
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router

	// Only one video is annotated at a time, because they all share the same compute device
	runLock sync.Mutex

	// Creates the pipeline for each upload. Tests replace this.
	newDriver func() *pipeline.Driver

	// Model served at /api/detector/ws, if Config.ServeDetector is true
	sharedDetector nn.ObjectDetector
}

// NewServer opens the job DB and output store, and sets up the HTTP routes.
// cfg must already be validated.
func NewServer(logger logs.Log, cfg *config.Config) (*Server, error) {
	if err := os.MkdirAll(cfg.UploadDir, 0770); err != nil {
		return nil, fmt.Errorf("Failed to create upload directory %v: %w", cfg.UploadDir, err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0770); err != nil {
		return nil, fmt.Errorf("Failed to create output directory %v: %w", cfg.OutputDir, err)
	}

	jobs, err := jobdb.Open(logger, cfg.DB)
	if err != nil {
		return nil, err
	}
	jobs.FailAbandoned()

	// Open blob store
	var store storage.Storage
	if cfg.OutputStorage.GCS != nil {
		// Google Cloud Storage
		gcs := cfg.OutputStorage.GCS
		store, err = storage.NewStorageGCS(logger, gcs.Bucket, gcs.Prefix, gcs.Public)
	} else if cfg.OutputStorage.Filesystem != nil {
		// Filesystem
		store, err = storage.NewStorageFS(logger, cfg.OutputStorage.Filesystem.Root)
	} else {
		err = errors.New("One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')")
	}
	if err != nil {
		jobs.Close()
		return nil, err
	}

	templates, err := parseTemplates()
	if err != nil {
		jobs.Close()
		return nil, err
	}

	loadOptions := nnload.Options{
		DisableCUDA: cfg.DisableCUDA,
		Params:      cfg.DetectionParams,
		CacheDir:    cfg.ModelCache(),
	}
	s := &Server{
		Log:       logger,
		Config:    cfg,
		Jobs:      jobs,
		Metrics:   metrics.NewMetrics(),
		storage:   store,
		templates: templates,

		ShutdownComplete: make(chan struct{}),

		newDriver: func() *pipeline.Driver {
			return pipeline.NewDriver(logger, loadOptions)
		},
	}

	if cfg.ServeDetector {
		det, err := nnload.LoadModel(logger, cfg.ModelPath, loadOptions)
		if err != nil {
			jobs.Close()
			return nil, err
		}
		s.sharedDetector = det
	}

	s.setupHttpRoutes()
	return s, nil
}

// ListenHTTP blocks until the server is shut down.
// If ready is not nil, it is called once the listening socket is open.
func (s *Server) ListenHTTP(ready func()) error {
	s.Log.Infof("Listening on %v", s.Config.Listen)
	ln, err := net.Listen("tcp", s.Config.Listen)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Handler:           s.httpRouter,
		ReadHeaderTimeout: 30 * time.Second,
	}
	if ready != nil {
		ready()
	}
	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	signalIn := make(chan os.Signal, 1)
	s.signalIn = signalIn
	signal.Notify(signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// Shutdown() was called by something other than ourselves, and closed signalIn.
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Shutdown stops accepting requests, waits briefly for in-flight requests, and closes the databases
func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
		s.signalIn = nil
	}
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP shutdown error: %v", err)
		}
	}
	s.Close()
	s.Log.Infof("Shutdown complete")
	close(s.ShutdownComplete)
}

// Close releases the detector and the databases, without touching the HTTP server
func (s *Server) Close() {
	// Wait for any annotation in progress
	s.runLock.Lock()
	defer s.runLock.Unlock()
	if s.sharedDetector != nil {
		s.sharedDetector.Close()
		s.sharedDetector = nil
	}
	if closer, ok := s.storage.(interface{ Close() error }); ok {
		closer.Close()
	}
	s.Jobs.Close()
}
