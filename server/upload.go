package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyclopcam/vidannotate/pkg/iox"
	"github.com/cyclopcam/vidannotate/pkg/pipeline"
	"github.com/cyclopcam/vidannotate/pkg/storage"
	"github.com/cyclopcam/vidannotate/pkg/videox"
	"github.com/cyclopcam/vidannotate/server/jobdb"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// Width of the preview image stored next to each output
const thumbnailWidth = 640

// upload is a video that has been received and saved to the upload directory
type upload struct {
	ClientName string // Sanitized name that the client gave us
	StoredName string // <8 hex>_<stem><ext>
	Path       string // Full path in the upload directory
}

// uploadRejection is a problem with the request itself, rather than with processing
type uploadRejection struct {
	Category string
	Message  string
}

func (u *uploadRejection) Error() string {
	return u.Message
}

// receiveUpload streams the multipart "file" field into the upload directory
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	maxBytes := s.Config.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1024*1024)
	mr, err := r.MultipartReader()
	if err != nil {
		s.Metrics.Uploads.WithLabelValues("rejected").Inc()
		return nil, &uploadRejection{FlashDanger, "No file part in the request"}
	}
	var part *multipart.Part
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			s.Metrics.Uploads.WithLabelValues("rejected").Inc()
			return nil, &uploadRejection{FlashDanger, "No file part in the request"}
		}
		if p.FormName() == "file" {
			part = p
			break
		}
		p.Close()
	}
	if part == nil {
		s.Metrics.Uploads.WithLabelValues("rejected").Inc()
		return nil, &uploadRejection{FlashDanger, "No file part in the request"}
	}
	defer part.Close()

	rawName := part.FileName()
	if rawName == "" {
		s.Metrics.Uploads.WithLabelValues("rejected").Inc()
		return nil, &uploadRejection{FlashWarning, "No selected file"}
	}
	stem, ext, ok := SplitUploadName(rawName, s.Config.AllowedExtensions)
	if !ok {
		s.Metrics.Uploads.WithLabelValues("rejected").Inc()
		msg := fmt.Sprintf(`Invalid file type for "%v". Allowed types are: %v`, SanitizeFilename(rawName), strings.Join(s.Config.AllowedExtensions, ", "))
		return nil, &uploadRejection{FlashWarning, msg}
	}

	up := &upload{
		ClientName: stem + ext,
		StoredName: UniqueUploadName(stem, ext),
	}
	up.Path = filepath.Join(s.Config.UploadDir, up.StoredName)
	n, err := iox.WriteStreamToFile(up.Path, part, maxBytes)
	var bodyTooLarge *http.MaxBytesError
	if errors.Is(err, iox.ErrTooLarge) || errors.As(err, &bodyTooLarge) {
		s.Metrics.Uploads.WithLabelValues("too_large").Inc()
		return nil, &uploadRejection{FlashDanger, fmt.Sprintf("File is too large. The limit is %v MB", s.Config.MaxUploadMB)}
	} else if err != nil {
		s.Metrics.Uploads.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("Failed to save upload: %w", err)
	}
	s.Metrics.Uploads.WithLabelValues("accepted").Inc()
	s.Metrics.UploadBytes.Add(float64(n))
	s.Log.Infof("Received %v (%.1f MB) as %v", up.ClientName, float64(n)/(1024*1024), up.StoredName)
	return up, nil
}

// annotate runs the pipeline on an upload, and moves the result into the output store.
// The upload is always deleted. On failure, any partial output is deleted too.
// The returned job is recorded in the job DB whether or not err is nil.
func (s *Server) annotate(up *upload) (*jobdb.Job, error) {
	defer os.Remove(up.Path)

	outputName := OutputName(up.StoredName)
	job, err := s.Jobs.Start(up.ClientName, outputName, s.Config.ModelPath)
	if err != nil {
		return nil, err
	}

	queuedAt := time.Now()
	s.runLock.Lock()
	defer s.runLock.Unlock()
	s.Metrics.ObserveQueueWait(time.Since(queuedAt))

	// Write straight into the store if it lives on our filesystem. Otherwise encode to a scratch file and upload it.
	localOutput, err := s.storage.Filename(outputName)
	direct := err == nil
	if !direct {
		localOutput = filepath.Join(s.Config.OutputDir, outputName)
		defer os.Remove(localOutput)
	}

	res, err := s.newDriver().Process(up.Path, localOutput, s.Config.ModelPath)
	if err == nil && !direct {
		err = storage.Upload(s.storage, outputName, localOutput)
		if err != nil {
			s.storage.DeleteFile(outputName)
		}
	}
	if err != nil {
		if direct {
			os.Remove(localOutput)
		}
		res = nil
	} else {
		job.HasThumbnail = s.storeThumbnail(localOutput, outputName)
	}

	s.Metrics.ObserveJob(res, err)
	if dbErr := s.Jobs.Finish(job, res, err); dbErr != nil {
		s.Log.Errorf("Failed to record job %v: %v", job.PublicID, dbErr)
	}
	return job, err
}

// Failure to make a thumbnail is not fatal
func (s *Server) storeThumbnail(localOutput, outputName string) bool {
	at := 0.0
	if d, err := videox.ExtractVideoDuration(localOutput); err == nil {
		at = d.Seconds() / 2
	}
	jpg, err := videox.ExtractFrame(localOutput, at, thumbnailWidth)
	if err == nil {
		err = storage.WriteFile(s.storage, ThumbnailName(outputName), bytes.NewReader(jpg))
	}
	if err != nil {
		s.Log.Warnf("Failed to create thumbnail for %v: %v", outputName, err)
		return false
	}
	return true
}

func (s *Server) httpUpload(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	up, err := s.receiveUpload(w, r)
	if err != nil {
		var rej *uploadRejection
		if errors.As(err, &rej) {
			flashAndRedirect(w, r, rej.Category, rej.Message, "/")
		} else {
			s.Log.Errorf("Upload failed: %v", err)
			flashAndRedirect(w, r, FlashDanger, fmt.Sprintf("An error occurred during upload: %v", err), "/")
		}
		return
	}

	job, err := s.annotate(up)
	if err != nil {
		s.Log.Errorf("Error processing file %v: %v", up.ClientName, err)
		flashAndRedirect(w, r, FlashDanger, fmt.Sprintf("An error occurred during processing: %v", err), "/")
		return
	}

	flashes := takeFlashes(w, r)
	flashes = append(flashes, Flash{FlashSuccess, fmt.Sprintf(`Video processing complete for "%v".`, up.ClientName)})
	s.render(w, "results.html", &pageData{
		Title:        "Results",
		Flashes:      flashes,
		Job:          job,
		HasThumbnail: job.HasThumbnail,
	})
}

// httpApiUpload is the JSON flavour of httpUpload
func (s *Server) httpApiUpload(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	up, err := s.receiveUpload(w, r)
	var rej *uploadRejection
	if errors.As(err, &rej) {
		www.PanicBadRequestf("%v", rej.Message)
	}
	www.Check(err)

	job, err := s.annotate(up)
	if job == nil {
		www.Check(err)
	}
	if err != nil {
		s.Log.Errorf("Error processing file %v: %v", up.ClientName, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(job)
		return
	}
	www.SendJSON(w, job)
}
