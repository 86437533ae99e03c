package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/cyclopcam/vidannotate/server/jobdb"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpListJobs(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	jobs, err := s.Jobs.List(www.QueryInt(r, "limit"))
	www.Check(err)
	www.CacheNever(w)
	www.SendJSON(w, jobs)
}

func (s *Server) getJobOrPanic(id string) *jobdb.Job {
	job, err := s.Jobs.Get(id)
	if errors.Is(err, jobdb.ErrNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
	return job
}

func (s *Server) httpGetJob(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	job := s.getJobOrPanic(params.ByName("id"))
	www.CacheNever(w)
	www.SendJSON(w, job)
}

func (s *Server) httpJobThumbnail(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	job := s.getJobOrPanic(params.ByName("id"))
	if !job.HasThumbnail {
		www.PanicNotFound()
	}
	file, err := s.storage.ReadFile(ThumbnailName(job.OutputName))
	www.Check(err)
	defer file.Reader.Close()
	w.Header().Set("Content-Type", "image/jpeg")
	io.Copy(w, file.Reader)
}
