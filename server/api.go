package server

import (
	"embed"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/cyclopcam/vidannotate/pkg/remotedet"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

//go:embed templates
var templateFS embed.FS

func parseTemplates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	handle := func(method, route string, h httprouter.Handle) {
		www.Handle(s.Log, router, method, route, h)
	}

	// ratelimited creates a handler with its own per-IP limit
	ratelimited := func(method, route string, h httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	uploadLimit := s.Config.RateLimitPerMinute

	handle("GET", "/", s.httpIndex)
	ratelimited("POST", "/", s.httpUpload, uploadLimit, time.Minute)
	ratelimited("POST", "/api/videos", s.httpApiUpload, uploadLimit, time.Minute)
	handle("GET", "/api/jobs", s.httpListJobs)
	handle("GET", "/api/jobs/:id", s.httpGetJob)
	handle("GET", "/api/jobs/:id/thumbnail", s.httpJobThumbnail)
	handle("GET", "/download/:filename", s.httpDownload)
	handle("GET", "/health", s.httpHealth)
	router.Handler("GET", "/metrics", s.Metrics.Handler())

	if s.sharedDetector != nil {
		s.Log.Infof("Serving model %v to remote clients at /api/detector/ws", s.Config.ModelPath)
		router.Handler("GET", "/api/detector/ws", remotedet.NewHandler(s.Log, s.sharedDetector))
	}

	s.httpRouter = router
}

func (s *Server) httpHealth(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	www.SendOK(w)
}

type pageData struct {
	Title        string
	Flashes      []Flash
	Allowed      string
	Accept       string
	Job          any
	HasThumbnail bool
}

func (s *Server) render(w http.ResponseWriter, name string, data *pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	www.CacheNever(w)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.Log.Errorf("Rendering %v: %v", name, err)
	}
}

func (s *Server) httpIndex(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	accept := []string{}
	for _, ext := range s.Config.AllowedExtensions {
		accept = append(accept, "."+ext)
	}
	s.render(w, "index.html", &pageData{
		Title:   "Video Object Detection",
		Flashes: takeFlashes(w, r),
		Allowed: strings.Join(s.Config.AllowedExtensions, ", "),
		Accept:  strings.Join(accept, ","),
	})
}
