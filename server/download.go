package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cyclopcam/vidannotate/pkg/storage"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// httpDownload sends an annotated video as an attachment.
// Bad or missing names never produce an error page. The user is sent back to the upload form with a message.
func (s *Server) httpDownload(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	name := params.ByName("filename")
	if SanitizeFilename(name) != name || storage.ValidateName(name) != nil {
		flashAndRedirect(w, r, FlashDanger, "Invalid filename.", "/")
		return
	}

	if url, err := s.storage.URL(name); err == nil {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	file, err := s.storage.ReadFile(name)
	if errors.Is(err, storage.ErrNotFound) {
		msg := fmt.Sprintf("File not found: %v", name)
		if job, jobErr := s.Jobs.GetByOutput(name); jobErr == nil {
			// We made this file, but somebody has removed it from the output store since
			s.Log.Warnf("Output %v of job %v is missing from storage", name, job.PublicID)
			msg += ". It is no longer available."
		}
		flashAndRedirect(w, r, FlashDanger, msg, "/")
		return
	}
	www.Check(err)
	defer file.Reader.Close()

	w.Header().Set("Content-Type", storage.ContentType(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%v"`, name))
	if seeker, ok := file.Reader.(io.ReadSeeker); ok {
		http.ServeContent(w, r, name, file.ModifiedAt, seeker)
	} else {
		w.Header().Set("Content-Length", fmt.Sprintf("%v", file.Size))
		io.Copy(w, file.Reader)
	}
}
