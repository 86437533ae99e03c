package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"unicode/utf8"
)

const flashCookie = "vidannotate-flash"

// Browsers drop cookies larger than 4096 bytes, so long messages (eg ffmpeg's stderr) are
// cut short. The full text is in the log and the job record.
const (
	maxFlashMessage = 300  // bytes
	maxFlashCookie  = 3800 // bytes of encoded cookie value
)

// Flash categories
const (
	FlashDanger  = "danger"
	FlashWarning = "warning"
	FlashInfo    = "info"
	FlashSuccess = "success"
)

// Flash is a one-shot message shown on the next page that the user sees
type Flash struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// addFlash appends a message to the flash cookie.
// Messages already queued in this response, or in the request's cookie, are kept.
func addFlash(w http.ResponseWriter, r *http.Request, category, message string) {
	all := readFlashes(r)
	for _, c := range w.Header().Values("Set-Cookie") {
		if parsed, err := http.ParseSetCookie(c); err == nil && parsed.Name == flashCookie {
			all = decodeFlashes(parsed.Value)
		}
	}
	all = append(all, Flash{Category: category, Message: truncateFlash(message)})
	raw, _ := json.Marshal(all)
	for len(all) > 1 && base64.RawURLEncoding.EncodedLen(len(raw)) > maxFlashCookie {
		all = all[1:]
		raw, _ = json.Marshal(all)
	}
	// Replace, rather than append to, any cookie that we already set
	w.Header().Del("Set-Cookie")
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    base64.RawURLEncoding.EncodeToString(raw),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeFlashes returns the pending messages and clears the cookie
func takeFlashes(w http.ResponseWriter, r *http.Request) []Flash {
	all := readFlashes(r)
	if len(all) != 0 {
		http.SetCookie(w, &http.Cookie{
			Name:   flashCookie,
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})
	}
	return all
}

func readFlashes(r *http.Request) []Flash {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return nil
	}
	return decodeFlashes(c.Value)
}

func decodeFlashes(value string) []Flash {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil
	}
	all := []Flash{}
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil
	}
	return all
}

// flashAndRedirect is the standard response to a rejected form submission
func flashAndRedirect(w http.ResponseWriter, r *http.Request, category, message, target string) {
	addFlash(w, r, category, message)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func truncateFlash(msg string) string {
	if len(msg) <= maxFlashMessage {
		return msg
	}
	cut := maxFlashMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + "..."
}
