package server

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Names that Windows reserves for devices. We prefix these with an underscore.
var windowsDeviceNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true, "COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true, "LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// Used when an upload's name has no usable characters left after sanitizing
const defaultStem = "video"

// Extension given to outputs whose input had none
const defaultOutputExt = ".mp4"

// SanitizeFilename reduces a client-supplied name to a safe, flat, ASCII filename.
// Non-ASCII characters are decomposed and dropped, path separators and whitespace
// become underscores, and anything outside [A-Za-z0-9_.-] is removed.
// The result may be empty.
func SanitizeFilename(name string) string {
	decomposed := norm.NFKD.String(name)
	ascii := strings.Builder{}
	for _, r := range decomposed {
		if r < unicode.MaxASCII {
			ascii.WriteRune(r)
		}
	}
	s := strings.NewReplacer("/", " ", `\`, " ").Replace(ascii.String())
	s = strings.Join(strings.Fields(s), "_")
	s = unsafeFilenameChars.ReplaceAllString(s, "")
	s = strings.Trim(s, "._")
	if windowsDeviceNames[strings.ToUpper(strings.SplitN(s, ".", 2)[0])] {
		s = "_" + s
	}
	return s
}

// SplitUploadName validates the raw client filename against allowed (lowercase, no dots),
// and returns the sanitized stem and the lowercase extension (with dot).
// ok is false if the extension is not allowed.
func SplitUploadName(raw string, allowed []string) (stem, ext string, ok bool) {
	raw = strings.TrimSpace(raw)
	// Browsers on Windows sometimes send the full path
	if i := strings.LastIndexAny(raw, `/\`); i >= 0 {
		raw = raw[i+1:]
	}
	dot := strings.LastIndexByte(raw, '.')
	if dot < 0 {
		return "", "", false
	}
	e := strings.ToLower(raw[dot+1:])
	found := false
	for _, a := range allowed {
		if e == a {
			found = true
			break
		}
	}
	if !found {
		return "", "", false
	}
	stem = SanitizeFilename(raw[:dot])
	if stem == "" {
		stem = defaultStem
	}
	return stem, "." + e, true
}

// UniqueUploadName builds "<8 hex>_<stem><ext>"
func UniqueUploadName(stem, ext string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return id + "_" + stem + ext
}

// OutputName is the name of the annotated video in the output store
func OutputName(uploadName string) string {
	if filepath.Ext(uploadName) == "" {
		uploadName += defaultOutputExt
	}
	return "processed_" + uploadName
}

// ThumbnailName is the name of the preview image of an output video
func ThumbnailName(outputName string) string {
	return strings.TrimSuffix(outputName, filepath.Ext(outputName)) + ".jpg"
}
