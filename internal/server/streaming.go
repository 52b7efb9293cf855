package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cassette/internal/audio"
)

// sniffSize is how much of a file is read to detect its audio format
const sniffSize = 512

// handleServeFile streams a finished download by its handle. Range and
// conditional requests are answered by http.ServeContent.
func (ds *DownloadServer) handleServeFile(w http.ResponseWriter, r *http.Request) {
	handle, err := strconv.ParseInt(chi.URLParam(r, "handle"), 10, 64)
	if err != nil || handle <= 0 {
		ds.respondWithValidationError(w, r, []ValidationError{{
			Field:   "handle",
			Message: "Handle must be a positive integer",
			Code:    "INVALID_HANDLE",
		}})
		return
	}

	path, ok := ds.files.Lookup(handle)
	if !ok {
		ds.respondWithError(w, r, http.StatusNotFound, "File not found", nil)
		return
	}

	file, err := os.Open(path)
	if err != nil {
		ds.respondWithError(w, r, http.StatusNotFound, "File no longer available", err)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		ds.respondWithError(w, r, http.StatusInternalServerError, "Error reading file info", err)
		return
	}

	head := make([]byte, sniffSize)
	n, _ := io.ReadFull(file, head)
	if format := audio.Detect(head[:n]); format != audio.FormatUnknown {
		w.Header().Set("Content-Type", format.ContentType())
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		ds.respondWithError(w, r, http.StatusInternalServerError, "Error reading file", err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", fmt.Sprintf(`"%d-%d"`, stat.ModTime().Unix(), stat.Size()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(path)))

	http.ServeContent(w, r, filepath.Base(path), stat.ModTime(), file)
}
