package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temporary files, which ParseMultipartForm removes.
const multipartMemory = 32 << 20

type uploadedFile struct {
	name     string
	mimeType string
	data     []byte
}

// readUpload reads the "file" part of a multipart request. On failure it
// returns the HTTP status to report.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (uploadedFile, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return uploadedFile{}, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", maxBytes)
		}
		return uploadedFile{}, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return uploadedFile{}, http.StatusBadRequest, errors.New("file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return uploadedFile{}, http.StatusBadRequest, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return uploadedFile{}, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", maxBytes)
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(header.Filename)); byExt != "" {
			mimeType = byExt
		}
	}

	return uploadedFile{
		name:     filepath.Base(header.Filename),
		mimeType: mimeType,
		data:     data,
	}, http.StatusOK, nil
}
