package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/mercybot/mercybot/internal/document"
	"github.com/mercybot/mercybot/pkg/logger"
)

const (
	uploadField = "pdfFile"
	// multipart framing on top of the file itself
	multipartOverhead = 1 << 20
	multipartMemory   = 4 << 20
)

// UploadHandler handles PDF uploads. It is stateless: nothing is stored.
type UploadHandler struct {
	bridge *document.Bridge
	logger *logger.Logger
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(bridge *document.Bridge, log *logger.Logger) *UploadHandler {
	return &UploadHandler{
		bridge: bridge,
		logger: log,
	}
}

type uploadError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Status handles GET /upload-pdf
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "PDF upload endpoint is working",
	})
}

// Upload handles POST /upload-pdf
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.bridge.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusBadRequest, uploadError{Error: "file too large", Details: document.ErrTooLarge.Error()})
			return
		}
		writeError(w, http.StatusBadRequest, "no PDF file uploaded")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no PDF file uploaded")
		return
	}
	defer file.Close()

	// one byte past the ceiling is enough for the bridge to reject it
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		h.logger.Error("read upload", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, uploadError{Error: "Failed to process PDF", Details: err.Error()})
		return
	}

	text, err := h.bridge.ExtractText(r.Context(), data, contentType(header, data))
	if err != nil {
		var extErr *document.ExtractionError
		switch {
		case errors.Is(err, document.ErrUnsupportedFormat):
			writeJSON(w, http.StatusBadRequest, uploadError{Error: "only PDF files are allowed"})
		case errors.Is(err, document.ErrTooLarge):
			writeJSON(w, http.StatusBadRequest, uploadError{Error: "file too large", Details: err.Error()})
		case errors.As(err, &extErr):
			h.logger.Warn("pdf extraction failed", zap.String("filename", header.Filename), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, uploadError{Error: "Failed to process PDF", Details: extErr.Cause.Error()})
		default:
			handleError(w, r, h.logger, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"text":    text,
		"message": "PDF processed successfully",
	})
}

// contentType returns the declared part type, sniffing the bytes when the
// client sent none.
func contentType(header *multipart.FileHeader, data []byte) string {
	ct := header.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		return http.DetectContentType(data)
	}
	return ct
}
