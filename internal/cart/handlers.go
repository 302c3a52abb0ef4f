package cart

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zombor/smartkart/internal/capture"
	"github.com/zombor/smartkart/internal/scanning"
	"github.com/zombor/smartkart/internal/speech"
)

// maxFrameSize bounds uploaded frames; phone photos are rarely above 20MB
const maxFrameSize = int64(20 << 20)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes a JSON {"error": ...} body with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// handleIndex serves the status page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleGetSession returns a snapshot of the session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// handleAction runs a named action against the session
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	action, err := ParseAction(r.PathValue("action"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err := s.session.Do(action); err != nil {
		slog.Error("Error running action", "action", action, "error", err)
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// handleSubmitBarcode resolves a trusted barcode and hands it to the session
func (s *Server) handleSubmitBarcode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Barcode string `json:"barcode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	barcode := strings.TrimSpace(req.Barcode)
	if barcode == "" {
		jsonError(w, "Barcode required", http.StatusBadRequest)
		return
	}

	p, err := s.resolver.Resolve(r.Context(), barcode)
	if err != nil {
		slog.Error("Error resolving barcode", "barcode", barcode, "error", err)
	}
	s.session.OnScanResult(barcode, p, err)
	writeJSON(w, http.StatusAccepted, s.session.Snapshot())
}

// handleUploadFrame enqueues a camera frame for the capture loop
func (s *Server) handleUploadFrame(w http.ResponseWriter, r *http.Request) {
	if s.frames == nil {
		jsonError(w, "Frame upload is not enabled", http.StatusServiceUnavailable)
		return
	}

	if err := r.ParseMultipartForm(maxFrameSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading uploaded frame", "error", err)
		jsonError(w, "Error reading file", http.StatusInternalServerError)
		return
	}
	if len(data) == 0 {
		jsonError(w, "File is empty", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	err = s.frames.Push(scanning.Frame{Data: data, ContentType: contentType})
	switch {
	case errors.Is(err, capture.ErrQueueFull):
		jsonError(w, "Frame queue is full", http.StatusServiceUnavailable)
		return
	case err != nil:
		slog.Error("Error queueing frame", "error", err)
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleListRecords returns every history record
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.recorder.ListRecords()
	if err != nil {
		slog.Error("Error listing records", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetRecord returns a single history record
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := s.recorder.GetRecord(r.PathValue("id"))
	if err != nil {
		corsError(w, "Record not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleGetRecordFile returns the JSON file written for a record
func (s *Server) handleGetRecordFile(w http.ResponseWriter, r *http.Request) {
	data, record, err := s.recorder.GetRecordFile(r.PathValue("id"))
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+record.Filename+`"`)
	w.Write(data)
}

// handleDeleteRecord deletes a history record and its file
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	err := s.recorder.DeleteRecord(r.PathValue("id"))
	switch {
	case errors.Is(err, ErrRecordNotFound):
		corsError(w, "Record not found", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("Error deleting record", "error", err)
		corsError(w, "Error deleting record", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListProducts returns every tracked product
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.recorder.ListTrackedProducts()
	if err != nil {
		slog.Error("Error listing products", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// handleListAnnouncements returns recent announcements, ?limit=n
func (s *Server) handleListAnnouncements(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	utterances := []speech.Utterance{}
	if s.transcript != nil {
		utterances = append(utterances, s.transcript.Recent(limit)...)
	}
	writeJSON(w, http.StatusOK, utterances)
}

// handleStopAnnouncements cuts off the current announcement and drops the queue
func (s *Server) handleStopAnnouncements(w http.ResponseWriter, r *http.Request) {
	if s.transcript != nil {
		s.transcript.Stop()
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}
