package capture

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/curatrack/curatrack/internal/item"
	"github.com/curatrack/curatrack/internal/ocr"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeServiceError maps service errors onto HTTP statuses
func writeServiceError(w http.ResponseWriter, err error) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")

	var ve *item.ValidationError
	var re *ocr.RecognitionError
	switch {
	case errors.As(err, &ve):
		w.WriteHeader(http.StatusBadRequest)
	case errors.As(err, &re):
		w.WriteHeader(http.StatusUnprocessableEntity)
	case errors.Is(err, item.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, item.ErrDuplicate):
		w.WriteHeader(http.StatusConflict)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// editRequest is the JSON body for confirm/edit operations
type editRequest struct {
	Title      *string `json:"title,omitempty"`
	ExpiryDate *string `json:"expiry_date,omitempty"` // YYYY-MM-DD
	LeadDays   *int    `json:"lead_days,omitempty"`
}

func (r *editRequest) overrides() (item.Overrides, error) {
	o := item.Overrides{Title: r.Title}
	if r.ExpiryDate != nil {
		d, err := time.ParseInLocation("2006-01-02", *r.ExpiryDate, time.Local)
		if err != nil {
			return o, &item.ValidationError{Field: "expiryDate", Reason: "must be YYYY-MM-DD"}
		}
		o.ExpiryDate = &d
	}
	return o, nil
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleScan handles a label image upload
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	// 50MB covers high-resolution phone photos
	maxFormSize := int64(50 << 20)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errorMsg})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if err.Error() == "http: no such file" {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errorMsg})
		return
	}
	defer f.Close()

	if header.Size > maxFormSize {
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "File is too large. Maximum size is 50MB. Please compress or resize your image.",
		})
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		setCORSHeaders(w)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Error reading file. Please try again.",
		})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		ext := strings.ToLower(filepath.Ext(header.Filename))
		switch ext {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		default:
			contentType = "application/octet-stream"
		}
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	result, err := s.service.ScanLabel(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error scanning label", "filename", header.Filename, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleListItems returns a list of all items
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListItems()
	if err != nil {
		slog.Error("Error listing items", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, items)
}

// handleGetItem returns a single item
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}
	it, err := s.service.GetItem(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, it)
}

// handleConfirmItem confirms a draft and schedules its reminder
func (s *Server) handleConfirmItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}

	var req editRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			corsError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	overrides, err := req.overrides()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	leadDays := -1 // preference default
	if req.LeadDays != nil {
		leadDays = *req.LeadDays
	}

	confirmed, err := s.service.ConfirmItem(id, overrides, leadDays)
	if err != nil {
		slog.Error("Error confirming item", "item_id", id, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, confirmed)
}

// handleEditItem applies user edits to an item
func (s *Server) handleEditItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	overrides, err := req.overrides()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	updated, err := s.service.EditItem(id, overrides)
	if err != nil {
		slog.Error("Error editing item", "item_id", id, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// handleDismissItem archives an item
func (s *Server) handleDismissItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}
	archived, err := s.service.DismissItem(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, archived)
}

// handleDeleteItem deletes an item
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteItem(id); err != nil {
		slog.Error("Error deleting item", "item_id", id, "error", err)
		corsError(w, "Error deleting item", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleUpcoming returns active items expiring soon
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			corsError(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = parsed
	}

	items, err := s.service.Upcoming(days)
	if err != nil {
		slog.Error("Error querying upcoming items", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, items)
}

// handleReExtract re-runs extraction over an item's stored scan text
func (s *Server) handleReExtract(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}
	result, err := s.service.ReExtract(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetItemImage returns the stored scan image for an item
func (s *Server) handleGetItemImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}
	data, err := s.service.GetItemImage(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}
