// Package handler exposes the import pipeline as a JSON HTTP API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/service"
	"github.com/FACorreiaa/smart-expense-tracker/pkg/interceptors"
)

// multipartOverhead is allowed on top of the file size limit for form
// boundaries and part headers.
const multipartOverhead = 64 << 10

var (
	errUnauthenticated = errors.New("unauthenticated")
	errBadRequest      = errors.New("bad request")
)

// ImportHandler handles the import HTTP routes
type ImportHandler struct {
	importSvc      *importservice.ImportService
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewImportHandler creates a new import handler
func NewImportHandler(importSvc *importservice.ImportService, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{
		importSvc:      importSvc,
		logger:         logger,
		maxUploadBytes: importservice.DefaultConfig().MaxUploadBytes,
	}
}

// WithMaxUploadBytes caps how much of an upload body is read.
func (h *ImportHandler) WithMaxUploadBytes(n int64) *ImportHandler {
	h.maxUploadBytes = n
	return h
}

// Routes returns the import routes, to be mounted under /api/v1/imports.
func (h *ImportHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/sessions", h.CreateSession)
	r.Get("/sessions/active", h.GetActiveSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/cancel", h.CancelSession)
		r.Put("/mapping", h.SaveMapping)
		r.Get("/rows", h.GetParsedRows)
		r.Patch("/rows/{rowIndex}", h.UpdateRow)
		r.Post("/rows/{rowIndex}/skip", h.SkipRow)
		r.Post("/confirm", h.ConfirmImport)
	})
	r.Post("/upload", h.UploadCSV)
	r.Get("/history", h.ListImportHistory)
	r.Get("/history.csv", h.ExportHistoryCSV)

	return r
}

// ============================================================================
// Sessions
// ============================================================================

func (h *ImportHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	session, err := h.importSvc.CreateSession(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *ImportHandler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	session, err := h.importSvc.GetActiveSession(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if session == nil {
		h.writeError(w, r, importservice.ErrSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ImportHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionParams(w, r)
	if !ok {
		return
	}

	session, err := h.importSvc.GetSession(r.Context(), sessionID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if session == nil {
		h.writeError(w, r, importservice.ErrSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ImportHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionParams(w, r)
	if !ok {
		return
	}

	cancelled, err := h.importSvc.CancelSession(r.Context(), sessionID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// ============================================================================
// Upload and mapping
// ============================================================================

// UploadCSV accepts either a multipart form with a "file" part or the raw
// CSV as the request body with the name in ?fileName=.
func (h *ImportHandler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	fileName, data, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.importSvc.UploadCSV(r.Context(), userID, fileName, string(data))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ImportHandler) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	limit := h.maxUploadBytes
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}

	var (
		fileName string
		body     io.Reader
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			if isTooLarge(err) {
				return "", nil, importservice.ErrFileTooLarge
			}
			return "", nil, fmt.Errorf("%w: missing file part", errBadRequest)
		}
		defer file.Close()
		fileName, body = header.Filename, file
	} else {
		fileName, body = r.URL.Query().Get("fileName"), r.Body
	}
	if fileName == "" {
		fileName = "upload.csv"
	}

	if limit > 0 {
		body = io.LimitReader(body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		if isTooLarge(err) {
			return "", nil, importservice.ErrFileTooLarge
		}
		return "", nil, fmt.Errorf("%w: failed to read upload", errBadRequest)
	}
	return fileName, data, nil
}

func (h *ImportHandler) SaveMapping(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionParams(w, r)
	if !ok {
		return
	}

	var mapping repository.ColumnMapping
	if err := decodeJSON(r, &mapping); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.importSvc.SaveMapping(r.Context(), sessionID, userID, mapping)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ============================================================================
// Rows
// ============================================================================

func (h *ImportHandler) GetParsedRows(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionParams(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.importSvc.GetParsedRows(r.Context(), sessionID, userID))
}

func (h *ImportHandler) UpdateRow(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionParams(w, r)
	if !ok {
		return
	}
	rowIndex, err := strconv.Atoi(chi.URLParam(r, "rowIndex"))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid row index", errBadRequest))
		return
	}

	var update importservice.RowUpdate
	if err := decodeJSON(r, &update); err != nil {
		h.writeError(w, r, err)
		return
	}

	row, err := h.importSvc.UpdateRow(r.Context(), sessionID, userID, rowIndex, update)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

type skipRequest struct {
	Skip bool `json:"skip"`
}

func (h *ImportHandler) SkipRow(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionParams(w, r)
	if !ok {
		return
	}
	rowIndex, err := strconv.Atoi(chi.URLParam(r, "rowIndex"))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid row index", errBadRequest))
		return
	}

	var req skipRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	row, err := h.importSvc.SkipRow(r.Context(), sessionID, userID, rowIndex, req.Skip)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// ============================================================================
// Confirm and history
// ============================================================================

func (h *ImportHandler) ConfirmImport(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionParams(w, r)
	if !ok {
		return
	}

	result, err := h.importSvc.ConfirmImport(r.Context(), sessionID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ImportHandler) ListImportHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	history, err := h.importSvc.ListImportHistory(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *ImportHandler) ExportHistoryCSV(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="import-history.csv"`)
	if err := h.importSvc.ExportHistoryCSV(r.Context(), userID, w); err != nil {
		// Headers may already be sent; log only.
		h.logger.Error("failed to export import history", "userID", userID, "error", err)
	}
}

// ============================================================================
// Helpers
// ============================================================================

func (h *ImportHandler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := interceptors.GetUserIDFromContext(r.Context())
	if !ok || userIDStr == "" {
		h.writeError(w, r, errUnauthenticated)
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		h.writeError(w, r, errUnauthenticated)
		return uuid.Nil, false
	}
	return userID, true
}

func (h *ImportHandler) sessionParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := h.userID(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, importservice.ErrSessionNotFound)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, sessionID, true
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, errBadRequest),
		errors.Is(err, importservice.ErrInvalidCSV),
		errors.Is(err, importservice.ErrInvalidMapping):
		return http.StatusBadRequest
	case errors.Is(err, importservice.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, importservice.ErrSessionNotFound),
		errors.Is(err, importservice.ErrRowNotFound):
		return http.StatusNotFound
	case errors.Is(err, importservice.ErrNoCSVData),
		errors.Is(err, importservice.ErrNoParsedRows),
		errors.Is(err, importservice.ErrNotInPreview),
		errors.Is(err, importservice.ErrNoValidRows),
		errors.Is(err, importservice.ErrSessionClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *ImportHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("import request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json body", errBadRequest)
	}
	return nil
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
