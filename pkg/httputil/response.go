package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/orchestrator"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error       string                   `json:"error"`
	VirtualPath string                   `json:"virtual_path,omitempty"`
	Line        int                      `json:"line,omitempty"`
	Diagnostics []compilation.Diagnostic `json:"diagnostics,omitempty"`
	Errors      []string                 `json:"errors,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteNotFoundError writes a not found error response (404 Not Found)
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteServiceUnavailable writes a service unavailable error (503)
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusServiceUnavailable, message)
}

// WriteError writes err with the status StatusForError picks. Compile and
// parse errors carry their location and diagnostics.
func WriteError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var ce *compilation.CompileError
	var pe *compilation.ParseError
	var list *compilation.ErrorList
	switch {
	case errors.As(err, &list):
		for _, e := range list.Errors() {
			resp.Errors = append(resp.Errors, e.Error())
		}
	case errors.As(err, &ce):
		resp.VirtualPath = ce.VirtualPath
		resp.Diagnostics = ce.Diagnostics
	case errors.As(err, &pe):
		resp.VirtualPath = pe.VirtualPath
		resp.Line = pe.Line
	}
	_ = WriteJSON(w, StatusForError(err), resp)
}

// StatusForError maps build errors to HTTP status codes
func StatusForError(err error) int {
	var ce *compilation.CompileError
	var pe *compilation.ParseError
	var cre *compilation.CircularReferenceError
	var list *compilation.ErrorList
	switch {
	case errors.Is(err, compilation.ErrNotFound), errors.Is(err, orchestrator.ErrNotPrecompiled):
		return http.StatusNotFound
	case errors.As(err, &cre), errors.Is(err, orchestrator.ErrMixedLanguages):
		return http.StatusConflict
	case errors.As(err, &ce), errors.As(err, &pe), errors.As(err, &list):
		return http.StatusUnprocessableEntity
	case errors.Is(err, compilation.ErrOutputLocked):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
