package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/services/bot"
)

// maxBodyBytes bounds request bodies; callbacks and configuration are small
const maxBodyBytes = 1 << 20

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteServiceError maps controller errors onto status codes
func WriteServiceError(w http.ResponseWriter, err error) error {
	var verr *bot.ValidationError
	switch {
	case errors.Is(err, bot.ErrAlreadyRunning), errors.Is(err, bot.ErrNotRunning), errors.As(err, &verr):
		return WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, interfaces.ErrNotFound):
		return WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, bot.ErrDependencyUnavailable):
		return WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		return WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// DecodeJSON reads a JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func DecodeJSON(r *http.Request, v interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// QueryInt reads an integer query parameter, returning fallback when absent
// or malformed
func QueryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
