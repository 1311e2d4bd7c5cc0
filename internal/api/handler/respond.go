package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/procurement-approvals/internal/domain"
)

// errorBody: единый формат отказа: вид ошибки и человекочитаемое сообщение.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var statusByKind = map[string]int{
	"NotAuthorized":              http.StatusForbidden,
	"UnknownRole":                http.StatusForbidden,
	"MissingRequiredComment":     http.StatusUnprocessableEntity,
	"MissingRevisionAreas":       http.StatusUnprocessableEntity,
	"UnknownFlag":                http.StatusUnprocessableEntity,
	"InvalidAction":              http.StatusUnprocessableEntity,
	"InvalidDefinition":          http.StatusUnprocessableEntity,
	"StaleTransition":            http.StatusConflict,
	"AlreadySubmitted":           http.StatusConflict,
	"TerminalState":              http.StatusConflict,
	"NotInReview":                http.StatusConflict,
	"NotFound":                   http.StatusNotFound,
	"UnknownDocumentType":        http.StatusNotFound,
	"AttachmentNotFound":         http.StatusNotFound,
	"AttachmentStoreUnavailable": http.StatusServiceUnavailable,
}

// StatusFor сопоставляет вид ошибки и HTTP-код. Неклассифицированное уходит в 500.
func StatusFor(err error) (int, string) {
	kind := domain.ErrorKind(err)
	if code, ok := statusByKind[kind]; ok {
		return code, kind
	}
	return http.StatusInternalServerError, kind
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code, kind := StatusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		// детали внутренних отказов остаются в логе сервиса
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: kind, Message: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "BadRequest", Message: msg})
}

// decode читает JSON-тело. Слишком большое тело дает 413.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "BadRequest", Message: "request body too large"})
			return false
		}
		badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
