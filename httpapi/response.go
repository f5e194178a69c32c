package httpapi

import (
	"encoding/json"
	"net/http"

	"xdao.co/escrowsync/model"
)

type successResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

type errorPayload struct {
	Code      model.ErrorCode `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"requestId,omitempty"`
}

type errorResponse struct {
	Status string       `json:"status"`
	Error  errorPayload `json:"error"`
	// Data carries the session view when a write was confirmed but the
	// follow-up read failed.
	Data any `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successResponse{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, err error, data any) {
	coded := model.MapError(err)
	writeJSON(w, statusFor(coded.Code), errorResponse{
		Status: "error",
		Error:  errorPayload{Code: coded.Code, Message: coded.Message, RequestID: requestIDFromContext(r.Context())},
		Data:   data,
	})
}

func statusFor(code model.ErrorCode) int {
	switch code {
	case model.ErrInvalidRequest, model.ErrInvalidCID:
		return http.StatusBadRequest
	case model.ErrNotPermitted:
		return http.StatusForbidden
	case model.ErrNotFound:
		return http.StatusNotFound
	case model.ErrInFlight:
		return http.StatusConflict
	case model.ErrReverted:
		return http.StatusUnprocessableEntity
	case model.ErrStaleSnapshot:
		return http.StatusAccepted
	case model.ErrSubmitFailed, model.ErrProjectionFailed, model.ErrUploadFailed, model.ErrCIDMismatch:
		return http.StatusBadGateway
	case model.ErrNotConfigured:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
