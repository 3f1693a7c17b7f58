package apperror

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// Write renders err as {"error":{"code","message","trace_id?"}} with its mapped status.
func Write(w http.ResponseWriter, err error) {
	e := As(err)
	if e == nil {
		e = Internal(nil)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(e.Status())
	_ = json.NewEncoder(w).Encode(errorResponse{Error: errorBody{
		Code:    e.Code,
		Message: e.Message,
		TraceID: e.TraceID,
	}})
}
