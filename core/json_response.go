package core

import (
	"encoding/json"
	"net/http"
)

// Response renders itself onto an http.ResponseWriter.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// JSONResponse is the standard JSON envelope.
type JSONResponse struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail carries error information for clients.
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type jsonResponse struct {
	status int
	body   JSONResponse
}

func (j jsonResponse) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSON creates a successful JSON response.
func JSON(data any) Response {
	return JSONWithStatus(http.StatusOK, data)
}

// JSONWithStatus creates a successful JSON response with a custom
// status code.
func JSONWithStatus(status int, data any) Response {
	return jsonResponse{
		status: status,
		body:   JSONResponse{Success: true, Data: data},
	}
}

// JSONError creates a JSON error response. HTTPError values map onto
// their status code; anything else is an internal error.
func JSONError(err error) Response {
	status := http.StatusInternalServerError
	key := "internal_error"

	if httpErr, ok := err.(HTTPError); ok {
		status = httpErr.Code
		key = httpErr.Key
	}

	return jsonResponse{
		status: status,
		body: JSONResponse{
			Success: false,
			Error:   &ErrorDetail{Code: key, Message: err.Error()},
		},
	}
}

// JSONErrorMessage creates a JSON error response with an explicit
// human-readable message alongside the error key.
func JSONErrorMessage(httpErr HTTPError, message string) Response {
	return jsonResponse{
		status: httpErr.Code,
		body: JSONResponse{
			Success: false,
			Error:   &ErrorDetail{Code: httpErr.Key, Message: message},
		},
	}
}
