package api

// Response is the standard JSON envelope for portal API responses.
// Successful responses carry the payload under "info", failures carry a
// stable error code under "error".
type Response[T any] struct {
	Info  T      `json:"info,omitempty"`
	Error string `json:"error,omitempty"`
}

// ErrorResponse is the envelope used when no payload type is available.
type ErrorResponse struct {
	Error string `json:"error"`
}
