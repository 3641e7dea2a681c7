package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/altivon/vpn-portal/pkg/api"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteInfo writes a successful response in the {"info": ...} envelope.
func WriteInfo[T any](w http.ResponseWriter, data T) error {
	return WriteJSON(w, http.StatusOK, api.Response[T]{Info: data})
}

// WriteErrorResponse logs the error and translates DomainErrors into the
// {"error": ...} envelope with the matching HTTP status. Backend detail
// (LDAP, RADIUS, SQL error strings) never reaches the client; the cause
// chain is log-only.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	logger := GetLogger(ctx)

	statusCode := http.StatusInternalServerError
	message := "internal error"

	if domainErr, ok := err.(apperrors.DomainError); ok {
		statusCode, message = mapErrorCodeToHTTP(domainErr)
	}

	if statusCode >= http.StatusInternalServerError {
		logger.ErrorCtx(ctx, "request failed", err)
	} else {
		logger.WarnContext(ctx, "request rejected", "error", err.Error(), "status", statusCode)
	}

	_ = WriteJSON(w, statusCode, api.ErrorResponse{Error: message})
}

// mapErrorCodeToHTTP maps domain error codes to HTTP status codes and
// client-safe messages.
func mapErrorCodeToHTTP(err apperrors.DomainError) (int, string) {
	switch err.Code() {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest, clientMessage(err)

	case apperrors.ErrCodeAuthFailed:
		// Always generic; never reveal which part of the credential failed.
		return http.StatusUnauthorized, "invalid credentials"
	case apperrors.ErrCodeTokenInvalid, apperrors.ErrCodeTokenExpired:
		return http.StatusUnauthorized, "invalid token"

	case apperrors.ErrCodeNotMember, apperrors.ErrCodeUserDisabled,
		apperrors.ErrCodeCapacityDisabled:
		return http.StatusForbidden, clientMessage(err)

	case apperrors.ErrCodeProfileNotFound, apperrors.ErrCodeConnectionNotFound:
		return http.StatusNotFound, clientMessage(err)

	case apperrors.ErrCodeProtocolNegotiation:
		return http.StatusNotAcceptable, clientMessage(err)

	case apperrors.ErrCodeIPPoolExhausted:
		return http.StatusInternalServerError, "no free IP address"
	case apperrors.ErrCodeNodeUnreachable, apperrors.ErrCodeNodeRejected:
		return http.StatusInternalServerError, "node error"
	case apperrors.ErrCodeDatabase:
		return http.StatusInternalServerError, "internal error"

	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// clientMessage strips the domain/code prefix and the cause chain, leaving
// only the message written at the error's construction site.
func clientMessage(err apperrors.DomainError) string {
	// DomainError messages are written to be client-safe; the wrapped
	// cause is not.
	type messager interface{ Message() string }
	if m, ok := err.(messager); ok {
		return m.Message()
	}
	return err.Error()
}
