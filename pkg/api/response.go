// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the administration HTTP surface: role assignment
// and client registry endpoints, with the error taxonomy mapped to stable
// JSON responses.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/logger"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeOK writes a success envelope, merging extra fields over
// {"result": "OK"}.
func writeOK(w http.ResponseWriter, extra map[string]any) {
	body := map[string]any{"result": "OK"}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusForbidden, map[string]any{"result": "FORBIDDEN", "message": message})
}

// writeError maps the application error taxonomy to HTTP statuses and
// stable bodies. Internal details are logged, never exposed.
func writeError(w http.ResponseWriter, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		logger.Errorw("Internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"result": "INTERNAL-SERVER-ERROR"})
		return
	}

	switch appErr.Type {
	case errors.ErrNotFound, errors.ErrClientNotFound:
		writeJSON(w, http.StatusNotFound, map[string]any{"result": "NOT-FOUND", "message": appErr.Message})
	case errors.ErrConflict:
		writeJSON(w, http.StatusConflict, map[string]any{
			"result": "CONFLICT", "key": appErr.Key, "value": appErr.Value,
		})
	case errors.ErrVersionConflict:
		writeJSON(w, http.StatusConflict, map[string]any{"result": "CONFLICT", "message": appErr.Message})
	case errors.ErrValidation, errors.ErrClientPolicyViolation:
		writeJSON(w, http.StatusBadRequest, map[string]any{"result": "VALIDATION-ERROR", "message": appErr.Message})
	case errors.ErrForbidden:
		writeForbidden(w, appErr.Message)
	case errors.ErrUnauthenticated, errors.ErrInvalidClientSecret:
		writeJSON(w, http.StatusUnauthorized, map[string]any{"result": "UNAUTHENTICATED"})
	case errors.ErrUnimplemented:
		writeJSON(w, http.StatusNotImplemented, map[string]any{"result": "NOT-IMPLEMENTED", "message": appErr.Message})
	default:
		logger.Errorw("Internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"result": "INTERNAL-SERVER-ERROR"})
	}
}

// decodeBody decodes a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.NewValidationError("body", "Invalid JSON body")
	}
	return nil
}
