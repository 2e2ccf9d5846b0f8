package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/server/middleware"
)

// maxBodyBytes caps request bodies; every mutating payload is small.
const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a classified engine error to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, domain.ErrUnauthenticated) {
		return http.StatusUnauthorized
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindState:
		return http.StatusConflict
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindResource:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError answers with the status matching err's kind. Internal
// errors are logged and their text hidden.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, status, op+" failed")
		return
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  domain.KindOf(err).String(),
	})
}

// decodeBody reads a JSON body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// caller returns the authenticated identity or answers 401.
func caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, domain.ErrUnauthenticated.Error())
		return common.Address{}, false
	}
	return addr, true
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// addressParam parses a path parameter holding an address.
func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	return parseAddressField(w, name, r.PathValue(name))
}

// idParam parses the {id} path parameter.
func idParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid prediction id")
		return 0, false
	}
	return id, true
}

func parseAddressField(w http.ResponseWriter, field, value string) (common.Address, bool) {
	addr, err := domain.ParseAddress(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: invalid address", field))
		return common.Address{}, false
	}
	return addr, true
}

func parseAmountField(w http.ResponseWriter, field, value string) (*uint256.Int, bool) {
	v, err := domain.ParseAmount(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: expected a base-unit decimal string", field))
		return nil, false
	}
	return v, true
}

func queryAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	return parseAddressField(w, name, strings.TrimSpace(r.URL.Query().Get(name)))
}

func queryAmount(w http.ResponseWriter, r *http.Request, name string) (*uint256.Int, bool) {
	return parseAmountField(w, name, r.URL.Query().Get(name))
}
