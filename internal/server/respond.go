package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	errordefs "github.com/RegistryAccord/registryaccord-phigital-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-phigital-go/internal/jwks"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// writeSuccess writes a successful response
func writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

// writeErrorDef writes an error response using the error taxonomy
func writeErrorDef(w http.ResponseWriter, e *errordefs.Error) {
	body := map[string]interface{}{
		"code":          e.Code,
		"message":       e.Message,
		"correlationId": e.CorrelationID,
	}
	if e.Details != nil {
		body["details"] = e.Details
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": body})
}

// writeError converts err into the envelope. Uncoded errors are logged and
// reported as PHG_INTERNAL without their message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := errordefs.As(err, correlationID(r.Context()))
	if e.Code == errordefs.PHG_INTERNAL {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", e.CorrelationID),
			zap.Error(err))
	}
	writeErrorDef(w, e)
}

// decodeJSON reads the request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errordefs.New(errordefs.PHG_BAD_REQUEST, "request body too large", "")
		}
		return errordefs.New(errordefs.PHG_BAD_REQUEST, "invalid JSON", "")
	}
	return nil
}

// assetIDParam parses the {assetId} path segment.
func assetIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "assetId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errordefs.Validation("assetId must be a positive integer")
	}
	return id, nil
}

// requireAuth validates the bearer token and stores its subject.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.jwks == nil {
			s.writeError(w, r, errordefs.New(errordefs.PHG_UNAVAILABLE, "token validation is not configured", ""))
			return
		}
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, r, errordefs.New(errordefs.PHG_AUTHN, "missing Authorization header", ""))
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			s.writeError(w, r, errordefs.New(errordefs.PHG_AUTHN, "invalid Authorization header format", ""))
			return
		}

		claims, err := s.jwks.ValidateJWT(r.Context(), token, s.cfg.JWTIssuer, s.cfg.JWTAudience)
		if err != nil {
			msg := "invalid token"
			switch {
			case errors.Is(err, jwks.ErrExpired):
				msg = "token expired"
			case errors.Is(err, jwks.ErrMalformed):
				msg = "malformed token"
			case errors.Is(err, jwks.ErrKeyNotFound):
				msg = "unknown signing key"
			}
			s.logger.Debug("token rejected", zap.Error(err))
			s.writeError(w, r, errordefs.New(errordefs.PHG_AUTHN, msg, ""))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeySubject, claims.Subject)))
	})
}
