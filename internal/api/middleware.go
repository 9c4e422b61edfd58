package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-booking/internal/booking"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actorKey     contextKey = "actor"
)

// Headers set by the upstream identity collaborator once the caller is
// authenticated. X-Specialist-ID carries the login-time resolution of
// the account/specialist binding.
const (
	headerActorID      = "X-Actor-ID"
	headerActorRole    = "X-Actor-Role"
	headerSpecialistID = "X-Specialist-ID"
)

// RequestIDMiddleware adds a unique request ID to each request context.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs every request with method, path, status,
// duration, and request ID.
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", GetRequestID(r.Context())),
			)
		})
	}
}

// ActorMiddleware resolves the acting identity from the gateway headers
// and rejects requests without one. For specialist accounts without the
// pre-resolved header it falls back to the account binding lookup.
func ActorMiddleware(svc BookingService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID, err := uuid.Parse(r.Header.Get(headerActorID))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid actor identity")
				return
			}

			role, err := booking.ParseRole(r.Header.Get(headerActorRole))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid actor role")
				return
			}

			actor := booking.Actor{ID: actorID, Role: role}

			if role == booking.RoleSpecialist {
				if raw := r.Header.Get(headerSpecialistID); raw != "" {
					specID, err := uuid.Parse(raw)
					if err != nil {
						writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid specialist identity")
						return
					}
					actor.SpecialistID = specID
				} else {
					sp, err := svc.SpecialistForAccount(r.Context(), actorID)
					if err != nil {
						if errors.Is(err, booking.ErrSpecialistNotFound) {
							writeError(w, http.StatusForbidden, "specialist_not_linked", "account is not linked to a specialist record")
							return
						}
						writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
						return
					}
					actor.SpecialistID = sp.ID
				}
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ActorFrom retrieves the resolved actor from context.
func ActorFrom(ctx context.Context) (booking.Actor, bool) {
	a, ok := ctx.Value(actorKey).(booking.Actor)
	return a, ok
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
