package backend

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"slotbook/internal/apperr"
	"slotbook/internal/session"
)

// Handler serves the stub over the booking API routes, so the live client
// can run against it.
func (s *Stub) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if !decode(w, r, &req) {
			return
		}
		creds, err := s.Login(r.Context(), req.Username, req.Password)
		respond(w, creds, err)
	})

	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if !decode(w, r, &req) {
			return
		}
		creds, err := s.Refresh(r.Context(), req.RefreshToken)
		respond(w, creds, err)
	})

	mux.HandleFunc("POST /auth/logout", s.authed(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		err := s.Logout(r.Context(), session.Credentials{AccessToken: bearer(r), RefreshToken: req.RefreshToken})
		respond(w, nil, err)
	}))

	mux.HandleFunc("GET /slots", s.authed(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		date, err := time.ParseInLocation("2006-01-02", q.Get("date"), time.Local)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
			return
		}
		var ids []string
		if v := q.Get("serviceIds"); v != "" {
			ids = strings.Split(v, ",")
		}
		rows, err := s.Slots(r.Context(), SlotQuery{ProviderID: q.Get("providerId"), Date: date, ServiceIDs: ids})
		respond(w, rows, err)
	}))

	mux.HandleFunc("POST /bookings", s.authed(func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if !decode(w, r, &req) {
			return
		}
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
		b, err := s.CreateBooking(r.Context(), req)
		respond(w, b, err)
	}))

	mux.HandleFunc("PATCH /bookings/{id}", s.authed(func(w http.ResponseWriter, r *http.Request) {
		var req UpdateBookingRequest
		if !decode(w, r, &req) {
			return
		}
		b, err := s.UpdateBooking(r.Context(), r.PathValue("id"), req)
		respond(w, b, err)
	}))

	mux.HandleFunc("GET /bookings", s.authed(func(w http.ResponseWriter, r *http.Request) {
		role := Role(r.URL.Query().Get("role"))
		if role == "" {
			role = RoleClient
		}
		list, err := s.ListBookings(r.Context(), role)
		respond(w, list, err)
	}))

	return mux
}

func (s *Stub) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.UserFor(bearer(r))
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			return
		}
		next(w, r.WithContext(WithUser(r.Context(), user)))
	}
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": messageOf(err)})
		return
	}
	if v == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindAuthFailure, apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func messageOf(err error) string {
	if e, ok := apperr.As(err); ok && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
