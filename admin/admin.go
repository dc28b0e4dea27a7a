// Package admin exposes the operator surface over HTTP: health, the
// dead-letter queue, and manual replay of dead messages.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/enverbisevac/eventbox/httputil"
	"github.com/enverbisevac/eventbox/outbox"
	"github.com/enverbisevac/eventbox/validator"
)

const defaultListLimit = 100

func positive(n int) error {
	if !validator.Positive(n) {
		return errors.New("must be greater than zero")
	}
	return nil
}

type deadMessage struct {
	ID          string          `json:"id"`
	OwnerID     int64           `json:"owner_id"`
	EventType   string          `json:"event_type"`
	Payload     outbox.Document `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error"`
	AvailableAt time.Time       `json:"available_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Handler returns the operator HTTP handler backed by store.
func Handler(store outbox.Store) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", health)
	r.Get("/dead", listDead(store))
	r.Post("/dead/{id}/requeue", requeue(store))
	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func listDead(store outbox.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultListLimit
		if httputil.Has(r, "limit") {
			n, err := httputil.QueryParam(r, "limit", positive)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		msgs, err := store.ListDead(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		out := make([]deadMessage, 0, len(msgs))
		for _, msg := range msgs {
			out = append(out, deadMessage{
				ID:          msg.ID.String(),
				OwnerID:     msg.OwnerID,
				EventType:   msg.EventType,
				Payload:     msg.Payload,
				Attempts:    msg.Attempts,
				LastError:   msg.LastError,
				AvailableAt: msg.AvailableAt,
				CreatedAt:   msg.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func requeue(store outbox.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid message id")
			return
		}

		switch err := store.Requeue(r.Context(), id); {
		case errors.Is(err, outbox.ErrNotFound):
			writeError(w, http.StatusNotFound, "no dead message with that id")
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
