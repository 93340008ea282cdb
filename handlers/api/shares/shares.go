package shares

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"sketchboard-server/core"
)

type (
	CreateShareRequest struct {
		Elements []json.RawMessage `json:"elements"`
	}

	CreateShareResponse struct {
		ID string `json:"id"`
	}
)

// HandleCreate stores an immutable snapshot of the posted elements and
// returns its ID. Shares are anonymous; anyone holding the ID can read one.
func HandleCreate(store core.ShareStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateShareRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		id, err := store.CreateShare(r.Context(), req.Elements)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to create share snapshot")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create share snapshot"})
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, CreateShareResponse{ID: id})
	}
}

// HandleGet returns a share snapshot by ID.
func HandleGet(store core.ShareStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "shareId")
		if id == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Share ID is required"})
			return
		}

		share, err := store.GetShare(r.Context(), id)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "Share not found"})
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":    err,
				"share_id": id,
			}).Error("Failed to get share snapshot")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to get share snapshot"})
			return
		}
		render.JSON(w, r, share)
	}
}
