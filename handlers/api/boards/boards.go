package boards

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
	SaveBoardRequest struct {
		Name      string            `json:"name"`
		Elements  []json.RawMessage `json:"elements"`
		UserEmail string            `json:"userEmail"`
	}

	InviteRequest struct {
		RoomID       string `json:"roomId"`
		InviteeEmail string `json:"inviteeEmail"`
	}

	DeleteBoardResponse struct {
		Deleted int64 `json:"deleted"`
	}
)

// HandleList returns every board the identity owns or collaborates on,
// without element payloads.
func HandleList(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := chi.URLParam(r, "identity")
		if identity == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Identity is required"})
			return
		}

		boards, err := store.List(r.Context(), identity)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":    err,
				"identity": identity,
			}).Error("Failed to list boards")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list boards"})
			return
		}
		if boards == nil {
			boards = []*core.Board{}
		}
		render.JSON(w, r, boards)
	}
}

// HandleGet returns the full board record. A board that was never saved
// yields an empty JSON object, not an error.
func HandleGet(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		if roomID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Room ID is required"})
			return
		}

		board, err := store.Get(r.Context(), roomID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				render.JSON(w, r, struct{}{})
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"room_id": roomID,
			}).Error("Failed to get board")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to get board"})
			return
		}
		render.JSON(w, r, board)
	}
}

// HandleSave upserts the board. The first save for a room binds the caller
// as owner; later saves only replace name, elements and lastModified, so a
// request without userEmail is rejected before any storage call.
func HandleSave(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		if roomID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Room ID is required"})
			return
		}

		var req SaveBoardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		if req.UserEmail == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "userEmail is required"})
			return
		}

		result, err := store.Save(r.Context(), roomID, req.Name, req.Elements, req.UserEmail)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"room_id": roomID,
			}).Error("Failed to save board")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to save board"})
			return
		}
		render.JSON(w, r, result)
	}
}

// HandleInvite adds a collaborator to a board. Re-inviting an existing
// collaborator is a no-op, as is inviting to a board that was never saved.
func HandleInvite(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InviteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		if req.RoomID == "" || req.InviteeEmail == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "roomId and inviteeEmail are required"})
			return
		}

		if err := store.Invite(r.Context(), req.RoomID, req.InviteeEmail); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"room_id": req.RoomID,
			}).Error("Failed to invite collaborator")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to invite collaborator"})
			return
		}
		render.JSON(w, r, map[string]string{"status": "ok"})
	}
}

// HandleDelete removes the board and reports how many records were deleted;
// deleting an absent board reports zero.
func HandleDelete(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		if roomID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Room ID is required"})
			return
		}

		deleted, err := store.Delete(r.Context(), roomID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"room_id": roomID,
			}).Error("Failed to delete board")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to delete board"})
			return
		}
		render.JSON(w, r, DeleteBoardResponse{Deleted: deleted})
	}
}
