package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/messaging"
)

// ServeInbox lists the current user's received messages, newest first.
func ServeInbox(svc *messaging.Service, users UserLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, err := currentUser(r, users)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		views, err := svc.ListInbox(r.Context(), current)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, views)
	}
}

// ServeSent lists the messages the current user composed.
func ServeSent(svc *messaging.Service, users UserLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, err := currentUser(r, users)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		views, err := svc.ListSent(r.Context(), current)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, views)
	}
}

// ServeMessage returns one message the current user sent or received.
func ServeMessage(svc *messaging.Service, users UserLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "messageID"))
		if err != nil {
			writeErr(w, r, fmt.Errorf("%w: malformed message id", messaging.ErrValidation))
			return
		}

		current, err := currentUser(r, users)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		view, err := svc.GetMessage(r.Context(), id, current)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, view)
	}
}

// SubmitMessage composes a message. Fields: emails, title, message.
func SubmitMessage(svc *messaging.Service, users UserLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, err := currentUser(r, users)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		fields, err := readFields(w, r)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		res, err := svc.Compose(r.Context(), current, messaging.ComposeRequest{
			Recipients: fields["emails"],
			Title:      fields["title"],
			Text:       fields["message"],
		})
		if err != nil {
			writeErr(w, r, err)
			return
		}

		w.Header().Set("Location", "/messages/"+res.MessageID.String())
		writeJSON(w, r, http.StatusCreated, res)
	}
}

// ServeComposeDraft prefills a reply to userSenderId.
func ServeComposeDraft(svc *messaging.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var senderID uuid.UUID
		if raw := r.URL.Query().Get("userSenderId"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeErr(w, r, fmt.Errorf("%w: malformed userSenderId", messaging.ErrValidation))
				return
			}
			senderID = id
		}

		draft, err := svc.ReplyDraft(r.Context(), senderID)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, draft)
	}
}

// ServeAutocomplete returns the emails starting with term.
func ServeAutocomplete(svc *messaging.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		emails, err := svc.Autocomplete(r.Context(), r.URL.Query().Get("term"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, emails)
	}
}
