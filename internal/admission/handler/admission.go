package handler

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"turnstile/internal/admission/service"
	apperrors "turnstile/pkg/errors"
	httputil "turnstile/pkg/http"
	"turnstile/pkg/logger"
	"turnstile/pkg/middleware"
	"turnstile/pkg/model"
)

const apiPrefix = "/api/v1"

type AdmissionHandler struct {
	service service.AdmissionService
	log     *logger.Logger
}

func NewAdmissionHandler(service service.AdmissionService, log *logger.Logger) *AdmissionHandler {
	return &AdmissionHandler{
		service: service,
		log:     log,
	}
}

func (h *AdmissionHandler) Join(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	participantID, err := participantFrom(r)
	if err != nil {
		h.writeError(w, "Join", err)
		return
	}

	result, err := h.service.Join(r.Context(), ps.ByName("event_id"), participantID)
	if err != nil {
		h.writeError(w, "Join", err)
		return
	}

	status := http.StatusAccepted
	if result.Granted {
		status = http.StatusCreated
	}
	if err := httputil.WriteJSON(w, status, httputil.SuccessResponse{Data: result}); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Join", "operation", "WriteJSON", "error", err)
	}
}

func (h *AdmissionHandler) QueuePosition(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	status, err := h.service.QueuePosition(r.Context(), ps.ByName("event_id"), ps.ByName("participant_id"))
	if err != nil {
		h.writeError(w, "QueuePosition", err)
		return
	}

	if err := httputil.WriteSuccess(w, status); err != nil {
		h.log.Error("failed to write success response", "handler", "QueuePosition", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AdmissionHandler) Release(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	participantID, err := participantFrom(r)
	if err != nil {
		h.writeError(w, "Release", err)
		return
	}

	if err := h.service.Release(r.Context(), ps.ByName("event_id"), ps.ByName("entry_id"), participantID); err != nil {
		h.writeError(w, "Release", err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *AdmissionHandler) Commit(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	participantID, err := participantFrom(r)
	if err != nil {
		h.writeError(w, "Commit", err)
		return
	}

	ticket, err := h.service.Commit(r.Context(), ps.ByName("entry_id"), participantID)
	if err != nil {
		h.writeError(w, "Commit", err)
		return
	}

	if err := httputil.WriteCreated(w, ticket); err != nil {
		h.log.Error("failed to write created response", "handler", "Commit", "operation", "WriteCreated", "error", err)
	}
}

func (h *AdmissionHandler) CancelEvent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.service.CancelEvent(r.Context(), ps.ByName("event_id")); err != nil {
		h.writeError(w, "CancelEvent", err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *AdmissionHandler) Availability(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	availability, err := h.service.Availability(r.Context(), ps.ByName("event_id"))
	if err != nil {
		h.writeError(w, "Availability", err)
		return
	}

	if err := httputil.WriteSuccess(w, availability); err != nil {
		h.log.Error("failed to write success response", "handler", "Availability", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AdmissionHandler) GetTicket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ticket, err := h.service.GetTicket(r.Context(), ps.ByName("ticket_id"))
	if err != nil {
		h.writeError(w, "GetTicket", err)
		return
	}

	if err := httputil.WriteSuccess(w, ticket); err != nil {
		h.log.Error("failed to write success response", "handler", "GetTicket", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AdmissionHandler) RefundTicket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ticket, err := h.service.RefundTicket(r.Context(), ps.ByName("ticket_id"))
	if err != nil {
		h.writeError(w, "RefundTicket", err)
		return
	}

	if err := httputil.WriteSuccess(w, ticket); err != nil {
		h.log.Error("failed to write success response", "handler", "RefundTicket", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AdmissionHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST(apiPrefix+"/events/:event_id/queue", h.Join)
	router.GET(apiPrefix+"/events/:event_id/queue/:participant_id", h.QueuePosition)
	router.POST(apiPrefix+"/events/:event_id/offers/:entry_id/release", h.Release)
	router.POST(apiPrefix+"/events/:event_id/cancel", h.CancelEvent)
	router.GET(apiPrefix+"/events/:event_id/availability", h.Availability)
	router.POST(apiPrefix+"/offers/:entry_id/commit", h.Commit)
	router.GET(apiPrefix+"/tickets/:ticket_id", h.GetTicket)
	router.POST(apiPrefix+"/tickets/:ticket_id/refund", h.RefundTicket)
}

func (h *AdmissionHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

// participantFrom reads the acting participant from the JSON body, falling
// back to the X-Participant-ID header for bodyless requests. When both are
// present they must agree.
func participantFrom(r *http.Request) (string, error) {
	header := r.Header.Get(middleware.ParticipantIDHeader)
	if r.ContentLength == 0 {
		if header == "" {
			return "", apperrors.InvalidInput("participant_id is required")
		}
		return header, nil
	}

	var body model.ParticipantBody
	if err := httputil.DecodeJSON(r, &body); err != nil {
		return "", err
	}
	switch {
	case body.ParticipantID == "":
		if header == "" {
			return "", apperrors.InvalidInput("participant_id is required")
		}
		return header, nil
	case header != "" && header != body.ParticipantID:
		return "", apperrors.InvalidInput("participant_id does not match " + middleware.ParticipantIDHeader)
	}
	return body.ParticipantID, nil
}
