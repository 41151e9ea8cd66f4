// cmd/quote-engine/hooks.go
package main

import (
	"encoding/json"
	"net/http"

	stderrors "partner-portal-engine/internal/common/errors"
	"partner-portal-engine/internal/common/logger"
	"partner-portal-engine/internal/engine"
	"partner-portal-engine/internal/models"
	"partner-portal-engine/internal/sweep"
)

// hookServer exposes the lifecycle hooks over HTTP so the platform's API
// layer can drive the engine. One POST per hook, JSON in, JSON out.
type hookServer struct {
	engine    *engine.Engine
	scheduler *sweep.Scheduler
	logger    logger.Logger
}

func (h *hookServer) register(mux *http.ServeMux) {
	mux.HandleFunc("/hooks/quote-request-created", h.quoteRequestCreated)
	mux.HandleFunc("/hooks/quote-response-created", h.quoteResponseCreated)
	mux.HandleFunc("/hooks/quote-accepted", h.quoteAccepted)
	mux.HandleFunc("/hooks/quote-rejected", h.quoteRejected)
	mux.HandleFunc("/hooks/revision-requested", h.revisionRequested)
	mux.HandleFunc("/hooks/revision-accepted", h.revisionAccepted)
	mux.HandleFunc("/hooks/revision-rejected", h.revisionRejected)
	mux.HandleFunc("/hooks/partner-application", h.partnerApplication)
	mux.HandleFunc("/hooks/new-follower", h.newFollower)
	mux.HandleFunc("/sweep/tick", h.sweepTick)
}

func (h *hookServer) quoteRequestCreated(w http.ResponseWriter, r *http.Request) {
	var req models.QuoteRequest
	if !decode(w, r, &req) {
		return
	}
	h.respond(w, h.engine.OnQuoteRequestCreated(r.Context(), &req), nil)
}

func (h *hookServer) quoteResponseCreated(w http.ResponseWriter, r *http.Request) {
	var input engine.QuoteResponseInput
	if !decode(w, r, &input) {
		return
	}
	resp, err := h.engine.OnQuoteResponseCreated(r.Context(), input)
	h.respond(w, err, resp)
}

func (h *hookServer) quoteAccepted(w http.ResponseWriter, r *http.Request) {
	var body struct {
		QuoteResponseID string `json:"quoteResponseId"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.respond(w, h.engine.OnQuoteAccepted(r.Context(), body.QuoteResponseID), nil)
}

func (h *hookServer) quoteRejected(w http.ResponseWriter, r *http.Request) {
	var body struct {
		QuoteResponseID string `json:"quoteResponseId"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.respond(w, h.engine.OnQuoteRejected(r.Context(), body.QuoteResponseID), nil)
}

func (h *hookServer) revisionRequested(w http.ResponseWriter, r *http.Request) {
	var rev models.RevisionRequest
	if !decode(w, r, &rev) {
		return
	}
	h.respond(w, h.engine.OnRevisionRequested(r.Context(), &rev), &rev)
}

func (h *hookServer) revisionAccepted(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Revision        models.RevisionRequest `json:"revision"`
		PartnerResponse *string                `json:"partnerResponse"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.respond(w, h.engine.OnRevisionAccepted(r.Context(), &body.Revision, body.PartnerResponse), nil)
}

func (h *hookServer) revisionRejected(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Revision        models.RevisionRequest `json:"revision"`
		PartnerResponse *string                `json:"partnerResponse"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.respond(w, h.engine.OnRevisionRejected(r.Context(), &body.Revision, body.PartnerResponse), nil)
}

func (h *hookServer) partnerApplication(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PartnerID   string `json:"partnerId"`
		CompanyName string `json:"companyName"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.respond(w, h.engine.OnPartnerApplication(r.Context(), body.PartnerID, body.CompanyName), nil)
}

func (h *hookServer) newFollower(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PartnerID    string `json:"partnerId"`
		FollowerName string `json:"followerName"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.respond(w, h.engine.OnNewFollower(r.Context(), body.PartnerID, body.FollowerName), nil)
}

// sweepTick triggers an out-of-cadence sweep pass, mainly for operational use.
func (h *hookServer) sweepTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.respond(w, h.scheduler.Tick(r.Context()), nil)
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func (h *hookServer) respond(w http.ResponseWriter, err error, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		h.logger.Error("hook failed", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(statusFor(err))
		json.NewEncoder(w).Encode(map[string]string{
			"error": err.Error(),
			"code":  string(stderrors.CodeOf(err)),
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	if body == nil {
		body = map[string]string{"status": "ok"}
	}
	json.NewEncoder(w).Encode(body)
}

func statusFor(err error) int {
	switch stderrors.CodeOf(err) {
	case stderrors.ErrCodeNotFound:
		return http.StatusNotFound
	case stderrors.ErrCodeConflict, stderrors.ErrCodeRevisionPending:
		return http.StatusConflict
	case stderrors.ErrCodeInvalidTransition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
