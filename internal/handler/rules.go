package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/exafs/flowadmin/internal/config"
	"github.com/exafs/flowadmin/internal/dispatch"
	"github.com/exafs/flowadmin/internal/model"
	"github.com/exafs/flowadmin/internal/rule"
	mw "github.com/exafs/flowadmin/internal/server/middleware"
	"github.com/exafs/flowadmin/internal/service"
)

// RuleHandler implements the rule CRUD surface. Every entry point runs the
// same pipeline: identity from context, authorization gate, normalizer,
// store, dispatch relay.
type RuleHandler struct {
	store      *config.Store
	authz      *service.Authorizer
	normalizer *rule.Normalizer
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
}

// NewRuleHandler creates a RuleHandler.
func NewRuleHandler(store *config.Store, authz *service.Authorizer, normalizer *rule.Normalizer, dispatcher dispatch.Dispatcher, logger *slog.Logger) *RuleHandler {
	return &RuleHandler{
		store:      store,
		authz:      authz,
		normalizer: normalizer,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// List returns the rules visible to the caller: their organization's rules,
// or every organization for admins.
// GET /api/v3/rules
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := mw.GetIdentity(r.Context())
	if err := h.authz.Authorize(identity, model.OpRead, ""); err != nil {
		writeDenied(w, http.StatusForbidden)
		return
	}

	rules, err := h.store.ListRules(r.Context(), h.authz.VisibleOrg(identity))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: rules,
		Meta:     &model.ResponseMeta{Count: len(rules)},
	})
}

// Get returns one rule by id.
// GET /api/v3/rules/{id}
func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity := mw.GetIdentity(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule id")
		return
	}

	rec, err := h.store.GetRule(r.Context(), id)
	if errors.Is(err, config.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load rule: "+err.Error())
		return
	}

	if !h.authz.CanAccessRule(identity, rec) {
		writeDenied(w, http.StatusForbidden)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// CreateIPv4 creates an IPv4 flowspec rule.
// POST /api/v3/rules/ipv4
func (h *RuleHandler) CreateIPv4(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, model.KindIPv4)
}

// CreateIPv6 creates an IPv6 flowspec rule.
// POST /api/v3/rules/ipv6
func (h *RuleHandler) CreateIPv6(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, model.KindIPv6)
}

// CreateRTBH creates a blackhole rule.
// POST /api/v3/rules/rtbh
func (h *RuleHandler) CreateRTBH(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, model.KindRTBH)
}

func (h *RuleHandler) create(w http.ResponseWriter, r *http.Request, kind model.RuleKind) {
	identity := mw.GetIdentity(r.Context())
	if err := h.authz.Authorize(identity, model.OpCreate, kind); err != nil {
		writeDenied(w, http.StatusForbidden)
		return
	}

	var payload rule.Payload
	if err := readJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	rec, err := h.normalizer.Normalize(payload, kind)
	if err != nil {
		var verr *rule.ValidationError
		if errors.As(err, &verr) {
			fields := make(map[string]interface{}, len(verr.Fields))
			for k, v := range verr.Fields {
				fields[k] = v
			}
			writeError(w, http.StatusBadRequest, "Rule validation failed", fields)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec.UserID = identity.UserID
	rec.OrgID = identity.OrgID

	if err := h.store.CreateRule(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store rule: "+err.Error())
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), rec)
	if err != nil {
		// The rule is persisted but not enforced. Flag it so it never
		// silently appears active, and tell the caller what happened.
		if uerr := h.store.UpdateRuleDispatch(r.Context(), rec.ID, false, ""); uerr != nil {
			h.logger.Error("failed to flag undispatched rule", "rule_id", rec.ID, "error", uerr)
		}
		h.logger.Error("rule dispatch failed", "rule_id", rec.ID, "error", err)
		writeError(w, http.StatusBadGateway, "Rule stored but not propagated: "+err.Error(),
			map[string]interface{}{"rule_id": rec.ID, "dispatched": false})
		return
	}

	rec.Dispatched = !res.Skipped
	rec.RemoteID = res.RemoteID
	if err := h.store.UpdateRuleDispatch(r.Context(), rec.ID, rec.Dispatched, rec.RemoteID); err != nil {
		h.logger.Error("failed to record dispatch result", "rule_id", rec.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, rec)
}

// Delete withdraws a rule from the enforcement backends and marks it
// withdrawn locally.
// DELETE /api/v3/rules/{id}
func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity := mw.GetIdentity(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule id")
		return
	}

	rec, err := h.store.GetRule(r.Context(), id)
	if errors.Is(err, config.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load rule: "+err.Error())
		return
	}

	if err := h.authz.Authorize(identity, model.OpDelete, rec.Kind); err != nil || !h.authz.CanAccessRule(identity, rec) {
		writeDenied(w, http.StatusForbidden)
		return
	}

	if _, err := h.dispatcher.Withdraw(r.Context(), rec); err != nil {
		h.logger.Error("rule withdraw failed", "rule_id", rec.ID, "error", err)
		writeError(w, http.StatusBadGateway, "Rule not withdrawn: "+err.Error(),
			map[string]interface{}{"rule_id": rec.ID})
		return
	}

	if err := h.store.UpdateRuleState(r.Context(), rec.ID, model.StateWithdrawn); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update rule state: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"rule_id": rec.ID,
		"state":   model.StateWithdrawn,
	})
}
