package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/kiisha-io/kiisha/internal/apperr"
	"github.com/kiisha-io/kiisha/internal/approval"
	"github.com/kiisha-io/kiisha/internal/channel"
	httpmiddleware "github.com/kiisha-io/kiisha/internal/http"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
	"github.com/kiisha-io/kiisha/internal/telemetry"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON request body into v, rejecting oversized or
// malformed payloads as bad requests.
func decodeJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	return nil
}

type createOrganizationRequest struct {
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	Require2FA bool   `json:"require_2fa"`
}

// handleCreateOrganization provisions a new workspace: the org row, an admin
// membership for the caller, the default low-risk capability set and a
// default security policy.
func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Slug == "" || req.Name == "" {
		writeError(w, r, apperr.BadRequest("slug and name required"))
		return
	}

	org := &models.Organization{
		OrgID:      uuid.Must(uuid.NewV7()),
		Slug:       req.Slug,
		Name:       req.Name,
		Status:     models.OrgStatusActive,
		Require2FA: req.Require2FA,
	}
	if err := s.directory.CreateOrganization(r.Context(), org); err != nil {
		if errors.Is(err, store.ErrOrganizationAlreadyExists) {
			writeError(w, r, apperr.BadRequest("slug already in use"))
			return
		}
		writeError(w, r, err)
		return
	}

	if err := s.directory.PutMembership(r.Context(), &models.Membership{
		UserID: principalID(r),
		OrgID:  org.OrgID,
		Role:   models.RoleAdmin,
		Status: models.MembershipActive,
	}); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.capabilities.ProvisionDefaults(r.Context(), org.OrgID); err != nil {
		writeError(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("org_id", org.OrgID.String()).
		Str("slug", org.Slug).
		Msg("Provisioned organization")

	writeJSON(w, http.StatusCreated, workspaceResponse{
		OrgID: org.OrgID.String(),
		Slug:  org.Slug,
		Name:  org.Name,
		Role:  string(models.RoleAdmin),
	})
}

type setChannelDefaultRequest struct {
	OrgID string `json:"org_id"`
}

func (s *Server) handleSetChannelDefault(w http.ResponseWriter, r *http.Request) {
	channelType := mux.Vars(r)["channel"]

	var req setChannelDefaultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	orgID, err := uuid.Parse(req.OrgID)
	if err != nil {
		writeError(w, r, apperr.BadRequest("invalid org_id"))
		return
	}

	if err := s.channels.SetChannelDefault(r.Context(), principalID(r), orgID, channelType); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"reply": channel.ResponseWorkspaceSet})
}

type channelMessageRequest struct {
	Channel    string `json:"channel"`
	Identifier string `json:"identifier"`
	ThreadID   string `json:"thread_id"`
	Text       string `json:"text"`
}

type channelMessageResponse struct {
	Handled   bool   `json:"handled"`
	Reply     string `json:"reply,omitempty"`
	OrgID     string `json:"org_id,omitempty"`
	Ambiguous bool   `json:"ambiguous,omitempty"`
	Rule      string `json:"rule,omitempty"`
}

// handleChannelMessage is the adapter-facing entry point for inbound channel
// traffic: workspace commands are interpreted first, everything else is
// resolved to a workspace. Replies always come from the canned response set;
// the resolved org is returned to the adapter for routing, never rendered to
// the sender.
func (s *Server) handleChannelMessage(w http.ResponseWriter, r *http.Request) {
	var req channelMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Channel == "" || req.Identifier == "" {
		writeError(w, r, apperr.BadRequest("channel and identifier required"))
		return
	}

	userID := principalID(r)
	m := telemetry.GetMetrics()
	m.ChannelMessagesTotal.Add(r.Context(), 1)

	result, err := s.channels.HandleWorkspaceCommand(r.Context(), userID, req.Channel, req.Identifier, req.ThreadID, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if result.Handled {
		writeJSON(w, http.StatusOK, channelMessageResponse{Handled: true, Reply: result.Reply})
		return
	}

	resolution, err := s.channels.ResolveIncomingMessage(r.Context(), userID, req.Channel, req.Identifier, req.ThreadID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if resolution.Ambiguous {
		m.ChannelAmbiguousTotal.Add(r.Context(), 1)
		writeJSON(w, http.StatusOK, channelMessageResponse{
			Handled:   false,
			Reply:     channel.ResponseAmbiguous,
			Ambiguous: true,
			Rule:      string(resolution.Rule),
		})
		return
	}

	writeJSON(w, http.StatusOK, channelMessageResponse{
		Handled: false,
		OrgID:   resolution.OrgID.String(),
		Rule:    string(resolution.Rule),
	})
}

type createBindingCodeRequest struct {
	OrgID      string `json:"org_id"`
	Channel    string `json:"channel"`
	TTLMinutes int    `json:"ttl_minutes"`
}

type bindingCodeResponse struct {
	Code      string    `json:"code"`
	OrgID     string    `json:"org_id"`
	Channel   string    `json:"channel,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleCreateBindingCode(w http.ResponseWriter, r *http.Request) {
	var req createBindingCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	orgID, err := uuid.Parse(req.OrgID)
	if err != nil {
		writeError(w, r, apperr.BadRequest("invalid org_id"))
		return
	}

	ttl := time.Duration(req.TTLMinutes) * time.Minute
	code, err := s.channels.GenerateBindingCode(r.Context(), principalID(r), orgID, req.Channel, ttl)
	if err != nil {
		writeError(w, r, err)
		return
	}

	telemetry.GetMetrics().BindingCodesIssuedTotal.Add(r.Context(), 1)

	zerolog.Ctx(r.Context()).Info().
		Str("org_id", code.OrgID.String()).
		Str("client_ip", httpmiddleware.ClientIPFromContext(r.Context())).
		Msg("Issued binding code")

	writeJSON(w, http.StatusCreated, bindingCodeResponse{
		Code:      code.Code,
		OrgID:     code.OrgID.String(),
		Channel:   code.Channel,
		ExpiresAt: code.ExpiresAt,
	})
}

func (s *Server) handleListBindingCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := s.channels.ListActiveCodes(r.Context(), principalID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := []bindingCodeResponse{}
	for _, code := range codes {
		out = append(out, bindingCodeResponse{
			Code:      code.Code,
			OrgID:     code.OrgID.String(),
			Channel:   code.Channel,
			ExpiresAt: code.ExpiresAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"codes": out})
}

type checkCapabilityRequest struct {
	CapabilityID string `json:"capability_id"`
}

type decisionResponse struct {
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requires_approval"`
	Requires2FA      bool   `json:"requires_2fa"`
	RequiresAdmin    bool   `json:"requires_admin"`
	Reason           string `json:"reason,omitempty"`
	DailyRemaining   *int   `json:"daily_remaining,omitempty"`
	MonthlyRemaining *int   `json:"monthly_remaining,omitempty"`
}

func (s *Server) handleCheckCapability(w http.ResponseWriter, r *http.Request) {
	var req checkCapabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.CapabilityID == "" {
		writeError(w, r, apperr.BadRequest("capability_id required"))
		return
	}

	tc, err := s.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	decision, err := s.capabilities.Check(r.Context(), tc, req.CapabilityID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	m := telemetry.GetMetrics()
	m.PolicyChecksTotal.Add(r.Context(), 1)
	if !decision.Allowed {
		m.PolicyDenialsTotal.Add(r.Context(), 1)
	}

	writeJSON(w, http.StatusOK, decisionResponse{
		Allowed:          decision.Allowed,
		RequiresApproval: decision.RequiresApproval,
		Requires2FA:      decision.Requires2FA,
		RequiresAdmin:    decision.RequiresAdmin,
		Reason:           decision.Reason,
		DailyRemaining:   decision.DailyRemaining,
		MonthlyRemaining: decision.MonthlyRemaining,
	})
}

type invokeCapabilityRequest struct {
	CapabilityID string            `json:"capability_id"`
	TaskKind     string            `json:"task_kind"`
	Summary      string            `json:"summary"`
	Target       string            `json:"target,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
}

type invokeCapabilityResponse struct {
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	RiskLevel string `json:"risk_level,omitempty"`
}

// handleInvokeCapability runs the full invocation path: policy check, then
// either a denial, an approval request, or a usage charge. Usage is only
// charged when the invocation actually proceeds.
func (s *Server) handleInvokeCapability(w http.ResponseWriter, r *http.Request) {
	var req invokeCapabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.CapabilityID == "" {
		writeError(w, r, apperr.BadRequest("capability_id required"))
		return
	}

	tc, err := s.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	decision, err := s.capabilities.Check(r.Context(), tc, req.CapabilityID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	m := telemetry.GetMetrics()
	m.PolicyChecksTotal.Add(r.Context(), 1)

	if !decision.Allowed {
		m.PolicyDenialsTotal.Add(r.Context(), 1)
		writeJSON(w, http.StatusForbidden, invokeCapabilityResponse{
			Status: "denied",
			Reason: decision.Reason,
		})
		return
	}

	if decision.RequiresApproval {
		task := models.TaskSpec{
			Kind:       taskKind(req.TaskKind),
			Summary:    req.Summary,
			Target:     req.Target,
			Parameters: req.Parameters,
		}
		approvalReq, err := s.approvals.CreateRequest(r.Context(), tc, req.CapabilityID, task)
		if err != nil {
			writeError(w, r, err)
			return
		}

		m.ApprovalsCreatedTotal.Add(r.Context(), 1)

		writeJSON(w, http.StatusAccepted, invokeCapabilityResponse{
			Status:    "pending_approval",
			RequestID: approvalReq.RequestID.String(),
			RiskLevel: string(approvalReq.Risk.Level),
		})
		return
	}

	if err := s.capabilities.IncrementUsage(r.Context(), tc, req.CapabilityID); err != nil {
		writeError(w, r, err)
		return
	}

	m.UsageChargedTotal.Add(r.Context(), 1)

	writeJSON(w, http.StatusOK, invokeCapabilityResponse{Status: "allowed"})
}

func taskKind(kind string) models.TaskKind {
	switch models.TaskKind(kind) {
	case models.TaskTicket, models.TaskMessage, models.TaskPayment, models.TaskBrowser, models.TaskShell:
		return models.TaskKind(kind)
	default:
		return models.TaskGeneric
	}
}

type approvalResponseBody struct {
	RequestID    string      `json:"request_id"`
	CapabilityID string      `json:"capability_id"`
	Summary      string      `json:"summary"`
	Status       string      `json:"status"`
	RiskLevel    string      `json:"risk_level"`
	RiskFactors  []string    `json:"risk_factors,omitempty"`
	RequestedBy  string      `json:"requested_by"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	Audit        []auditBody `json:"audit,omitempty"`
}

type auditBody struct {
	Action string    `json:"action"`
	Actor  string    `json:"actor,omitempty"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

func approvalBody(req *models.ApprovalRequest) approvalResponseBody {
	body := approvalResponseBody{
		RequestID:    req.RequestID.String(),
		CapabilityID: req.CapabilityID,
		Summary:      req.Summary,
		Status:       string(req.Status),
		RiskLevel:    string(req.Risk.Level),
		RiskFactors:  req.Risk.Factors,
		RequestedBy:  req.RequestedBy.String(),
		CreatedAt:    req.CreatedAt,
		ExpiresAt:    req.ExpiresAt,
	}
	for _, entry := range req.Audit {
		ab := auditBody{Action: string(entry.Action), At: entry.At, Note: entry.Note}
		if entry.Actor != uuid.Nil {
			ab.Actor = entry.Actor.String()
		}
		body.Audit = append(body.Audit, ab)
	}
	return body
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	tc, err := s.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	opts := listPendingOptions(r)
	requests, err := s.approvals.PendingApprovals(r.Context(), tc, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := []approvalResponseBody{}
	for _, req := range requests {
		out = append(out, approvalBody(req))
	}

	writeJSON(w, http.StatusOK, map[string]any{"requests": out})
}

func listPendingOptions(r *http.Request) store.ListPendingOptions {
	var opts store.ListPendingOptions
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			opts.Limit = limit
		}
	}
	if raw := r.URL.Query().Get("for_user"); raw != "" {
		if userID, err := uuid.Parse(raw); err == nil {
			opts.ForUser = userID
		}
	}
	return opts
}

type approvalActionRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleApprovalResponse(w http.ResponseWriter, r *http.Request) {
	requestID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, apperr.BadRequest("invalid request id"))
		return
	}

	var req approvalActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	action := approval.Action(req.Action)
	if action != approval.ActionApprove && action != approval.ActionReject {
		writeError(w, r, apperr.BadRequest("action must be approve or reject"))
		return
	}

	tc, err := s.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resolved, err := s.approvals.ProcessResponse(r.Context(), tc, requestID, action, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, approval.ErrAlreadyProcessed):
			writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		case errors.Is(err, approval.ErrExpired):
			writeJSON(w, http.StatusGone, errorBody{Error: err.Error()})
		default:
			writeError(w, r, err)
		}
		return
	}

	telemetry.GetMetrics().ApprovalsResolvedTotal.Add(r.Context(), 1)

	writeJSON(w, http.StatusOK, approvalBody(resolved))
}

// handleResource checks the caller's access to a protected resource. Absent
// resources and resources owned by another tenant produce the identical 404.
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	typ := models.ResourceType(vars["type"])
	if !typ.Valid() {
		writeError(w, r, apperr.BadRequest("unknown resource type"))
		return
	}
	resourceID, err := uuid.Parse(vars["id"])
	if err != nil {
		writeError(w, r, apperr.BadRequest("invalid resource id"))
		return
	}

	tc, err := s.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.access.AssertAccess(r.Context(), tc, typ, resourceID); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"type": string(typ),
		"id":   resourceID.String(),
	})
}
