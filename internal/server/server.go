package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/kiisha-io/kiisha/internal/access"
	"github.com/kiisha-io/kiisha/internal/apperr"
	"github.com/kiisha-io/kiisha/internal/approval"
	"github.com/kiisha-io/kiisha/internal/auth"
	"github.com/kiisha-io/kiisha/internal/capability"
	"github.com/kiisha-io/kiisha/internal/channel"
	httpmiddleware "github.com/kiisha-io/kiisha/internal/http"
	"github.com/kiisha-io/kiisha/internal/logger"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
	"github.com/kiisha-io/kiisha/internal/telemetry"
	"github.com/kiisha-io/kiisha/internal/tenancy"
)

// OrgHintHeader carries an explicit organization selection (id or slug) from
// the calling surface.
const OrgHintHeader = "X-Kiisha-Org"

// Server is the session-management JSON surface consumed by the web front
// end and channel adapters.
type Server struct {
	tenancy      *tenancy.Resolver
	access       *access.Verifier
	capabilities *capability.Evaluator
	approvals    *approval.Engine
	channels     *channel.Resolver
	directory    store.DirectoryStore
	verifier     *auth.Verifier
	log          zerolog.Logger
}

// New creates a server over the engine components.
func New(
	tenancyResolver *tenancy.Resolver,
	accessVerifier *access.Verifier,
	evaluator *capability.Evaluator,
	approvalEngine *approval.Engine,
	channelResolver *channel.Resolver,
	directory store.DirectoryStore,
	verifier *auth.Verifier,
	log zerolog.Logger,
) *Server {
	return &Server{
		tenancy:      tenancyResolver,
		access:       accessVerifier,
		capabilities: evaluator,
		approvals:    approvalEngine,
		channels:     channelResolver,
		directory:    directory,
		verifier:     verifier,
		log:          log,
	}
}

// Handler builds the HTTP routing tree. Everything under /v1 requires a
// bearer token.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(httpmiddleware.ClientIPMiddleware())
	v1.Use(logger.Requests(s.log))
	v1.Use(s.recover)
	v1.Use(s.verifier.Middleware)

	v1.HandleFunc("/organizations", s.handleCreateOrganization).Methods(http.MethodPost)

	v1.HandleFunc("/workspaces", s.handleListWorkspaces).Methods(http.MethodGet)
	v1.HandleFunc("/workspaces/select", s.handleSelectWorkspace).Methods(http.MethodPost)
	v1.HandleFunc("/workspaces/current", s.handleCurrentWorkspace).Methods(http.MethodGet)

	v1.HandleFunc("/channels/{channel}/default", s.handleSetChannelDefault).Methods(http.MethodPost)
	v1.HandleFunc("/channel/message", s.handleChannelMessage).Methods(http.MethodPost)

	v1.HandleFunc("/binding-codes", s.handleCreateBindingCode).Methods(http.MethodPost)
	v1.HandleFunc("/binding-codes", s.handleListBindingCodes).Methods(http.MethodGet)

	v1.HandleFunc("/capabilities/check", s.handleCheckCapability).Methods(http.MethodPost)
	v1.HandleFunc("/capabilities/invoke", s.handleInvokeCapability).Methods(http.MethodPost)

	v1.HandleFunc("/approvals/pending", s.handlePendingApprovals).Methods(http.MethodGet)
	v1.HandleFunc("/approvals/{id}/respond", s.handleApprovalResponse).Methods(http.MethodPost)

	v1.HandleFunc("/resources/{type}/{id}", s.handleResource).Methods(http.MethodGet)

	return router
}

// recover converts handler panics into plain 500s.
func (s *Server) recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Handler panic")
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// hintFromRequest reads the org hint header, accepting either an ID or a
// slug.
func hintFromRequest(r *http.Request) tenancy.Hint {
	value := r.Header.Get(OrgHintHeader)
	if value == "" {
		return tenancy.Hint{}
	}
	if orgID, err := uuid.Parse(value); err == nil {
		return tenancy.Hint{OrgID: orgID}
	}
	return tenancy.Hint{Slug: value}
}

// resolve binds the request's principal to a tenant.
func (s *Server) resolve(r *http.Request) (*tenancy.Context, error) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	m := telemetry.GetMetrics()
	m.ResolutionsTotal.Add(r.Context(), 1)

	tc, err := s.tenancy.Resolve(r.Context(), principal, hintFromRequest(r))
	if err != nil {
		m.ResolutionFailuresTotal.Add(r.Context(), 1)
		return nil, err
	}
	return tc, nil
}

func principalID(r *http.Request) uuid.UUID {
	principal, _ := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		return uuid.Nil
	}
	return principal.UserID
}

type workspaceResponse struct {
	OrgID string `json:"org_id"`
	Slug  string `json:"slug"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	memberships, err := s.directory.ListMemberships(r.Context(), principalID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	workspaces := []workspaceResponse{}
	for _, m := range memberships {
		if !m.IsActive() {
			continue
		}
		org, err := s.directory.GetOrganization(r.Context(), m.OrgID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		workspaces = append(workspaces, workspaceResponse{
			OrgID: org.OrgID.String(),
			Slug:  org.Slug,
			Name:  org.Name,
			Role:  string(m.Role),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"workspaces": workspaces})
}

type selectWorkspaceRequest struct {
	OrgID string `json:"org_id"`
	Slug  string `json:"slug"`
}

type contextResponse struct {
	OrgID string `json:"org_id"`
	Role  string `json:"role"`
	Lobby bool   `json:"lobby,omitempty"`
}

func contextBody(tc *tenancy.Context) contextResponse {
	return contextResponse{
		OrgID: tc.OrgID.String(),
		Role:  string(tc.Role),
		Lobby: tc.Lobby,
	}
}

// handleSelectWorkspace validates an explicit workspace selection and
// returns the resolved context for the session service to record.
func (s *Server) handleSelectWorkspace(w http.ResponseWriter, r *http.Request) {
	var req selectWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var orgID uuid.UUID
	switch {
	case req.OrgID != "":
		parsed, err := uuid.Parse(req.OrgID)
		if err != nil {
			writeError(w, r, apperr.BadRequest("invalid org_id"))
			return
		}
		orgID = parsed
	case req.Slug != "":
		org, err := s.directory.GetOrganizationBySlug(r.Context(), req.Slug)
		if err != nil {
			if errors.Is(err, store.ErrOrganizationNotFound) {
				writeError(w, r, apperr.Forbidden("unknown organization slug"))
				return
			}
			writeError(w, r, err)
			return
		}
		orgID = org.OrgID
	default:
		writeError(w, r, apperr.BadRequest("org_id or slug required"))
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	// Selection must name an org the caller can actually bind; a hint
	// that silently falls through would defeat the point, so resolve
	// with the hint as the only input.
	bare := &models.Principal{UserID: principal.UserID, TwoFactorEnrolled: principal.TwoFactorEnrolled}
	tc, err := s.tenancy.Resolve(r.Context(), bare, tenancy.Hint{OrgID: orgID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tc.Lobby || tc.OrgID != orgID {
		writeError(w, r, apperr.Forbidden("selection did not resolve to requested organization"))
		return
	}

	writeJSON(w, http.StatusOK, contextBody(tc))
}

func (s *Server) handleCurrentWorkspace(w http.ResponseWriter, r *http.Request) {
	tc, err := s.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contextBody(tc))
}
