// Package admin provides superadmin endpoints for platform users and
// billing operations.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/audit"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/users"
	"github.com/carehub/platform/internal/validation"
)

// Action is a user administration command.
type Action string

const (
	ActionGrantSuperadmin  Action = "grant_superadmin"
	ActionRevokeSuperadmin Action = "revoke_superadmin"
	ActionDeactivate       Action = "deactivate"
	ActionReactivate       Action = "reactivate"
)

// Denial reasons.
const (
	ReasonInvalidAction = "invalid_action"
	ReasonSelfAction    = "self_action_not_allowed"
	ReasonNoChange      = "state_unchanged"
	ReasonUserInactive  = "user_deactivated"
)

// ParseAction validates a raw action name.
func ParseAction(raw string) (Action, error) {
	switch a := Action(strings.TrimSpace(raw)); a {
	case ActionGrantSuperadmin, ActionRevokeSuperadmin, ActionDeactivate, ActionReactivate:
		return a, nil
	}
	return "", apperr.BadRequest(fmt.Sprintf("action: must be one of %s, %s, %s, %s",
		ActionGrantSuperadmin, ActionRevokeSuperadmin, ActionDeactivate, ActionReactivate)).
		WithReason(ReasonInvalidAction)
}

// selfForbidden lists actions a superadmin may not apply to themselves.
func (a Action) selfForbidden() bool {
	return a == ActionRevokeSuperadmin || a == ActionDeactivate
}

// Result is the outcome of a user action.
type Result struct {
	UserID  string `json:"userId"`
	Action  Action `json:"action"`
	Message string `json:"message"`
}

// IssuedSession is a freshly minted session token. The token is returned
// once and never stored.
type IssuedSession struct {
	Token   string        `json:"token"`
	Session *auth.Session `json:"session"`
}

// Sessions issues and revokes login sessions. *auth.SessionManager satisfies it.
type Sessions interface {
	Issue(ctx context.Context, userID, activeTenantID string) (string, *auth.Session, error)
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
}

// Service implements user administration.
type Service struct {
	users    users.Store
	sessions Sessions
	audit    *audit.Recorder
	now      func() time.Time
}

// NewService creates a user administration service.
func NewService(us users.Store, sessions Sessions, rec *audit.Recorder) *Service {
	return &Service{users: us, sessions: sessions, audit: rec, now: time.Now}
}

// Apply runs action against the target user.
func (s *Service) Apply(ctx context.Context, ac *auth.Context, userID string, action Action) (*Result, error) {
	if ac.UserID == userID && action.selfForbidden() {
		return nil, apperr.Forbidden(fmt.Sprintf("You cannot %s your own account", strings.ReplaceAll(string(action), "_", " "))).
			WithReason(ReasonSelfAction)
	}

	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var msg string
	meta := map[string]any{}
	switch action {
	case ActionGrantSuperadmin:
		if u.IsSuperadmin {
			return nil, apperr.Conflict("User is already a superadmin").WithReason(ReasonNoChange)
		}
		if !u.Active() {
			return nil, apperr.Conflict("Cannot grant superadmin to a deactivated user").WithReason(ReasonUserInactive)
		}
		u.IsSuperadmin = true
		msg = "Superadmin access granted"
	case ActionRevokeSuperadmin:
		if !u.IsSuperadmin {
			return nil, apperr.Conflict("User is not a superadmin").WithReason(ReasonNoChange)
		}
		u.IsSuperadmin = false
		msg = "Superadmin access revoked"
	case ActionDeactivate:
		if !u.Active() {
			return nil, apperr.Conflict("User is already deactivated").WithReason(ReasonNoChange)
		}
		u.Status = users.StatusDeactivated
		msg = "User deactivated"
	case ActionReactivate:
		if u.Active() {
			return nil, apperr.Conflict("User is already active").WithReason(ReasonNoChange)
		}
		u.Status = users.StatusActive
		msg = "User reactivated"
	default:
		_, err := ParseAction(string(action))
		return nil, err
	}

	u.UpdatedAt = s.now()
	if err := s.users.Update(ctx, u); err != nil {
		return nil, mapUserErr(err)
	}

	if action == ActionDeactivate {
		n, err := s.sessions.RevokeAllForUser(ctx, u.ID)
		if err != nil {
			return nil, apperr.Internal(fmt.Errorf("admin: revoke sessions: %w", err))
		}
		meta["sessionsRevoked"] = n
	}

	e := audit.By(ac, "user."+string(action), audit.ResourceUser, u.ID)
	e.Metadata = meta
	s.audit.Record(ctx, e)

	return &Result{UserID: u.ID, Action: action, Message: msg}, nil
}

// CreateUser registers a new platform identity.
func (s *Service) CreateUser(ctx context.Context, ac *auth.Context, email, name string) (*users.User, error) {
	if err := validation.Validate(
		validation.Required("email", email),
		validation.Email("email", email),
		validation.Required("name", name),
		validation.MaxLength("name", name, validation.MaxNameLength),
	).Err(); err != nil {
		return nil, err
	}

	u := users.New(email, name, s.now())
	if err := s.users.Create(ctx, u); err != nil {
		return nil, mapUserErr(err)
	}

	e := audit.By(ac, audit.ActionUserCreated, audit.ResourceUser, u.ID)
	e.Metadata = map[string]any{"email": u.Email}
	s.audit.Record(ctx, e)
	return u, nil
}

// ListUsers returns platform users.
func (s *Service) ListUsers(ctx context.Context, q users.Query) ([]*users.User, error) {
	out, err := s.users.List(ctx, q)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

// IssueSession mints a session for an active user, optionally pinned to
// one organization.
func (s *Service) IssueSession(ctx context.Context, ac *auth.Context, userID, tenantID string) (*IssuedSession, error) {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.Active() {
		return nil, apperr.Conflict("Cannot issue a session for a deactivated user").WithReason(ReasonUserInactive)
	}

	raw, sess, err := s.sessions.Issue(ctx, u.ID, tenantID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("admin: issue session: %w", err))
	}

	e := audit.By(ac, audit.ActionSessionIssued, audit.ResourceSession, sess.ID)
	e.Metadata = map[string]any{"userId": u.ID}
	if tenantID != "" {
		e.Metadata["organizationId"] = tenantID
	}
	s.audit.Record(ctx, e)
	return &IssuedSession{Token: raw, Session: sess}, nil
}

func (s *Service) getUser(ctx context.Context, id string) (*users.User, error) {
	u, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, mapUserErr(err)
	}
	return u, nil
}

func mapUserErr(err error) error {
	switch {
	case errors.Is(err, users.ErrUserNotFound):
		return apperr.NotFound("User not found")
	case errors.Is(err, users.ErrEmailTaken):
		return apperr.Conflict("Email already registered").WithReason("email_taken")
	default:
		return apperr.Internal(err)
	}
}
