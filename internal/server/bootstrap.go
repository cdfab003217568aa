package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/carehub/platform/internal/audit"
	"github.com/carehub/platform/internal/users"
)

// bootstrapSuperadmin guarantees that BOOTSTRAP_SUPERADMIN_EMAIL names an
// active superadmin and prints a session token for it. There is no sign-in
// flow in this service, so this is how the first operator gets in.
func (s *Server) bootstrapSuperadmin(ctx context.Context) error {
	email := s.cfg.BootstrapSuperadminEmail
	if email == "" {
		return nil
	}

	u, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, users.ErrUserNotFound):
		u = users.New(email, "Platform Admin", time.Now().UTC())
		u.IsSuperadmin = true
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		s.recorder.Record(ctx, audit.Entry{
			ActorID:      u.ID,
			ActorEmail:   u.Email,
			Action:       audit.ActionUserCreated,
			ResourceType: audit.ResourceUser,
			ResourceID:   u.ID,
			Metadata:     map[string]any{"bootstrap": true},
		})
		s.logger.Info("bootstrap superadmin created", "user_id", u.ID)
	case err != nil:
		return err
	case !u.IsSuperadmin || !u.Active():
		u.IsSuperadmin = true
		u.Status = users.StatusActive
		u.UpdatedAt = time.Now().UTC()
		if err := s.users.Update(ctx, u); err != nil {
			return err
		}
		s.logger.Warn("bootstrap superadmin restored", "user_id", u.ID)
	}

	token, sess, err := s.sessions.Issue(ctx, u.ID, "")
	if err != nil {
		return err
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:      u.ID,
		ActorEmail:   u.Email,
		Action:       audit.ActionSessionIssued,
		ResourceType: audit.ResourceSession,
		ResourceID:   sess.ID,
		Metadata:     map[string]any{"bootstrap": true},
	})

	// Not logged: the token is a credential.
	fmt.Fprintf(os.Stderr, "bootstrap superadmin %s session token (expires %s): %s\n",
		u.Email, sess.ExpiresAt.Format(time.RFC3339), token)
	return nil
}
