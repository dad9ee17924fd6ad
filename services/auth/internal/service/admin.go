package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Skotchmaster/tunehub/pkg/autherr"
	"github.com/Skotchmaster/tunehub/pkg/logging"
	"github.com/Skotchmaster/tunehub/pkg/roles"
	"github.com/Skotchmaster/tunehub/services/auth/internal/events"
	"github.com/Skotchmaster/tunehub/services/auth/internal/models"
	"github.com/Skotchmaster/tunehub/services/auth/internal/repo"
)

const MaxPageSize = 100

type UserPage struct {
	Users []models.User `json:"users"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Size  int           `json:"size"`
}

func (s *AuthService) ListUsers(ctx context.Context, page, size int) (*UserPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > MaxPageSize {
		size = 20
	}
	users, total, err := s.Repo.List(ctx, (page-1)*size, size)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if users == nil {
		users = []models.User{}
	}
	return &UserPage{Users: users, Total: total, Page: page, Size: size}, nil
}

// ChangeRole takes effect on the principal's next validate or refresh.
func (s *AuthService) ChangeRole(ctx context.Context, actorID, targetID, role string) error {
	if !roles.Valid(role) {
		return autherr.ErrValidation
	}
	id, err := s.target(actorID, targetID)
	if err != nil {
		return err
	}
	if err := s.Repo.UpdateRole(ctx, id, role); err != nil {
		return notFound(err)
	}
	s.publish(ctx, events.Event{Type: events.UserRoleChanged, UserID: targetID, ActorID: actorID, Data: map[string]any{"role": role}})
	logging.FromContext(ctx).Info("user_role_changed", "user_id", targetID, "actor_id", actorID, "role", role)
	return nil
}

// SetStatus enables or disables a principal. Disabled principals fail
// validate and refresh immediately.
func (s *AuthService) SetStatus(ctx context.Context, actorID, targetID string, enabled bool) error {
	id, err := s.target(actorID, targetID)
	if err != nil {
		return err
	}
	if err := s.Repo.SetEnabled(ctx, id, enabled); err != nil {
		return notFound(err)
	}
	s.publish(ctx, events.Event{Type: events.UserStatusChanged, UserID: targetID, ActorID: actorID, Data: map[string]any{"enabled": enabled}})
	logging.FromContext(ctx).Info("user_status_changed", "user_id", targetID, "actor_id", actorID, "enabled", enabled)
	return nil
}

func (s *AuthService) DeleteUser(ctx context.Context, actorID, targetID string) error {
	id, err := s.target(actorID, targetID)
	if err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, id); err != nil {
		return notFound(err)
	}
	s.publish(ctx, events.Event{Type: events.UserDeleted, UserID: targetID, ActorID: actorID})
	logging.FromContext(ctx).Info("user_deleted", "user_id", targetID, "actor_id", actorID)
	return nil
}

// target parses the id of the principal to modify. Admins cannot modify
// their own account through these operations.
func (s *AuthService) target(actorID, targetID string) (uuid.UUID, error) {
	id, err := uuid.Parse(targetID)
	if err != nil {
		return uuid.Nil, autherr.ErrNotFound
	}
	if id.String() == actorID {
		return uuid.Nil, autherr.ErrForbidden
	}
	return id, nil
}

func notFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return autherr.ErrNotFound
	}
	return err
}
