package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"agora/api/internal/auth"
	"agora/api/internal/email"
	"agora/api/internal/queue"
	"agora/api/internal/store"
	"agora/api/internal/util"
)

const TaskVisitorInvitation = "email:visitor_invitation"

type CreateVisitorInput struct {
	Name  string `json:"name" validate:"max=255"`
	Email string `json:"email" validate:"required,email"`
}

// VisitorUpdate carries the permitted fields of a visitor update. Unpermitted
// lists any other keys the client sent.
type VisitorUpdate struct {
	Name        *string
	Email       *string
	Unpermitted []string
}

type visitorInvitationPayload struct {
	VisitorID string `json:"visitor_id"`
}

func (s *Service) loadPoll(ctx context.Context, pollID string) (store.Poll, error) {
	poll, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		if isNotFound(err) {
			return store.Poll{}, notFound("Poll")
		}
		return store.Poll{}, err
	}
	return poll, nil
}

func (s *Service) loadVisitor(ctx context.Context, visitorID string) (store.Visitor, error) {
	visitor, err := s.store.GetVisitor(ctx, visitorID)
	if err != nil {
		if isNotFound(err) {
			return store.Visitor{}, notFound("Visitor")
		}
		return store.Visitor{}, err
	}
	return visitor, nil
}

// CreateVisitor invites someone to a poll by email. An existing visitor with the
// same address is re-invited instead of duplicated. Exactly one invitation is
// queued per call.
func (s *Service) CreateVisitor(ctx context.Context, actor Session, pollID string, input CreateVisitorInput) (store.Visitor, error) {
	poll, err := s.loadPoll(ctx, pollID)
	if err != nil {
		return store.Visitor{}, err
	}
	allowed, err := s.canAdministerPoll(ctx, actor, poll)
	if err != nil {
		return store.Visitor{}, err
	}
	if !allowed {
		s.metrics.VisitorInvited("forbidden")
		return store.Visitor{}, forbidden()
	}

	input.Email = strings.TrimSpace(input.Email)
	input.Name = strings.TrimSpace(input.Name)
	if err := s.check(input); err != nil {
		return store.Visitor{}, err
	}

	outcome := "reinvited"
	visitor, err := s.store.FindVisitorByEmail(ctx, poll.ID, input.Email)
	switch {
	case err == nil:
		visitor.Revoked = false
		if input.Name != "" {
			visitor.Name = input.Name
		}
		visitor, err = s.store.UpdateVisitor(ctx, visitor)
		if err != nil {
			return store.Visitor{}, err
		}
	case isNotFound(err):
		outcome = "created"
		visitor, err = s.store.CreateVisitor(ctx, store.Visitor{
			ID:              util.NewID("vis"),
			PollID:          poll.ID,
			Name:            input.Name,
			Email:           input.Email,
			InvitationToken: auth.NewInvitationToken(),
		})
		if errors.Is(err, store.ErrDuplicate) {
			return store.Visitor{}, emailTaken()
		}
		if err != nil {
			return store.Visitor{}, err
		}
	default:
		return store.Visitor{}, err
	}

	s.enqueueInvitation(ctx, visitor)
	s.metrics.VisitorInvited(outcome)
	return visitor, nil
}

func (s *Service) enqueueInvitation(ctx context.Context, visitor store.Visitor) {
	payload, err := json.Marshal(visitorInvitationPayload{VisitorID: visitor.ID})
	if err != nil {
		s.logger.Error().Err(err).Str("visitor_id", visitor.ID).Msg("encode invitation task")
		return
	}
	_, err = s.queue.Enqueue(ctx, queue.Task{Type: TaskVisitorInvitation, Payload: payload}, queue.EnqueueOption{
		Queue:    "mail",
		MaxRetry: 5,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("visitor_id", visitor.ID).Msg("enqueue visitor invitation")
	}
}

// RevokeVisitor withdraws a visitor's access. Re-inviting restores it.
func (s *Service) RevokeVisitor(ctx context.Context, actor Session, visitorID string) (store.Visitor, error) {
	visitor, err := s.loadVisitor(ctx, visitorID)
	if err != nil {
		return store.Visitor{}, err
	}
	poll, err := s.loadPoll(ctx, visitor.PollID)
	if err != nil {
		return store.Visitor{}, err
	}
	allowed, err := s.canAdministerPoll(ctx, actor, poll)
	if err != nil {
		return store.Visitor{}, err
	}
	if !allowed {
		return store.Visitor{}, forbidden()
	}
	visitor.Revoked = true
	return s.store.UpdateVisitor(ctx, visitor)
}

// UpdateVisitor lets a visitor change its own name and email. Signed-in users
// never act as visitors, so any session is refused.
func (s *Service) UpdateVisitor(ctx context.Context, actor Session, visitorID, token string, update VisitorUpdate) (store.Visitor, error) {
	if actor.SignedIn() {
		return store.Visitor{}, forbidden()
	}
	visitor, err := s.visitorForToken(ctx, token)
	if err != nil {
		return store.Visitor{}, err
	}
	if visitor.ID != visitorID {
		return store.Visitor{}, forbidden()
	}
	if len(update.Unpermitted) > 0 {
		return store.Visitor{}, unpermittedParameter(update.Unpermitted)
	}

	if update.Name != nil {
		visitor.Name = strings.TrimSpace(*update.Name)
	}
	if update.Email != nil {
		visitor.Email = strings.TrimSpace(*update.Email)
		if err := s.validate.Var(visitor.Email, "required,email"); err != nil {
			return store.Visitor{}, validationError("email is invalid", map[string]any{"fields": map[string]string{"email": "email"}})
		}
	}
	updated, err := s.store.UpdateVisitor(ctx, visitor)
	if errors.Is(err, store.ErrDuplicate) {
		return store.Visitor{}, emailTaken()
	}
	return updated, err
}

func emailTaken() *DomainError {
	return validationError("email has already been invited to this poll", map[string]any{"fields": map[string]string{"email": "taken"}})
}

// visitorForToken resolves an invitation token to a visitor that still has access.
func (s *Service) visitorForToken(ctx context.Context, token string) (store.Visitor, error) {
	if strings.TrimSpace(token) == "" {
		return store.Visitor{}, forbidden()
	}
	visitor, err := s.store.GetVisitorByToken(ctx, token)
	if err != nil {
		if isNotFound(err) {
			return store.Visitor{}, forbidden()
		}
		return store.Visitor{}, err
	}
	if visitor.Revoked {
		return store.Visitor{}, forbidden()
	}
	return visitor, nil
}

func (s *Service) ListVisitors(ctx context.Context, actor Session, pollID string) ([]store.Visitor, error) {
	poll, err := s.loadPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	allowed, err := s.canAdministerPoll(ctx, actor, poll)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, forbidden()
	}
	return s.store.ListVisitors(ctx, poll.ID)
}

// VisitorMe returns the visitor holding token and its poll.
func (s *Service) VisitorMe(ctx context.Context, token string) (store.Visitor, store.Poll, error) {
	visitor, err := s.visitorForToken(ctx, token)
	if err != nil {
		return store.Visitor{}, store.Poll{}, err
	}
	poll, err := s.loadPoll(ctx, visitor.PollID)
	if err != nil {
		return store.Visitor{}, store.Poll{}, err
	}
	return visitor, poll, nil
}

// RegisterTasks attaches the background task handlers to a queue server.
func (s *Service) RegisterTasks(server queue.Server) {
	server.Register(TaskVisitorInvitation, s.DeliverVisitorInvitation)
}

// DeliverVisitorInvitation mails the invitation link. Revoked visitors and a
// missing mail server are skipped without error.
func (s *Service) DeliverVisitorInvitation(ctx context.Context, task queue.Task) error {
	var payload visitorInvitationPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode invitation task: %w", err)
	}
	log := s.logger.With().Str("visitor_id", payload.VisitorID).Logger()

	visitor, err := s.store.GetVisitor(ctx, payload.VisitorID)
	if isNotFound(err) {
		log.Warn().Msg("invitation for missing visitor")
		return nil
	}
	if err != nil {
		return err
	}
	if visitor.Revoked {
		log.Info().Msg("skip invitation for revoked visitor")
		return nil
	}
	if s.mailer == nil || !s.mailer.IsConfigured() {
		log.Warn().Msg("email not configured, invitation not sent")
		s.metrics.EmailSent("skipped")
		return nil
	}
	poll, err := s.store.GetPoll(ctx, visitor.PollID)
	if err != nil {
		return fmt.Errorf("load poll %s: %w", visitor.PollID, err)
	}

	err = s.mailer.SendVisitorInvitation(email.VisitorInvitation{
		To:          visitor.Email,
		VisitorName: visitor.Name,
		PollTitle:   poll.Title,
		InviteURL:   s.invitationURL(visitor),
	})
	if err != nil {
		s.metrics.EmailSent("failed")
		return err
	}
	s.metrics.EmailSent("sent")
	log.Info().Str("poll_id", visitor.PollID).Msg("visitor invitation sent")
	return nil
}

func (s *Service) invitationURL(visitor store.Visitor) string {
	base := strings.TrimRight(s.cfg.AppURL, "/")
	return base + "/polls/" + url.PathEscape(visitor.PollID) + "?invitation_token=" + url.QueryEscape(visitor.InvitationToken)
}
