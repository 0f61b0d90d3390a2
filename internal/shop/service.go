package shop

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"shopauth/pkg/sentinel"
	"shopauth/pkg/shopify"
)

// SessionResolver loads and deletes Shopify OAuth sessions by id. LoadSession
// returns sentinel.ErrNotFound for unknown or already expired ids.
type SessionResolver interface {
	LoadSession(ctx context.Context, id string) (*shopify.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// UninstallResult summarises a DeleteShop cascade.
type UninstallResult struct {
	Users           int
	SessionsDeleted int
	SessionsFailed  int
	PointersDeleted bool
}

// Service composes the member index and the session pointers into the
// save/lookup/delete operations callers need.
type Service struct {
	users    *UserIndex
	pointers *SessionPointers
	sessions SessionResolver
	logger   *slog.Logger
	metrics  Metrics
	tracer   trace.Tracer
	now      func() time.Time

	cascadeConcurrency int
}

type ServiceOption func(*Service)

// WithClock replaces time.Now; tests pin it.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithCascadeConcurrency bounds parallel OAuth session deletes during DeleteShop.
func WithCascadeConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.cascadeConcurrency = n
		}
	}
}

func NewService(users *UserIndex, pointers *SessionPointers, sessions SessionResolver, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		users:              users,
		pointers:           pointers,
		sessions:           sessions,
		logger:             logger,
		metrics:            nopMetrics{},
		tracer:             otel.Tracer("shopauth/internal/shop"),
		now:                time.Now,
		cascadeConcurrency: 4,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SaveSession records that userID installed shop with the Shopify session
// sessionID. Membership is written first; the pointer only after membership
// succeeded, so a failed save never leaves a pointer behind for a non-member.
// ttl <= 0 falls back to shopify.DefaultSessionTTL.
func (s *Service) SaveSession(ctx context.Context, userID, shop, sessionID string, ttl time.Duration) (err error) {
	ctx, span := s.start(ctx, "shop.SaveSession", shop)
	defer func() { s.finish(span, "save_session", err) }()

	if userID == "" || shop == "" || sessionID == "" {
		return fmt.Errorf("user, shop and session id are required: %w", sentinel.ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = shopify.DefaultSessionTTL
	}

	if err := s.users.Add(ctx, shop, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to register shop member", "error", err, "shop", shop, "user_id", userID)
		return fmt.Errorf("register shop member: %w", err)
	}
	if err := s.pointers.Set(ctx, userID, shop, sessionID, ttl); err != nil {
		s.logger.ErrorContext(ctx, "failed to store session pointer", "error", err, "shop", shop, "user_id", userID)
		return fmt.Errorf("store session pointer: %w", err)
	}
	return nil
}

// AccessToken returns the live Shopify access token userID may use for shop.
//
// Errors: sentinel.ErrForbidden when userID is not a member of shop (checked
// before any pointer is read), sentinel.ErrNotFound when no pointer or session
// exists, sentinel.ErrExpired when the session's own expiry has passed, and
// sentinel.ErrUnavailable when a store could not be reached.
func (s *Service) AccessToken(ctx context.Context, userID, shop string) (token string, err error) {
	ctx, span := s.start(ctx, "shop.AccessToken", shop)
	defer func() { s.finish(span, "access_token", err) }()

	if userID == "" || shop == "" {
		return "", fmt.Errorf("user and shop are required: %w", sentinel.ErrInvalidInput)
	}

	members, err := s.users.List(ctx, shop)
	if err != nil {
		return "", err
	}
	if !slices.Contains(members, userID) {
		return "", fmt.Errorf("user %s is not a member of %s: %w", userID, shop, sentinel.ErrForbidden)
	}

	sessionID, err := s.pointers.Get(ctx, userID, shop)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.DebugContext(ctx, "no session pointer for shop member", "shop", shop, "user_id", userID)
		}
		return "", err
	}

	sess, err := s.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load shopify session %s: %w", sessionID, err)
	}
	if sess == nil || sess.AccessToken == "" {
		return "", fmt.Errorf("shopify session %s: %w", sessionID, sentinel.ErrNotFound)
	}
	if sess.Shop != "" && sess.Shop != shop {
		s.logger.WarnContext(ctx, "session pointer references another shop",
			"shop", shop,
			"session_shop", sess.Shop,
			"session_id", sessionID,
		)
		return "", fmt.Errorf("shopify session %s belongs to %s: %w", sessionID, sess.Shop, sentinel.ErrNotFound)
	}
	// The OAuth expiry wins over the pointer TTL; the two can drift.
	if !sess.IsActive(s.now()) {
		return "", fmt.Errorf("shopify session %s expired at %s: %w", sessionID, sess.Expires.Format(time.RFC3339), sentinel.ErrExpired)
	}
	return sess.AccessToken, nil
}

// DeleteShop removes every trace of shop: each member's OAuth session, each
// member's pointer and finally the member set. If the members or their
// pointers cannot be read nothing is deleted, so a retry still finds them.
// Once they are read, session and pointer cleanup is best-effort and only
// logged; the returned error reflects the final set deletion alone. A shop
// without a member set yields sentinel.ErrNotFound.
func (s *Service) DeleteShop(ctx context.Context, shop string) (res *UninstallResult, err error) {
	ctx, span := s.start(ctx, "shop.DeleteShop", shop)
	defer func() { s.finish(span, "delete_shop", err) }()

	res = &UninstallResult{}
	if shop == "" {
		return res, fmt.Errorf("shop is required: %w", sentinel.ErrInvalidInput)
	}

	members, err := s.users.List(ctx, shop)
	if err != nil {
		s.metrics.IncCascadeFailure("list_members")
		return res, fmt.Errorf("list shop members: %w", err)
	}
	res.Users = len(members)

	if len(members) > 0 {
		sessionIDs, err := s.pointers.GetMany(ctx, members, shop)
		if err != nil {
			s.metrics.IncCascadeFailure("read_pointers")
			return res, fmt.Errorf("read session pointers: %w", err)
		}
		// Offline sessions are shared by every member of a shop.
		slices.Sort(sessionIDs)
		sessionIDs = slices.Compact(sessionIDs)

		res.SessionsDeleted, res.SessionsFailed = s.deleteSessions(ctx, shop, sessionIDs)

		if err := s.pointers.DeleteMany(ctx, members, shop); err != nil {
			s.metrics.IncCascadeFailure("delete_pointers")
			s.logger.WarnContext(ctx, "failed to delete all session pointers during uninstall",
				"error", err,
				"shop", shop,
				"users", len(members),
			)
		} else {
			res.PointersDeleted = true
		}
	}

	existed, err := s.users.Delete(ctx, shop)
	if err != nil {
		return res, fmt.Errorf("delete shop members: %w", err)
	}
	if !existed {
		return res, fmt.Errorf("shop %s has no members: %w", shop, sentinel.ErrNotFound)
	}

	s.logger.InfoContext(ctx, "shop deleted",
		"shop", shop,
		"users", res.Users,
		"sessions_deleted", res.SessionsDeleted,
		"sessions_failed", res.SessionsFailed,
	)
	return res, nil
}

// deleteSessions deletes OAuth sessions in parallel. A failure never stops the
// others; sessions that are already gone count as deleted.
func (s *Service) deleteSessions(ctx context.Context, shop string, ids []string) (deleted, failed int) {
	var okN, failN atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.cascadeConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.sessions.DeleteSession(ctx, id); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				failN.Add(1)
				s.metrics.IncCascadeFailure("delete_session")
				s.logger.ErrorContext(ctx, "failed to delete shopify session during uninstall",
					"error", err,
					"shop", shop,
					"session_id", id,
				)
				return nil
			}
			okN.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(okN.Load()), int(failN.Load())
}

// RemoveUser detaches one user from shop. Membership goes first so the user
// loses access even if the pointer or session cleanup fails afterwards. The
// OAuth session is deleted only when no remaining member points at it, since
// offline sessions are shared by the whole shop.
func (s *Service) RemoveUser(ctx context.Context, userID, shop string) (err error) {
	ctx, span := s.start(ctx, "shop.RemoveUser", shop)
	defer func() { s.finish(span, "remove_user", err) }()

	if userID == "" || shop == "" {
		return fmt.Errorf("user and shop are required: %w", sentinel.ErrInvalidInput)
	}

	removed, err := s.users.RemoveUser(ctx, shop, userID)
	if err != nil {
		return fmt.Errorf("remove shop member: %w", err)
	}

	sessionID, err := s.pointers.Get(ctx, userID, shop)
	switch {
	case err == nil:
		shared, err := s.sessionShared(ctx, shop, sessionID)
		switch {
		case err != nil:
			s.logger.ErrorContext(ctx, "kept shopify session, could not check other members", "error", err, "shop", shop, "session_id", sessionID)
		case shared:
			s.logger.DebugContext(ctx, "kept shopify session shared with other members", "shop", shop, "session_id", sessionID)
		default:
			if err := s.sessions.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				s.logger.ErrorContext(ctx, "failed to delete shopify session", "error", err, "shop", shop, "session_id", sessionID)
			}
		}
		if _, err := s.pointers.Delete(ctx, userID, shop); err != nil {
			s.logger.ErrorContext(ctx, "failed to delete session pointer", "error", err, "shop", shop, "user_id", userID)
		}
	case !errors.Is(err, sentinel.ErrNotFound):
		s.logger.ErrorContext(ctx, "failed to read session pointer", "error", err, "shop", shop, "user_id", userID)
	}

	if !removed {
		return fmt.Errorf("user %s is not a member of %s: %w", userID, shop, sentinel.ErrNotFound)
	}
	return nil
}

// sessionShared reports whether any current member of shop still points at sessionID.
func (s *Service) sessionShared(ctx context.Context, shop, sessionID string) (bool, error) {
	members, err := s.users.List(ctx, shop)
	if err != nil {
		return false, err
	}
	if len(members) == 0 {
		return false, nil
	}
	ids, err := s.pointers.GetMany(ctx, members, shop)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, sessionID), nil
}

func (s *Service) start(ctx context.Context, name, shop string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("shop.domain", shop)))
}

func (s *Service) finish(span trace.Span, op string, err error) {
	result := resultLabel(err)
	s.metrics.ObserveOperation(op, result)
	if result == "error" || result == "unavailable" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("result", result))
	span.End()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, sentinel.ErrForbidden):
		return "forbidden"
	case errors.Is(err, sentinel.ErrNotFound):
		return "not_found"
	case errors.Is(err, sentinel.ErrExpired):
		return "expired"
	case errors.Is(err, sentinel.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, sentinel.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
