package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	domainoauth "github.com/darkvelocity/darkvelocity-auth/internal/domain/oauth"
	"github.com/darkvelocity/darkvelocity-auth/internal/ids"
	"github.com/darkvelocity/darkvelocity-auth/internal/jwt"
	"github.com/darkvelocity/darkvelocity-auth/internal/metrics"
	"github.com/darkvelocity/darkvelocity-auth/internal/repository"
	"github.com/darkvelocity/darkvelocity-auth/internal/token"
)

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("auth-service").Start(ctx, name)
}

func audit(event string, fields ...zap.Field) {
	zap.L().Info(event, fields...)
}

// LoginDetails carries the context a new session is created with.
type LoginDetails struct {
	SiteID      int64
	DeviceID    string
	ClientID    string
	LoginMethod string
	Scope       string
}

// TokenPair is the issued credential set for a session.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	SessionID    string `json:"-"`
}

// SessionService owns the session lifecycle: creation, refresh rotation,
// reuse detection, and revocation.
type SessionService struct {
	sessions     repository.SessionRepository
	index        repository.RefreshIndexRepository
	orgs         repository.OrgRepository
	users        repository.UserRepository
	generator    *jwt.Generator
	metrics      *metrics.Metrics
	issuer       string
	refreshTTL   time.Duration
	refreshBytes int
}

// NewSessionService constructs a SessionService.
func NewSessionService(
	sessions repository.SessionRepository,
	index repository.RefreshIndexRepository,
	orgs repository.OrgRepository,
	users repository.UserRepository,
	generator *jwt.Generator,
	m *metrics.Metrics,
	issuer string,
	refreshTTL time.Duration,
	refreshBytes int,
) *SessionService {
	return &SessionService{
		sessions:     sessions,
		index:        index,
		orgs:         orgs,
		users:        users,
		generator:    generator,
		metrics:      m,
		issuer:       issuer,
		refreshTTL:   refreshTTL,
		refreshBytes: refreshBytes,
	}
}

// Create opens a new session for an authenticated user and returns its
// token pair. The refresh token only becomes presentable once the index
// entry exists, so the session row goes in first and the tokens are
// returned last.
func (s *SessionService) Create(ctx context.Context, org domain.Org, user domain.User, details LoginDetails) (*TokenPair, error) {
	ctx, span := startSpan(ctx, "session.create")
	defer span.End()

	rawRefresh, err := token.NewOpaque(s.refreshBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	refreshHash := token.Hash(rawRefresh)

	now := time.Now().UTC()
	sess := domain.Session{
		ID:               ids.NewSessionID(),
		OrgID:            org.ID,
		UserID:           user.ID,
		SiteID:           details.SiteID,
		DeviceID:         details.DeviceID,
		ClientID:         details.ClientID,
		LoginMethod:      details.LoginMethod,
		Scope:            details.Scope,
		Status:           domain.SessionStatusActive,
		RefreshHash:      refreshHash,
		RefreshGen:       1,
		AccessExpiresAt:  now.Add(s.generator.AccessTTL()),
		RefreshExpiresAt: now.Add(s.refreshTTL),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	if err := s.index.Register(ctx, refreshHash, org.ID, sess.ID); err != nil {
		return nil, fmt.Errorf("register refresh token: %w", err)
	}

	accessToken, err := s.signAccess(ctx, org, user, sess)
	if err != nil {
		return nil, err
	}

	audit("session_created",
		zap.Int64("org_id", org.ID),
		zap.Int64("user_id", user.ID),
		zap.String("session_id", sess.ID),
		zap.String("login_method", details.LoginMethod),
	)

	return &TokenPair{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.generator.AccessTTL().Seconds()),
		RefreshToken: rawRefresh,
		Scope:        details.Scope,
		SessionID:    sess.ID,
	}, nil
}

// Refresh rotates the refresh token. Presenting a tombstoned hash is
// treated as credential theft: the whole session is revoked before the
// caller gets the grant error.
func (s *SessionService) Refresh(ctx context.Context, rawRefresh string) (*TokenPair, error) {
	ctx, span := startSpan(ctx, "session.refresh")
	defer span.End()

	oldHash := token.Hash(rawRefresh)
	entry, err := s.index.Lookup(ctx, oldHash)
	if err != nil {
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	if entry == nil {
		return nil, domainoauth.ErrInvalidGrant
	}

	if entry.RotatedAt != nil {
		s.metrics.RefreshReuse.Inc()
		audit("refresh_reuse_detected",
			zap.Int64("org_id", entry.OrgID),
			zap.String("session_id", entry.SessionID),
		)
		if err := s.RevokeSession(ctx, entry.OrgID, entry.SessionID, "refresh_reuse"); err != nil {
			zap.L().Error("revoke reused session", zap.Error(err))
		}
		return nil, domainoauth.ErrInvalidGrant
	}

	sess, err := s.sessions.Get(ctx, entry.OrgID, entry.SessionID)
	if err != nil || sess.Status != domain.SessionStatusActive || sess.RefreshHash != oldHash {
		// The live entry points at a session that is gone, revoked, or
		// holding a different hash. It can never succeed again, so drop it.
		if err := s.index.Remove(ctx, oldHash); err != nil {
			zap.L().Error("remove stale refresh entry", zap.Error(err))
		}
		return nil, domainoauth.ErrInvalidGrant
	}
	if time.Now().UTC().After(sess.RefreshExpiresAt) {
		if err := s.RevokeSession(ctx, sess.OrgID, sess.ID, "refresh_expired"); err != nil {
			zap.L().Error("revoke expired session", zap.Error(err))
		}
		return nil, domainoauth.ErrInvalidGrant
	}

	rawNext, err := token.NewOpaque(s.refreshBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	newHash := token.Hash(rawNext)

	rotated, err := s.sessions.RotateRefresh(ctx, sess.OrgID, sess.ID, oldHash, newHash, time.Now().UTC().Add(s.refreshTTL))
	if err != nil {
		if errors.Is(err, repository.ErrRotateConflict) {
			return nil, domainoauth.ErrInvalidGrant
		}
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	if err := s.index.Rotate(ctx, oldHash, newHash, rotated.OrgID, rotated.ID); err != nil {
		return nil, fmt.Errorf("rotate refresh index: %w", err)
	}

	org, err := s.orgs.GetOrg(ctx, rotated.OrgID)
	if err != nil {
		return nil, fmt.Errorf("load org: %w", err)
	}
	user, err := s.users.GetByID(ctx, rotated.OrgID, rotated.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.Status != domain.UserStatusActive {
		if err := s.RevokeSession(ctx, rotated.OrgID, rotated.ID, "user_inactive"); err != nil {
			zap.L().Error("revoke inactive user session", zap.Error(err))
		}
		return nil, domainoauth.ErrInvalidGrant
	}

	accessToken, err := s.signAccess(ctx, org, user, rotated)
	if err != nil {
		return nil, err
	}

	audit("session_refreshed",
		zap.Int64("org_id", rotated.OrgID),
		zap.String("session_id", rotated.ID),
		zap.Int64("refresh_gen", rotated.RefreshGen),
	)

	return &TokenPair{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.generator.AccessTTL().Seconds()),
		RefreshToken: rawNext,
		Scope:        rotated.Scope,
		SessionID:    rotated.ID,
	}, nil
}

// RevokeSession marks the session revoked and drops its index entries.
func (s *SessionService) RevokeSession(ctx context.Context, orgID int64, sessionID, reason string) error {
	ctx, span := startSpan(ctx, "session.revoke")
	defer span.End()

	if err := s.sessions.Revoke(ctx, orgID, sessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if err := s.index.RemoveSession(ctx, orgID, sessionID); err != nil {
		return fmt.Errorf("remove session refresh tokens: %w", err)
	}

	s.metrics.SessionsRevoked.WithLabelValues(reason).Inc()
	audit("session_revoked",
		zap.Int64("org_id", orgID),
		zap.String("session_id", sessionID),
		zap.String("reason", reason),
	)
	return nil
}

// RevokeByDevice revokes every active session bound to a device. Index
// entries for those sessions stay behind; Refresh rejects them on the
// status check.
func (s *SessionService) RevokeByDevice(ctx context.Context, orgID int64, deviceID, reason string) error {
	if err := s.sessions.RevokeByDevice(ctx, orgID, deviceID); err != nil {
		return fmt.Errorf("revoke device sessions: %w", err)
	}
	s.metrics.SessionsRevoked.WithLabelValues(reason).Inc()
	audit("device_sessions_revoked",
		zap.Int64("org_id", orgID),
		zap.String("device_id", deviceID),
		zap.String("reason", reason),
	)
	return nil
}

// RevokeByRefreshToken revokes the session behind a presented refresh
// token. Unknown tokens succeed quietly so the endpoint does not leak
// which credentials exist.
func (s *SessionService) RevokeByRefreshToken(ctx context.Context, rawRefresh string) error {
	entry, err := s.index.Lookup(ctx, token.Hash(rawRefresh))
	if err != nil {
		return fmt.Errorf("lookup refresh token: %w", err)
	}
	if entry == nil {
		return nil
	}
	return s.RevokeSession(ctx, entry.OrgID, entry.SessionID, "revocation_request")
}

// Session loads a session by id.
func (s *SessionService) Session(ctx context.Context, orgID int64, sessionID string) (domain.Session, error) {
	return s.sessions.Get(ctx, orgID, sessionID)
}

func (s *SessionService) signAccess(ctx context.Context, org domain.Org, user domain.User, sess domain.Session) (string, error) {
	accessToken, err := s.generator.GenerateAccessToken(ctx, org, fmt.Sprintf("%d", user.ID), jwt.AccessTokenClaims{
		SiteID:      sess.SiteID,
		DeviceID:    sess.DeviceID,
		SessionID:   sess.ID,
		Scope:       sess.Scope,
		Email:       user.Email,
		Name:        user.Name,
		Roles:       user.Roles,
		LoginMethod: sess.LoginMethod,
	}, s.issuer)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return accessToken, nil
}
