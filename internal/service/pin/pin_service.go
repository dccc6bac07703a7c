// Package pin implements terminal logins: a PIN typed on an authorized
// point-of-sale device, either directly for a token pair or through the
// authorization-code flow for clients that complete at the token endpoint.
package pin

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	domainoauth "github.com/darkvelocity/darkvelocity-auth/internal/domain/oauth"
	"github.com/darkvelocity/darkvelocity-auth/internal/metrics"
	pinhash "github.com/darkvelocity/darkvelocity-auth/internal/pin"
	"github.com/darkvelocity/darkvelocity-auth/internal/policy"
	"github.com/darkvelocity/darkvelocity-auth/internal/repository"
	"github.com/darkvelocity/darkvelocity-auth/internal/service"
	"github.com/darkvelocity/darkvelocity-auth/internal/token"
)

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("pin-flow").Start(ctx, name)
}

// LoginRequest is a direct PIN login from a terminal. OrgID is optional;
// when the terminal sends one it must agree with the resolved tenant.
type LoginRequest struct {
	OrgID    int64
	SiteID   int64
	DeviceID string
	Pin      string
	ClientID string
	Scope    string
}

// Service implements PIN authentication against authorized devices.
type Service struct {
	devices    repository.DeviceRepository
	users      repository.UserRepository
	sessions   *service.SessionService
	authSvc    *service.AuthService
	pending    repository.PendingStore
	checker    policy.Checker
	metrics    *metrics.Metrics
	digestKey  []byte
	pendingTTL time.Duration
}

// NewService constructs a PIN Service. digestKey is the HMAC key for the
// site-scoped PIN lookup digests.
func NewService(
	devices repository.DeviceRepository,
	users repository.UserRepository,
	sessions *service.SessionService,
	authSvc *service.AuthService,
	pending repository.PendingStore,
	checker policy.Checker,
	m *metrics.Metrics,
	digestKey []byte,
	pendingTTL time.Duration,
) *Service {
	return &Service{
		devices:    devices,
		users:      users,
		sessions:   sessions,
		authSvc:    authSvc,
		pending:    pending,
		checker:    checker,
		metrics:    m,
		digestKey:  digestKey,
		pendingTTL: pendingTTL,
	}
}

// Login authenticates a PIN typed on a device and opens a session. Wrong
// PINs, locked users, and missing site access all collapse to
// ErrInvalidPin so the terminal cannot enumerate which staff exist.
func (s *Service) Login(ctx context.Context, org domain.Org, req LoginRequest) (*service.TokenPair, error) {
	ctx, span := startSpan(ctx, "pin.login")
	defer span.End()

	if req.OrgID != 0 && req.OrgID != org.ID {
		return nil, domainoauth.ErrInvalidRequest
	}

	device, err := s.devices.Get(ctx, org.ID, req.DeviceID)
	if err != nil || !device.CanLogin(org.ID, req.SiteID) {
		s.metrics.Logins.WithLabelValues(domain.LoginMethodPin, "failure").Inc()
		return nil, domainoauth.ErrAccessDenied
	}

	user, err := s.authenticate(ctx, org.ID, req.SiteID, req.Pin)
	if err != nil {
		s.metrics.Logins.WithLabelValues(domain.LoginMethodPin, "failure").Inc()
		audit := zap.L().With(
			zap.Int64("org_id", org.ID),
			zap.Int64("site_id", req.SiteID),
			zap.String("device_id", req.DeviceID),
		)
		audit.Warn("pin_login_failed")
		return nil, err
	}

	if err := s.checker.Allow(ctx, policy.LoginRequest{
		Org:         org,
		User:        user,
		SiteID:      req.SiteID,
		DeviceID:    req.DeviceID,
		ClientID:    req.ClientID,
		LoginMethod: domain.LoginMethodPin,
	}); err != nil {
		s.metrics.Logins.WithLabelValues(domain.LoginMethodPin, "denied").Inc()
		return nil, domainoauth.ErrAccessDenied
	}

	// Handing the terminal to a new operator ends the previous
	// operator's sessions on it.
	if device.CurrentUserID != 0 && device.CurrentUserID != user.ID {
		if err := s.sessions.RevokeByDevice(ctx, org.ID, req.DeviceID, "device_reassigned"); err != nil {
			zap.L().Error("revoke device sessions", zap.Error(err))
		}
	}

	pair, err := s.sessions.Create(ctx, org, user, service.LoginDetails{
		SiteID:      req.SiteID,
		DeviceID:    req.DeviceID,
		ClientID:    req.ClientID,
		LoginMethod: domain.LoginMethodPin,
		Scope:       req.Scope,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.devices.BindCurrentUser(ctx, org.ID, req.DeviceID, user.ID, now); err != nil {
		zap.L().Error("bind device user", zap.Error(err))
	}

	s.metrics.Logins.WithLabelValues(domain.LoginMethodPin, "success").Inc()
	return pair, nil
}

// StartAuthorization begins the code-flow variant: it lists the staff
// eligible on the device's site and parks the flow under a pending token.
func (s *Service) StartAuthorization(ctx context.Context, org domain.Org, req LoginRequest, redirectURI, codeChallenge, codeChallengeMethod string) (string, []domainoauth.PendingPinUser, error) {
	ctx, span := startSpan(ctx, "pin.start_authorization")
	defer span.End()

	if req.OrgID != 0 && req.OrgID != org.ID {
		return "", nil, domainoauth.ErrInvalidRequest
	}

	device, err := s.devices.Get(ctx, org.ID, req.DeviceID)
	if err != nil || !device.CanLogin(org.ID, req.SiteID) {
		return "", nil, domainoauth.ErrAccessDenied
	}

	staff, err := s.users.ListBySite(ctx, org.ID, req.SiteID)
	if err != nil {
		return "", nil, fmt.Errorf("list site staff: %w", err)
	}
	eligible := make([]domainoauth.PendingPinUser, 0, len(staff))
	for _, user := range staff {
		eligible = append(eligible, domainoauth.PendingPinUser{UserID: user.ID, Name: user.Name})
	}

	pendingToken, err := token.NewOpaque(32)
	if err != nil {
		return "", nil, fmt.Errorf("generate pending token: %w", err)
	}
	record := domainoauth.PendingPinAuth{
		OrgID:               org.ID,
		SiteID:              req.SiteID,
		DeviceID:            req.DeviceID,
		ClientID:            req.ClientID,
		RedirectURI:         redirectURI,
		Scope:               req.Scope,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		Users:               eligible,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.pending.Set(ctx, pendingToken, record, s.pendingTTL); err != nil {
		return "", nil, fmt.Errorf("save pending pin auth: %w", err)
	}

	return pendingToken, eligible, nil
}

// VerifyPin completes the code-flow variant: the selected user's PIN is
// checked and a one-time authorization code is issued for the token
// endpoint. The pending record is removed first so it cannot be replayed.
func (s *Service) VerifyPin(ctx context.Context, pendingToken string, userID int64, pin string) (string, error) {
	ctx, span := startSpan(ctx, "pin.verify")
	defer span.End()

	var record domainoauth.PendingPinAuth
	if err := s.pending.Get(ctx, pendingToken, &record); err != nil {
		return "", err
	}
	if !record.Eligible(userID) {
		return "", domainoauth.ErrInvalidPin
	}

	user, err := s.users.GetByID(ctx, record.OrgID, userID)
	if err != nil {
		return "", domainoauth.ErrInvalidPin
	}
	if err := s.verifyUserPin(user, record.SiteID, pin); err != nil {
		s.metrics.Logins.WithLabelValues(domain.LoginMethodPin, "failure").Inc()
		return "", err
	}

	if err := s.pending.Remove(ctx, pendingToken); err != nil {
		return "", fmt.Errorf("remove pending pin auth: %w", err)
	}

	code, err := s.authSvc.IssueAuthorizationCode(ctx, service.CodeIssue{
		OrgID:               record.OrgID,
		ClientID:            record.ClientID,
		UserID:              user.ID,
		RedirectURI:         record.RedirectURI,
		Scope:               record.Scope,
		CodeChallenge:       record.CodeChallenge,
		CodeChallengeMethod: record.CodeChallengeMethod,
		DisplayName:         user.Name,
		Roles:               user.Roles,
		LoginMethod:         domain.LoginMethodPin,
		SiteID:              record.SiteID,
		DeviceID:            record.DeviceID,
	})
	if err != nil {
		return "", err
	}

	s.metrics.Logins.WithLabelValues(domain.LoginMethodPin, "success").Inc()
	return code, nil
}

// AuthorizeDevice binds a terminal to the org and site and activates it.
func (s *Service) AuthorizeDevice(ctx context.Context, org domain.Org, deviceID string, siteID int64) error {
	ctx, span := startSpan(ctx, "pin.authorize_device")
	defer span.End()

	if deviceID == "" || siteID == 0 {
		return domainoauth.ErrInvalidRequest
	}
	if err := s.devices.Authorize(ctx, deviceID, org.ID, siteID); err != nil {
		return fmt.Errorf("authorize device: %w", err)
	}

	zap.L().Info("device_authorized",
		zap.Int64("org_id", org.ID),
		zap.Int64("site_id", siteID),
		zap.String("device_id", deviceID),
	)
	return nil
}

// SetDeviceStatus moves an authorized terminal between ACTIVE, SUSPENDED,
// and REVOKED. Taking a device out of service ends every session on it and
// releases the operator binding.
func (s *Service) SetDeviceStatus(ctx context.Context, org domain.Org, deviceID, status string) error {
	ctx, span := startSpan(ctx, "pin.set_device_status")
	defer span.End()

	switch status {
	case domain.DeviceStatusActive, domain.DeviceStatusSuspended, domain.DeviceStatusRevoked:
	default:
		return domainoauth.ErrInvalidRequest
	}

	device, err := s.devices.Get(ctx, org.ID, deviceID)
	if err != nil {
		return domainoauth.ErrInvalidRequest
	}
	if err := s.devices.SetStatus(ctx, org.ID, deviceID, status); err != nil {
		return fmt.Errorf("set device status: %w", err)
	}

	if status != domain.DeviceStatusActive {
		reason := "device_suspended"
		if status == domain.DeviceStatusRevoked {
			reason = "device_revoked"
		}
		if err := s.sessions.RevokeByDevice(ctx, org.ID, deviceID, reason); err != nil {
			zap.L().Error("revoke device sessions", zap.Error(err))
		}
		if device.CurrentUserID != 0 {
			if err := s.devices.ClearCurrentUser(ctx, org.ID, deviceID); err != nil {
				zap.L().Error("clear device user", zap.Error(err))
			}
		}
	}

	zap.L().Info("device_status_changed",
		zap.Int64("org_id", org.ID),
		zap.String("device_id", deviceID),
		zap.String("status", status),
	)
	return nil
}

// Logout revokes the session and releases the terminal binding.
func (s *Service) Logout(ctx context.Context, orgID int64, sessionID string) error {
	ctx, span := startSpan(ctx, "pin.logout")
	defer span.End()

	sess, err := s.sessions.Session(ctx, orgID, sessionID)
	if err != nil {
		return domainoauth.ErrInvalidRequest
	}
	if err := s.sessions.RevokeSession(ctx, orgID, sessionID, "logout"); err != nil {
		return err
	}
	if sess.DeviceID != "" {
		if err := s.devices.ClearCurrentUser(ctx, orgID, sess.DeviceID); err != nil {
			zap.L().Error("clear device user", zap.Error(err))
		}
	}
	return nil
}

// authenticate finds the user behind a PIN at a site. The digest lookup
// narrows to a candidate with access to the site; the argon2 hash is the
// verification authority.
func (s *Service) authenticate(ctx context.Context, orgID, siteID int64, pin string) (domain.User, error) {
	digest := pinhash.Digest(s.digestKey, orgID, pin)
	user, err := s.users.GetByPinDigest(ctx, orgID, siteID, digest)
	if err != nil {
		return domain.User{}, domainoauth.ErrInvalidPin
	}
	if err := s.verifyUserPin(user, siteID, pin); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (s *Service) verifyUserPin(user domain.User, siteID int64, pin string) error {
	if user.Status != domain.UserStatusActive {
		return domainoauth.ErrInvalidPin
	}
	if !user.HasSiteAccess(siteID) {
		return domainoauth.ErrInvalidPin
	}
	ok, err := pinhash.Verify(pin, user.PinHash)
	if err != nil || !ok {
		return domainoauth.ErrInvalidPin
	}
	return nil
}
