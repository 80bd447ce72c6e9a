package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/ModbusStation/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Permission string

const (
	PermViewer Permission = "viewer"
	PermAdmin  Permission = "admin"
)

const RoleAdmin = "admin"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
)

type loginAttempts struct {
	failed      int
	lockedUntil time.Time
}

// AuthService authenticates the configured admin account and issues access
// tokens for the sensor management API.
type AuthService struct {
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	adminUser      string
	adminHash      string
	maxFailed      int
	lockDuration   time.Duration
	logger         *zap.Logger
	now            func() time.Time

	mu       sync.Mutex
	attempts map[string]*loginAttempts
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	a := &AuthService{
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasher(),
		adminUser:      cfg.AdminUser,
		adminHash:      cfg.AdminPasswordHash,
		maxFailed:      cfg.MaxFailedLoginAttempts,
		lockDuration:   cfg.AccountLockDuration,
		logger:         logger,
		now:            time.Now,
		attempts:       make(map[string]*loginAttempts),
	}

	if a.adminHash != "" && a.passwordHasher.NeedsRehash(a.adminHash) {
		logger.Warn("Admin password hash is malformed or weaker than the current Argon2id settings",
			zap.String("user", a.adminUser))
	}
	return a
}

// LoginEnabled is false when no admin password hash is configured; the API
// is then read-only.
func (a *AuthService) LoginEnabled() bool {
	return a.adminUser != "" && a.adminHash != ""
}

// LoginUser checks the admin credentials and returns an access token and its
// lifetime.
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress string) (string, time.Duration, error) {
	if !a.LoginEnabled() {
		a.logAuthEvent("user_login_failed", username, ipAddress, false, "login disabled")
		return "", 0, ErrInvalidCredentials
	}

	if until, locked := a.lockedUntil(username); locked {
		a.logAuthEvent("user_login_failed", username, ipAddress, false, "account locked")
		return "", 0, fmt.Errorf("%w until %s", ErrAccountLocked, until.Format(time.RFC3339))
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.adminUser)) == 1
	valid, err := a.passwordHasher.VerifyPassword(password, a.adminHash)
	if err != nil {
		a.logger.Error("Configured admin password hash is unusable", zap.Error(err))
	}
	if !userOK || err != nil || !valid {
		a.recordFailure(username)
		a.logAuthEvent("user_login_failed", username, ipAddress, false, "invalid credentials")
		return "", 0, ErrInvalidCredentials
	}

	a.resetFailures(username)

	userID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(username))
	token, err := a.jwtHandler.GenerateAccessToken(userID, username, RoleAdmin)
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logAuthEvent("user_login_success", username, ipAddress, true, "")
	return token, a.jwtHandler.AccessTokenTTL(), nil
}

// ValidateToken validates an access token and returns the permissions of its role.
func (a *AuthService) ValidateToken(token string) (*JWTClaims, []Permission, error) {
	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, nil, err
	}
	return claims, a.roleToPermissions(claims.Role), nil
}

func (a *AuthService) roleToPermissions(role string) []Permission {
	switch role {
	case RoleAdmin:
		return []Permission{PermViewer, PermAdmin}
	default:
		return []Permission{PermViewer}
	}
}

func (a *AuthService) lockedUntil(username string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	at, ok := a.attempts[username]
	if !ok || at.lockedUntil.IsZero() {
		return time.Time{}, false
	}
	if a.now().Before(at.lockedUntil) {
		return at.lockedUntil, true
	}
	delete(a.attempts, username)
	return time.Time{}, false
}

func (a *AuthService) recordFailure(username string) {
	if a.maxFailed <= 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	at, ok := a.attempts[username]
	if !ok {
		at = &loginAttempts{}
		a.attempts[username] = at
	}
	at.failed++
	if at.failed >= a.maxFailed {
		at.lockedUntil = a.now().Add(a.lockDuration)
		a.logger.Warn("Account locked after failed logins",
			zap.String("username", username),
			zap.Int("attempts", at.failed),
			zap.Time("locked_until", at.lockedUntil))
	}
}

func (a *AuthService) resetFailures(username string) {
	a.mu.Lock()
	delete(a.attempts, username)
	a.mu.Unlock()
}

func (a *AuthService) logAuthEvent(eventType, username, ip string, success bool, reason string) {
	fields := []zap.Field{
		zap.String("event", eventType),
		zap.String("username", username),
		zap.String("ip", ip),
		zap.Bool("success", success),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	if success {
		a.logger.Info("Auth event", fields...)
		return
	}
	a.logger.Warn("Auth event", fields...)
}
