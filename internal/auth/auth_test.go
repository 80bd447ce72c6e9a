package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/ModbusStation/internal/config"
)

func testHash(t *testing.T, password string) string {
	t.Helper()
	h, err := newPasswordHasher(1024, 1).HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword err=%v", err)
	}
	return h
}

func newTestService(t *testing.T, maxFailed int) *AuthService {
	t.Helper()
	t.Setenv("MBS_TEST_JWT", "0123456789abcdef0123456789abcdef")
	return NewAuthService(config.AuthConfig{
		JWTSecretEnv:           "MBS_TEST_JWT",
		AccessTokenTTL:         time.Minute,
		AdminUser:              "admin",
		AdminPasswordHash:      testHash(t, "s3cret"),
		MaxFailedLoginAttempts: maxFailed,
		AccountLockDuration:    time.Minute,
	}, zap.NewNop())
}

func TestPasswordHasher_RoundTrip(t *testing.T) {
	ph := newPasswordHasher(1024, 1)
	h, err := ph.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword err=%v", err)
	}

	ok, err := ph.VerifyPassword("hunter2", h)
	if err != nil || !ok {
		t.Fatalf("VerifyPassword(correct) ok=%v err=%v", ok, err)
	}
	ok, err = ph.VerifyPassword("hunter3", h)
	if err != nil || ok {
		t.Fatalf("VerifyPassword(wrong) ok=%v err=%v", ok, err)
	}
}

func TestPasswordHasher_BadFormat(t *testing.T) {
	ph := newPasswordHasher(1024, 1)
	for _, h := range []string{"", "plain", "$bcrypt$v=19$m=1,t=1,p=1$aa$bb"} {
		if _, err := ph.VerifyPassword("x", h); err == nil {
			t.Fatalf("VerifyPassword(%q) err=nil", h)
		}
	}
}

func TestJWT_RoundTrip(t *testing.T) {
	j := NewJWTHandler("secret-one", time.Minute)
	id := uuid.New()

	tok, err := j.GenerateAccessToken(id, "admin", RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateAccessToken err=%v", err)
	}
	claims, err := j.ValidateAccessToken(tok)
	if err != nil {
		t.Fatalf("ValidateAccessToken err=%v", err)
	}
	if claims.UserID != id || claims.Username != "admin" || claims.Role != RoleAdmin || claims.Subject != "admin" {
		t.Fatalf("claims=%+v", claims)
	}

	if _, err := NewJWTHandler("secret-two", time.Minute).ValidateAccessToken(tok); err == nil {
		t.Fatalf("token accepted with a different secret")
	}
}

func TestJWT_Expired(t *testing.T) {
	j := NewJWTHandler("secret", -time.Minute)
	if j.AccessTokenTTL() != time.Hour {
		t.Fatalf("ttl=%s, want default 1h", j.AccessTokenTTL())
	}

	j.accessTokenTTL = -time.Minute
	tok, err := j.GenerateAccessToken(uuid.New(), "admin", RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateAccessToken err=%v", err)
	}
	if _, err := j.ValidateAccessToken(tok); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestAuthService_Login(t *testing.T) {
	s := newTestService(t, 5)

	tok, ttl, err := s.LoginUser(context.Background(), "admin", "s3cret", "127.0.0.1")
	if err != nil {
		t.Fatalf("LoginUser err=%v", err)
	}
	if ttl != time.Minute {
		t.Fatalf("ttl=%s", ttl)
	}

	claims, perms, err := s.ValidateToken(tok)
	if err != nil {
		t.Fatalf("ValidateToken err=%v", err)
	}
	if claims.Role != RoleAdmin || len(perms) != 2 || perms[1] != PermAdmin {
		t.Fatalf("claims=%+v perms=%v", claims, perms)
	}
	if claims.UserID != uuid.NewSHA1(uuid.NameSpaceOID, []byte("admin")) {
		t.Fatalf("user id not stable: %s", claims.UserID)
	}

	if _, _, err := s.LoginUser(context.Background(), "admin", "nope", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err=%v", err)
	}
	if _, _, err := s.LoginUser(context.Background(), "root", "s3cret", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong user err=%v", err)
	}
}

func TestAuthService_Lockout(t *testing.T) {
	s := newTestService(t, 2)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if _, _, err := s.LoginUser(context.Background(), "admin", "bad", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d err=%v", i, err)
		}
	}
	if _, _, err := s.LoginUser(context.Background(), "admin", "s3cret", ""); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("locked login err=%v, want ErrAccountLocked", err)
	}

	now = now.Add(2 * time.Minute)
	if _, _, err := s.LoginUser(context.Background(), "admin", "s3cret", ""); err != nil {
		t.Fatalf("login after lock expiry err=%v", err)
	}
}

func TestAuthService_LoginDisabled(t *testing.T) {
	s := NewAuthService(config.AuthConfig{AdminUser: "admin"}, zap.NewNop())
	if s.LoginEnabled() {
		t.Fatalf("LoginEnabled without hash")
	}
	if _, _, err := s.LoginUser(context.Background(), "admin", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err=%v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestService(t, 5)

	r := gin.New()
	r.GET("/admin", s.AuthMiddleware(), RequirePermission(PermAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, GetUsername(c))
	})

	viewerTok, err := s.jwtHandler.GenerateAccessToken(uuid.New(), "guest", "viewer")
	if err != nil {
		t.Fatalf("GenerateAccessToken err=%v", err)
	}
	adminTok, _, err := s.LoginUser(context.Background(), "admin", "s3cret", "")
	if err != nil {
		t.Fatalf("LoginUser err=%v", err)
	}

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"viewer", "Bearer " + viewerTok, http.StatusForbidden},
		{"admin", "Bearer " + adminTok, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status=%d, want %d body=%s", w.Code, tc.want, w.Body.String())
			}
			if tc.want == http.StatusOK && w.Body.String() != "admin" {
				t.Fatalf("body=%q", w.Body.String())
			}
		})
	}
}

func TestPasswordHasher_NeedsRehash(t *testing.T) {
	weak := testHash(t, "x")
	if !NewPasswordHasher().NeedsRehash(weak) {
		t.Fatalf("weak hash not flagged")
	}
	if newPasswordHasher(1024, 1).NeedsRehash(weak) {
		t.Fatalf("hash flagged against its own settings")
	}
	if !newPasswordHasher(1024, 1).NeedsRehash("garbage") {
		t.Fatalf("garbage not flagged")
	}
}
