package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-qbank/internal/rbac"
)

var ErrInvalidToken = errors.New("invalid token")

type AuthService struct {
	hmac []byte
	ttl  time.Duration
	now  func() time.Time
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{hmac: []byte(secret), ttl: 8 * time.Hour, now: time.Now}
}

type Claims struct {
	Sub    string `json:"sub"`
	Tenant string `json:"tenant"`
	Role   string `json:"role"` // "teacher", "student" or "admin"
	jwt.RegisteredClaims
}

func (a *AuthService) IssueJWT(sub, tenant, role string) (string, error) {
	now := a.now()
	claims := &Claims{
		Sub:    sub,
		Tenant: tenant,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "mindengage-qbank",
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || c.Sub == "" || c.Tenant == "" || c.Role == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}

type LoginConfig struct {
	AdminUser       string
	AdminPassHash   string // bcrypt
	EnableLocalAuth bool
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=256"`
	Role     string `json:"role" validate:"omitempty,oneof=teacher student admin"`
	TenantID string `json:"tenant_id" validate:"required,max=64"`
}

var validate = validator.New()

// POST /auth/login  { "username": "...", "password": "...", "role": "teacher|student", "tenant_id": "..." }
//
// The configured admin signs in with its bcrypt password. With local auth
// enabled, dev logins "teacher:teacher" and "student:student" style are
// accepted for the teacher and student roles.
func LoginHandler(a *AuthService, cfg LoginConfig, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "invalid login request", http.StatusBadRequest)
			return
		}

		var role string
		switch {
		case cfg.AdminUser != "" && req.Username == cfg.AdminUser:
			if bcrypt.CompareHashAndPassword([]byte(cfg.AdminPassHash), []byte(req.Password)) == nil {
				role = "admin"
			}
		case cfg.EnableLocalAuth && req.Username == req.Password && (req.Role == "teacher" || req.Role == "student"):
			role = req.Role
		}
		if role == "" {
			log.Info("login rejected", zap.String("user", req.Username), zap.String("tenant", req.TenantID))
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		tok, err := a.IssueJWT(req.Username, req.TenantID, role)
		if err != nil {
			log.Error("issue token", zap.Error(err))
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": tok, "role": role})
	}
}

// JWTMiddleware verifies the bearer token and puts the caller's rbac.Actor
// in the request context.
func JWTMiddleware(a *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			c, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				http.Error(w, "bad token", http.StatusUnauthorized)
				return
			}
			ctx := rbac.WithActor(r.Context(), rbac.Actor{UserID: c.Sub, TenantID: c.Tenant, Role: c.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
