package service

import (
	"context"
	"fmt"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var authTracer = otel.Tracer("service/auth")

// AuthService validates access tokens issued by the hosted auth provider and
// the operator key guarding the admin routes. It never issues tokens.
type AuthService struct {
	jwtSecret    []byte
	adminKeyHash []byte
	logger       *zap.Logger
}

// NewAuthService creates a new auth service. An empty adminKeyHash disables
// the admin routes.
func NewAuthService(jwtSecret, adminKeyHash string, logger *zap.Logger) *AuthService {
	return &AuthService{
		jwtSecret:    []byte(jwtSecret),
		adminKeyHash: []byte(adminKeyHash),
		logger:       logger,
	}
}

// JWTClaims represents the claims the auth provider puts in access tokens.
type JWTClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ValidateAccessToken checks an HS256 access token and returns its claims.
// Sub carries the user id every query is scoped by.
func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido ou expirado"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido"}
	}
	if claims.Sub == "" {
		return nil, &domain.ErrUnauthorized{Message: "Token sem identificação do usuário"}
	}

	return claims, nil
}

// VerifyAdminKey compares an X-Admin-Key value against the configured bcrypt hash.
func (s *AuthService) VerifyAdminKey(ctx context.Context, key string) error {
	_, span := authTracer.Start(ctx, "AuthService.VerifyAdminKey")
	defer span.End()

	if len(s.adminKeyHash) == 0 {
		return &domain.ErrForbidden{Action: "admin routes disabled"}
	}
	if key == "" {
		return &domain.ErrUnauthorized{Message: "Chave administrativa não fornecida"}
	}
	if err := bcrypt.CompareHashAndPassword(s.adminKeyHash, []byte(key)); err != nil {
		s.logger.Warn("admin key rejected")
		return &domain.ErrUnauthorized{Message: "Chave administrativa inválida"}
	}
	return nil
}
