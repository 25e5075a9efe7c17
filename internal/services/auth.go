package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ordersight/ordersight-backend/internal/data/repos"
	types "github.com/ordersight/ordersight-backend/internal/domain"
	"github.com/ordersight/ordersight-backend/internal/platform/ctxutil"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

var ErrUnauthorized = errors.New("unauthorized")

// AuthService exchanges a tenant's API key for a short-lived JWT and
// validates bearer tokens on every request.
type AuthService interface {
	CreateTenant(ctx context.Context, name string) (*types.Tenant, string, error)
	IssueToken(ctx context.Context, tenantName, apiKey string) (string, error)
	SetContextFromToken(ctx context.Context, token string) (context.Context, error)
}

type authService struct {
	tenants  repos.TenantRepo
	secret   []byte
	tokenTTL time.Duration
	log      *logger.Logger
}

func NewAuthService(tenants repos.TenantRepo, baseLog *logger.Logger) (AuthService, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return nil, fmt.Errorf("missing JWT_SECRET")
	}
	return &authService{
		tenants:  tenants,
		secret:   []byte(secret),
		tokenTTL: 12 * time.Hour,
		log:      baseLog.With("service", "AuthService"),
	}, nil
}

// CreateTenant provisions a tenant and returns the plaintext API key once.
// Only the bcrypt hash is stored.
func (s *authService) CreateTenant(ctx context.Context, name string) (*types.Tenant, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", fmt.Errorf("tenant name required")
	}

	keyBytes := make([]byte, 24)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, "", err
	}
	plainKey := "osk_" + hex.EncodeToString(keyBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(plainKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	tenant, err := s.tenants.Create(ctx, nil, &types.Tenant{
		ID:         uuid.New(),
		Name:       name,
		APIKeyHash: string(hash),
		Active:     true,
	})
	if err != nil {
		return nil, "", err
	}
	s.log.Info("tenant created", "tenant_id", tenant.ID.String())
	return tenant, plainKey, nil
}

func (s *authService) IssueToken(ctx context.Context, tenantName, apiKey string) (string, error) {
	tenant, err := s.tenants.GetByName(ctx, nil, strings.TrimSpace(tenantName))
	if err != nil {
		return "", err
	}
	if tenant == nil || !tenant.Active {
		return "", ErrUnauthorized
	}
	if bcrypt.CompareHashAndPassword([]byte(tenant.APIKeyHash), []byte(apiKey)) != nil {
		return "", ErrUnauthorized
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  tenant.ID.String(),
		"name": tenant.Name,
		"iat":  now.Unix(),
		"exp":  now.Add(s.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

func (s *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return ctx, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ctx, ErrUnauthorized
	}
	sub, _ := claims["sub"].(string)
	tenantID, err := uuid.Parse(sub)
	if err != nil {
		return ctx, ErrUnauthorized
	}
	name, _ := claims["name"].(string)

	tenant, err := s.tenants.GetByID(ctx, nil, tenantID)
	if err != nil {
		return ctx, err
	}
	if tenant == nil || !tenant.Active {
		return ctx, ErrUnauthorized
	}

	return ctxutil.WithTenant(ctx, &ctxutil.TenantData{TenantID: tenantID, Name: name}), nil
}
