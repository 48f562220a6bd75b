package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/moorlabs/driftsync/internal/models"
	"github.com/moorlabs/driftsync/internal/repositories"
	"github.com/moorlabs/driftsync/internal/utils"
)

var (
	ErrInvalidCredentials = errors.New("invalid project or api key")
	ErrInvalidToken       = errors.New("invalid token")
	ErrDeviceRevoked      = errors.New("device has been revoked")
)

// AuthService issues and verifies device tokens at the transport boundary.
// Session and identity management beyond this is a collaborator concern; the
// sync core only needs a trusted Caller.
type AuthService struct {
	tenantRepo  repositories.TenantRepository
	deviceRepo  repositories.DeviceRepository
	sessionRepo repositories.SessionRepository
	jwtSecret   string
	jwtExpiry   time.Duration
}

type LoginRequest struct {
	TenantID   string `json:"tenantId"`
	APIKey     string `json:"apiKey"`
	UserID     string `json:"userId"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	DeviceType string `json:"deviceType"`
	Role       string `json:"role"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	DeviceID  string    `json:"deviceId"`
}

func NewAuthService(
	tenantRepo repositories.TenantRepository,
	deviceRepo repositories.DeviceRepository,
	sessionRepo repositories.SessionRepository,
	jwtSecret string,
	jwtExpiry time.Duration,
) *AuthService {
	return &AuthService{
		tenantRepo:  tenantRepo,
		deviceRepo:  deviceRepo,
		sessionRepo: sessionRepo,
		jwtSecret:   jwtSecret,
		jwtExpiry:   jwtExpiry,
	}
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	tenant, err := s.tenantRepo.GetByID(ctx, req.TenantID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	if !utils.CheckAPIKey(tenant.APIKeyHash, req.APIKey) {
		return nil, ErrInvalidCredentials
	}

	if req.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}

	role := req.Role
	if role == "" {
		role = models.RoleStudent
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = uuid.New().String()
	}
	device := &models.Device{
		ID:         deviceID,
		TenantID:   tenant.ID,
		UserID:     req.UserID,
		Name:       req.DeviceName,
		DeviceType: req.DeviceType,
	}
	if err := s.deviceRepo.Register(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}
	if device.RevokedAt != nil {
		return nil, ErrDeviceRevoked
	}

	sessionID := uuid.New().String()
	expiresAt := time.Now().Add(s.jwtExpiry)
	session := &models.Session{
		ID:        sessionID,
		TenantID:  tenant.ID,
		UserID:    req.UserID,
		DeviceID:  deviceID,
		Role:      role,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := s.generateToken(session)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		DeviceID:  deviceID,
	}, nil
}

func (s *AuthService) generateToken(session *models.Session) (string, error) {
	claims := jwt.MapClaims{
		"sub":       session.UserID,
		"tenant_id": session.TenantID,
		"device_id": session.DeviceID,
		"role":      session.Role,
		"jti":       session.ID,
		"exp":       session.ExpiresAt.Unix(),
		"iat":       time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

// VerifyToken parses the JWT, checks the backing session still exists, and
// returns the caller identity the sync core trusts.
func (s *AuthService) VerifyToken(ctx context.Context, tokenString string) (*models.Caller, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, ok := claims["sub"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}
	tenantID, ok := claims["tenant_id"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}
	deviceID, ok := claims["device_id"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}
	role, ok := claims["role"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}
	sessionID, ok := claims["jti"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	if _, err := s.sessionRepo.GetByID(ctx, sessionID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &models.Caller{
		TenantID: tenantID,
		UserID:   userID,
		DeviceID: deviceID,
		Role:     role,
	}, nil
}

func (s *AuthService) Logout(ctx context.Context, tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ErrInvalidToken
	}
	sessionID, ok := claims["jti"].(string)
	if !ok {
		return ErrInvalidToken
	}

	if err := s.sessionRepo.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
