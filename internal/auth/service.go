package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"marketplace-chat/internal/config"
	"marketplace-chat/internal/database"
	"marketplace-chat/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownUser  = errors.New("unknown user")
)

// Claims carried by the access tokens this service accepts. The id may be
// in user_id or, failing that, in sub.
type Claims struct {
	jwt.RegisteredClaims
	UserID    int64  `json:"user_id,omitempty"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (c *Claims) principalID() (int64, error) {
	if c.UserID > 0 {
		return c.UserID, nil
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: no user id in token", ErrInvalidToken)
	}
	return id, nil
}

// Service verifies bearer credentials and confirms the principal still
// exists. It never issues tokens.
type Service struct {
	users  database.UserRepository
	secret []byte
	issuer string
}

func NewService(users database.UserRepository, cfg config.JWTConfig) *Service {
	return &Service{
		users:  users,
		secret: cfg.Secret,
		issuer: cfg.Issuer,
	}
}

// ValidateToken checks signature, expiry and (when configured) issuer.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// Verify turns a token into a Principal without touching the store.
func (s *Service) Verify(tokenString string) (models.Principal, error) {
	if tokenString == "" {
		return models.Principal{}, ErrMissingToken
	}
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return models.Principal{}, err
	}
	id, err := claims.principalID()
	if err != nil {
		return models.Principal{}, err
	}
	return models.Principal{
		ID:        id,
		Email:     claims.Email,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
	}, nil
}

// Exists asks the user store whether principalID is still a usable account.
func (s *Service) Exists(ctx context.Context, principalID int64) (bool, error) {
	return s.users.UserExists(ctx, principalID)
}

// Authenticate verifies the token and loads the principal's account. Profile
// fields missing from the claims are taken from the account. Every failure
// wraps models.ErrAuthenticationFailed.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (models.Principal, error) {
	principal, err := s.Verify(tokenString)
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %w", models.ErrAuthenticationFailed, err)
	}

	user, err := s.users.GetUserByID(ctx, principal.ID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Principal{}, fmt.Errorf("%w: %w: %d", models.ErrAuthenticationFailed, ErrUnknownUser, principal.ID)
	}
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: identity lookup: %w", models.ErrAuthenticationFailed, err)
	}

	if principal.Email == "" {
		principal.Email = user.Email
	}
	if principal.FirstName == "" {
		principal.FirstName = user.FirstName
	}
	if principal.LastName == "" {
		principal.LastName = user.LastName
	}
	return principal, nil
}

// BearerToken extracts the token from an "Authorization: Bearer ..." value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
