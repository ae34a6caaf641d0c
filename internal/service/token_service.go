package service

import (
	"fmt"

	"vendor-payouts/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTTokenService implements ports.TokenService for HS256 tokens minted by
// the identity service. It only validates; it never issues tokens.
type JWTTokenService struct {
	secret []byte
	issuer string
}

// NewJWTTokenService creates a new JWT token validator.
func NewJWTTokenService(secret, issuer string) *JWTTokenService {
	return &JWTTokenService{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Validate parses and validates a JWT token, returning the caller identity.
func (s *JWTTokenService) Validate(tokenString string) (*domain.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("missing subject claim")
	}

	role, _ := claims["role"].(string)
	identity := &domain.Identity{Subject: sub, Role: domain.Role(role)}

	switch identity.Role {
	case domain.RoleAdmin:
	case domain.RoleVendor:
		raw, _ := claims["vendor_id"].(string)
		vendorID, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid vendor ID in token: %w", err)
		}
		identity.VendorID = vendorID
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	return identity, nil
}
