package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/cardio-risk-server/internal/domain"
)

// DevHospitalHeader names the hospital when authentication is disabled
const DevHospitalHeader = "X-Hospital-ID"

// Claims identify the hospital a bearer token acts for
type Claims struct {
	HospitalID string `json:"hospital_id"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 hospital tokens
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenService creates a token service from configuration
func NewTokenService(cfg domain.AuthConfig) *TokenService {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenService{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		ttl:    ttl,
	}
}

// Issue signs a token for a clinician of a hospital
func (s *TokenService) Issue(hospitalID, subject string, now time.Time) (string, error) {
	if strings.TrimSpace(hospitalID) == "" {
		return "", fmt.Errorf("hospital id is required")
	}
	claims := &Claims{
		HospitalID: hospitalID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses a token and returns its claims
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.HospitalID == "" {
		return nil, errors.New("token has no hospital_id claim")
	}
	return claims, nil
}

// Authenticate resolves the hospital of every request. With auth disabled the
// hospital comes from the X-Hospital-ID header, which is meant for local use only.
func Authenticate(cfg domain.AuthConfig) gin.HandlerFunc {
	tokens := NewTokenService(cfg)
	return func(c *gin.Context) {
		if !cfg.Enabled {
			hospitalID := strings.TrimSpace(c.GetHeader(DevHospitalHeader))
			if hospitalID == "" {
				abortUnauthorized(c, "missing "+DevHospitalHeader+" header")
				return
			}
			c.Set(HospitalIDKey, hospitalID)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		claims, err := tokens.Verify(strings.TrimSpace(raw))
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}
		c.Set(HospitalIDKey, claims.HospitalID)
		c.Set(SubjectKey, claims.Subject)
		c.Next()
	}
}

// HospitalID returns the hospital resolved by Authenticate
func HospitalID(c *gin.Context) string {
	return c.GetString(HospitalIDKey)
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, domain.NewAPIError(
		domain.ErrAuthentication, message, "", c.GetString(CorrelationIDKey)))
}
