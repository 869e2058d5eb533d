// Path: internal/services/auth_service.go
package services

import (
	"crypto/subtle"
	"errors"
	"strconv"
	"strings"
	"time"

	"braibit-api/internal/ledger"
	"braibit-api/internal/models"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 24 * time.Hour

// AuthService handles tutor and student sign-in.
type AuthService interface {
	Login(req *models.LoginRequest) (string, models.Account, error)
	ValidateToken(token string) (*models.Claims, error)
}

type authService struct {
	ledger      *ledger.Ledger
	jwtKey      string
	tutorSecret string
	now         func() time.Time
}

// NewAuthService creates a new AuthService. Tutors share tutorSecret and are
// told apart by email; students sign in with nickname and their own secret.
func NewAuthService(l *ledger.Ledger, jwtSecret, tutorSecret string) AuthService {
	return &authService{
		ledger:      l,
		jwtKey:      jwtSecret,
		tutorSecret: tutorSecret,
		now:         time.Now,
	}
}

// Login authenticates an account and returns a JWT.
func (s *authService) Login(req *models.LoginRequest) (string, models.Account, error) {
	var (
		acc models.Account
		ok  bool
	)

	switch req.Role {
	case models.RoleTutor:
		acc, ok = s.ledger.AccountByEmail(strings.TrimSpace(req.Email))
		if !ok {
			return "", models.Account{}, &AppError{Code: 401, Message: "Invalid credentials", Details: "User not found"}
		}
		if !equalSecret(s.tutorSecret, req.Password) {
			return "", models.Account{}, &AppError{Code: 401, Message: "Invalid credentials", Details: "Incorrect password"}
		}
	case models.RoleStudent:
		acc, ok = s.ledger.AccountByNickname(strings.TrimSpace(req.Nickname))
		if !ok {
			return "", models.Account{}, &AppError{Code: 401, Message: "Invalid credentials", Details: "User not found"}
		}
		if !checkSecret(acc.Secret, req.Password) {
			return "", models.Account{}, &AppError{Code: 401, Message: "Invalid credentials", Details: "Incorrect password"}
		}
	default:
		return "", models.Account{}, &AppError{Code: 400, Message: "Invalid role", Details: "role must be tutor or student"}
	}

	now := s.now()
	claims := &models.Claims{
		AccountID: acc.ID,
		Role:      acc.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(acc.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "braibit-api",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtKey))
	if err != nil {
		return "", models.Account{}, &AppError{Code: 500, Message: "Failed to sign token", Details: err.Error(), Err: err}
	}

	return tokenString, publicView(acc), nil
}

// ValidateToken validates a JWT and returns the claims.
func (s *authService) ValidateToken(tokenString string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.jwtKey), nil
	})

	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) {
			if ve.Errors&jwt.ValidationErrorMalformed != 0 {
				return nil, &AppError{Code: 401, Message: "Invalid token", Details: "Malformed token"}
			} else if ve.Errors&(jwt.ValidationErrorExpired|jwt.ValidationErrorNotValidYet) != 0 {
				return nil, &AppError{Code: 401, Message: "Invalid token", Details: "Token expired or not yet valid"}
			}
		}
		return nil, &AppError{Code: 401, Message: "Invalid token", Details: err.Error(), Err: err}
	}

	if !token.Valid {
		return nil, &AppError{Code: 401, Message: "Invalid token", Details: "Token is not valid"}
	}

	// The account must still exist with the role the token was issued for.
	acc, ok := s.ledger.Account(claims.AccountID)
	if !ok || acc.Role != claims.Role {
		return nil, &AppError{Code: 401, Message: "Invalid token", Details: "Unknown account"}
	}

	return claims, nil
}

// checkSecret accepts both plain and bcrypt-hashed stored secrets.
func checkSecret(stored, given string) bool {
	if stored == "" {
		return false
	}
	if isHashed(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return equalSecret(stored, given)
}

func equalSecret(want, given string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(want), []byte(given)) == 1
}

func isHashed(secret string) bool {
	return strings.HasPrefix(secret, "$2")
}

// publicView strips the login secret before an account leaves the service layer.
func publicView(acc models.Account) models.Account {
	acc.Secret = ""
	return acc
}
