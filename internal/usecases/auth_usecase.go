package usecases

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/juanvgus/prueba-syc/internal/entities"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const operatorRole = "operator"

// AuthUsecase guards the operator API with a single configured account.
type AuthUsecase struct {
	username     string
	passwordHash []byte
	jwtSecret    []byte
	tokenTTL     time.Duration
	now          func() time.Time
}

func NewAuthUsecase(username, passwordHash, secret string) *AuthUsecase {
	return &AuthUsecase{
		username:     username,
		passwordHash: []byte(passwordHash),
		jwtSecret:    []byte(secret),
		tokenTTL:     24 * time.Hour,
		now:          time.Now,
	}
}

// Enabled reports whether an operator account is configured.
func (uc *AuthUsecase) Enabled() bool {
	return uc.username != "" && len(uc.passwordHash) > 0 && len(uc.jwtSecret) > 0
}

func (uc *AuthUsecase) Login(username, password string) (string, error) {
	if !uc.Enabled() || username != uc.username {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(uc.passwordHash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  username,
		"role": operatorRole,
		"iat":  uc.now().Unix(),
		"exp":  uc.now().Add(uc.tokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// Authenticate validates a bearer token issued by Login.
func (uc *AuthUsecase) Authenticate(tokenString string) (*entities.Operator, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return uc.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(uc.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("invalid token: missing subject")
	}
	role, _ := claims["role"].(string)
	return &entities.Operator{Username: sub, Role: role}, nil
}

// HashPassword produces a value suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
