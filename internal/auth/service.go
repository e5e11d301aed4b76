package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ambilfoto/backend/internal/apperr"
	"github.com/ambilfoto/backend/internal/models"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = apperr.New(apperr.KindConflict, "email already registered")

var errInvalidCredentials = apperr.New(apperr.KindUnauthorized, "invalid credentials")

const minPasswordLength = 8

// Store is the account persistence used by the service.
type Store interface {
	Create(ctx context.Context, a *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type Service interface {
	Register(ctx context.Context, email, password, displayName, role string) (*models.Account, error)
	Login(ctx context.Context, email, password string) (string, *models.Account, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
	Account(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type service struct {
	repo   Store
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

func NewService(repo Store, secret string, ttl time.Duration) *service {
	return &service{repo: repo, secret: []byte(secret), ttl: ttl, cost: bcrypt.DefaultCost, now: time.Now}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func (s *service) Register(ctx context.Context, email, password, displayName, role string) (*models.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	displayName = strings.TrimSpace(displayName)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.New(apperr.KindInvalidInput, "invalid email")
	}
	if displayName == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "display_name is required")
	}
	if len(password) < minPasswordLength {
		return nil, apperr.New(apperr.KindInvalidInput, "password must be at least %d characters", minPasswordLength)
	}
	if !models.ValidRole(role) {
		return nil, apperr.New(apperr.KindInvalidInput, "invalid role %q", role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, err
	}
	acc := &models.Account{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, *models.Account, error) {
	acc, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, apperr.ErrNotFound) {
		return "", nil, errInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", nil, errInvalidCredentials
	}
	token, err := s.issueToken(acc.ID, acc.Role)
	if err != nil {
		return "", nil, err
	}
	return token, acc, nil
}

func (s *service) Account(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) issueToken(userID uuid.UUID, role string) (string, error) {
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return uuid.Nil, "", err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, "", errors.New("invalid token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, c.Role, nil
}
