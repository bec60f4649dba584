package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mercybot/mercybot/internal/model"
	"github.com/mercybot/mercybot/pkg/logger"
)

const (
	minPasswordLength = 6
	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72
	maxEmailLength   = 254
)

// tokenIssuer is the part of the token service used for login.
type tokenIssuer interface {
	Issue(userID string) (string, error)
}

// AuthService registers users and exchanges credentials for tokens.
type AuthService struct {
	users      UserRepo
	tokens     tokenIssuer
	bcryptCost int
	logger     *logger.Logger
	now        func() time.Time

	// dummyHash is compared against for unknown emails so both login
	// failures cost one bcrypt run.
	dummyHash   []byte
	compareHash func(hash, password []byte) error
}

// NewAuthService creates an auth service. A bcryptCost outside the valid
// range uses bcrypt.DefaultCost.
func NewAuthService(users UserRepo, tokens tokenIssuer, bcryptCost int, log *logger.Logger) *AuthService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	// Only fails for an out-of-range cost, which is clamped above.
	dummy, _ := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcryptCost)
	return &AuthService{
		users:       users,
		tokens:      tokens,
		bcryptCost:  bcryptCost,
		logger:      log.Component("auth"),
		now:         time.Now,
		dummyHash:   dummy,
		compareHash: bcrypt.CompareHashAndPassword,
	}
}

// Register creates a user. The email is stored exactly as given.
func (s *AuthService) Register(ctx context.Context, email, password string) (*model.User, error) {
	if err := validateRegistration(email, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// Login verifies credentials and issues a token. Unknown email and wrong
// password both return model.ErrUnauthorized.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *model.User, error) {
	if email == "" || password == "" {
		verr := &model.ValidationError{}
		if email == "" {
			verr.Add("email", "required")
		}
		if password == "" {
			verr.Add("password", "required")
		}
		return "", nil, verr
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			_ = s.compareHash(s.dummyHash, []byte(password))
			return "", nil, model.ErrUnauthorized
		}
		return "", nil, fmt.Errorf("get user by email: %w", err)
	}

	if err := s.compareHash([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, model.ErrUnauthorized
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}

	return token, user, nil
}

func validateRegistration(email, password string) error {
	verr := &model.ValidationError{}

	switch {
	case email == "":
		verr.Add("email", "required")
	case len(email) > maxEmailLength:
		verr.Add("email", "too long")
	default:
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			verr.Add("email", "invalid format")
		}
	}

	switch {
	case password == "":
		verr.Add("password", "required")
	case len(password) < minPasswordLength:
		verr.Add("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	case len(password) > maxPasswordBytes:
		verr.Add("password", fmt.Sprintf("must be at most %d bytes", maxPasswordBytes))
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}
