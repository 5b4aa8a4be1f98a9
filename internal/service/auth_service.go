package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/reelrate/reelrate/internal/auth"
	"github.com/reelrate/reelrate/internal/domain"
	"github.com/reelrate/reelrate/internal/repository"
)

// AuthService handles registration, login and token authentication.
type AuthService struct {
	userRepo   repository.UserRepository
	tokens     *auth.TokenIssuer
	bcryptCost int
	logger     zerolog.Logger
}

// NewAuthService creates a new AuthService. tokens may be nil when no
// signing secret is configured; Login then fails with ErrServerMisconfigured
// and every token is rejected.
func NewAuthService(userRepo repository.UserRepository, tokens *auth.TokenIssuer, bcryptCost int, logger zerolog.Logger) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		logger:     logger.With().Str("service", "auth").Logger(),
	}
}

// RegisterInput contains the data needed to create a new account.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register creates a new account.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.UserSummary, error) {
	username := strings.TrimSpace(input.Username)
	email := normalizeEmail(input.Email)

	if err := domain.ValidateRegistration(username, email, input.Password); err != nil {
		return nil, err
	}

	exists, err := s.userRepo.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		s.logger.Error().Err(err).Str("username", username).Msg("failed to check user existence")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if exists {
		return nil, domain.ErrUserAlreadyExists
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash password")
		return nil, fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	user := domain.NewUser(username, email, hash)
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			return nil, domain.ErrUserAlreadyExists
		}
		s.logger.Error().Err(err).Str("username", username).Msg("failed to create user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Str("user_id", user.ID.String()).
		Str("username", user.Username).
		Msg("user registered")

	return user.Summary(), nil
}

// LoginOutput contains the result of a successful login.
type LoginOutput struct {
	Token     string
	ExpiresAt time.Time
	User      *domain.UserSummary
}

// Login verifies credentials and issues a session token. Unknown emails
// and wrong passwords fail identically.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginOutput, error) {
	if s.tokens == nil {
		s.logger.Error().Msg("login attempted without a token signing secret")
		return nil, ErrServerMisconfigured
	}

	email = normalizeEmail(email)
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Error().Err(err).Msg("failed to look up user during login")
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		auth.BurnPasswordCheck(password)
		s.logger.Debug().Msg("login for unknown email")
		return nil, domain.ErrUnauthorized
	}

	if !auth.VerifyPassword(user.PasswordHash, password) {
		s.logger.Debug().Str("user_id", user.ID.String()).Msg("invalid password during login")
		return nil, domain.ErrUnauthorized
	}

	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to issue token")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Str("user_id", user.ID.String()).
		Str("username", user.Username).
		Msg("user logged in")

	return &LoginOutput{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user.Summary(),
	}, nil
}

// Authenticate resolves a bearer token to a live user.
// Every token problem is reported as domain.ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if s.tokens == nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, auth.ErrMissingSecret)
	}

	userID, err := s.tokens.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: user no longer exists", domain.ErrUnauthorized)
		}
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to load user for token")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return user, nil
}

// normalizeEmail trims and lowercases an address so lookups are case-insensitive.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Ensure AuthService implements auth.Authenticator.
var _ auth.Authenticator = (*AuthService)(nil)
