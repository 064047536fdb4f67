package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"account-auth/internal/domain"
	"account-auth/internal/metrics"
	"account-auth/internal/notify"
	"account-auth/internal/repository"
)

var (
	ErrAlreadyExists = errors.New("account already exists")
	// ErrNotFound cubre tanto email desconocido como contraseña incorrecta.
	ErrNotFound     = errors.New("invalid email or password")
	ErrSuspended    = errors.New("account suspended")
	ErrNotVerified  = errors.New("account not verified")
	ErrInvalidToken = errors.New("invalid verification token")
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrRateLimited  = errors.New("rate limited")
	ErrInvalidInput = errors.New("invalid input")
)

const defaultVerificationTTL = 24 * time.Hour

// TokenIssuer firma bearer tokens para cuentas autenticadas.
type TokenIssuer interface {
	GenerateToken(account domain.UserAccount) (string, error)
}

// AuthService coordina registro, login y verificacion de email.
type AuthService struct {
	logger    *zap.Logger
	accounts  repository.AccountRepository
	hasher    PasswordHasher
	tokens    TokenIssuer
	publisher notify.VerificationPublisher
	limiter   LoginRateLimiter

	verificationTTL  time.Duration
	maskAccountState bool
	now              func() time.Time
	newToken         func() string
}

// Option personaliza el AuthService.
type Option func(*AuthService)

// WithVerificationTTL cambia la vida del token de verificacion.
func WithVerificationTTL(d time.Duration) Option {
	return func(s *AuthService) {
		if d > 0 {
			s.verificationTTL = d
		}
	}
}

// WithLoginRateLimiter limita intentos de login por email.
func WithLoginRateLimiter(l LoginRateLimiter) Option {
	return func(s *AuthService) {
		s.limiter = l
	}
}

// WithMaskAccountState hace que cuentas suspendidas o sin verificar respondan
// igual que credenciales invalidas, y solo despues de validar la contraseña.
func WithMaskAccountState(mask bool) Option {
	return func(s *AuthService) {
		s.maskAccountState = mask
	}
}

// WithClock inyecta la fuente de tiempo.
func WithClock(clock func() time.Time) Option {
	return func(s *AuthService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithTokenGenerator inyecta el generador de tokens de verificacion.
func WithTokenGenerator(gen func() string) Option {
	return func(s *AuthService) {
		if gen != nil {
			s.newToken = gen
		}
	}
}

func NewAuthService(
	logger *zap.Logger,
	accounts repository.AccountRepository,
	hasher PasswordHasher,
	tokens TokenIssuer,
	publisher notify.VerificationPublisher,
	opts ...Option,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = notify.NewDisabledPublisher("verification publisher not configured")
	}
	s := &AuthService{
		logger:          logger,
		accounts:        accounts,
		hasher:          hasher,
		tokens:          tokens,
		publisher:       publisher,
		verificationTTL: defaultVerificationTTL,
		now:             time.Now,
		newToken:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RegisterInput struct {
	EmailAddress string
	Password     string
}

// Register crea una cuenta PENDING_VERIFICATION y publica el email de verificacion.
// Un fallo al publicar no deshace la cuenta ni se devuelve al caller.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (err error) {
	defer func() { metrics.ObserveAuth("register", err) }()

	email := strings.TrimSpace(input.EmailAddress)
	if email == "" || input.Password == "" {
		return ErrInvalidInput
	}

	_, err = s.accounts.FindByEmail(ctx, email)
	if err == nil {
		return ErrAlreadyExists
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return fmt.Errorf("lookup account: %w", err)
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.verificationTTL)
	account := domain.UserAccount{
		EmailAddress:               email,
		PasswordHash:               passwordHash,
		AccountStatus:              domain.StatusPendingVerification,
		Role:                       domain.RoleApplicant,
		VerificationToken:          s.newToken(),
		VerificationTokenExpiresAt: &expiresAt,
		CreatedAt:                  now,
	}

	created, err := s.accounts.Create(ctx, account)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create account: %w", err)
	}

	s.logger.Info("account registered", zap.Int64("account_id", created.ID))
	s.publishVerification(ctx, created)
	return nil
}

func (s *AuthService) publishVerification(ctx context.Context, account domain.UserAccount) {
	msg := notify.VerificationMessage{
		Email: account.EmailAddress,
		Token: account.VerificationToken,
	}
	if err := s.publisher.PublishVerification(ctx, msg); err != nil {
		metrics.NotificationsPublished.WithLabelValues(metrics.ResultFailure).Inc()
		s.logger.Warn("publish verification email failed",
			zap.Error(err),
			zap.Int64("account_id", account.ID),
		)
		return
	}
	metrics.NotificationsPublished.WithLabelValues(metrics.ResultSuccess).Inc()
}

// Login valida credenciales y devuelve un bearer token firmado.
func (s *AuthService) Login(ctx context.Context, emailAddr, password string) (token string, err error) {
	defer func() { metrics.ObserveAuth("login", err) }()

	emailAddr = strings.TrimSpace(emailAddr)
	if emailAddr == "" || password == "" {
		return "", ErrNotFound
	}
	if s.limiter != nil && !s.limiter.Allow(emailAddr) {
		return "", ErrRateLimited
	}

	account, err := s.accounts.FindByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("lookup account: %w", err)
	}

	if err := s.checkLoginAllowed(account, password); err != nil {
		return "", err
	}

	token, err = s.tokens.GenerateToken(account)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	if s.limiter != nil {
		s.limiter.Reset(emailAddr)
	}
	return token, nil
}

func (s *AuthService) checkLoginAllowed(account domain.UserAccount, password string) error {
	if s.maskAccountState {
		if !s.hasher.Matches(password, account.PasswordHash) {
			return ErrNotFound
		}
		if account.AccountStatus != domain.StatusActive {
			return ErrNotFound
		}
		return nil
	}

	switch account.AccountStatus {
	case domain.StatusSuspended:
		return ErrSuspended
	case domain.StatusPendingVerification:
		return ErrNotVerified
	}
	if !s.hasher.Matches(password, account.PasswordHash) {
		return ErrNotFound
	}
	if account.AccountStatus != domain.StatusActive {
		return ErrNotFound
	}
	return nil
}

// VerifyEmail consume un token de verificacion y activa la cuenta.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (err error) {
	defer func() { metrics.ObserveAuth("verify", err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}

	account, err := s.accounts.FindByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("lookup token: %w", err)
	}
	if account.AccountStatus != domain.StatusPendingVerification {
		return ErrInvalidToken
	}

	now := s.now().UTC()
	if account.VerificationExpired(now) {
		return ErrTokenExpired
	}

	if err := s.accounts.Activate(ctx, account.ID, now); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("activate account: %w", err)
	}

	s.logger.Info("account verified", zap.Int64("account_id", account.ID))
	return nil
}
