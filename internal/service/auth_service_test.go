package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"account-auth/internal/domain"
	"account-auth/internal/notify"
	"account-auth/internal/repository"
)

type mockAccountRepo struct {
	mu           sync.Mutex
	nextID       int64
	byID         map[int64]domain.UserAccount
	createErr    error
	hideOnLookup bool
	createCalls  int
}

func newMockAccountRepo() *mockAccountRepo {
	return &mockAccountRepo{byID: make(map[int64]domain.UserAccount)}
}

func (m *mockAccountRepo) Create(_ context.Context, account domain.UserAccount) (domain.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return domain.UserAccount{}, m.createErr
	}
	for _, existing := range m.byID {
		if strings.EqualFold(existing.EmailAddress, account.EmailAddress) {
			return domain.UserAccount{}, repository.ErrDuplicateEmail
		}
	}
	m.nextID++
	account.ID = m.nextID
	m.byID[account.ID] = account
	return account, nil
}

func (m *mockAccountRepo) FindByEmail(_ context.Context, email string) (domain.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideOnLookup {
		return domain.UserAccount{}, repository.ErrAccountNotFound
	}
	for _, a := range m.byID {
		if strings.EqualFold(a.EmailAddress, email) {
			return a, nil
		}
	}
	return domain.UserAccount{}, repository.ErrAccountNotFound
}

func (m *mockAccountRepo) FindByVerificationToken(_ context.Context, token string) (domain.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.VerificationToken != "" && a.VerificationToken == token {
			return a, nil
		}
	}
	return domain.UserAccount{}, repository.ErrAccountNotFound
}

func (m *mockAccountRepo) Activate(_ context.Context, id int64, activatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok || a.AccountStatus != domain.StatusPendingVerification {
		return repository.ErrAccountNotFound
	}
	a.AccountStatus = domain.StatusActive
	a.VerificationToken = ""
	a.VerificationTokenExpiresAt = nil
	a.UpdatedAt = activatedAt
	m.byID[id] = a
	return nil
}

func (m *mockAccountRepo) put(account domain.UserAccount) domain.UserAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	account.ID = m.nextID
	m.byID[account.ID] = account
	return account
}

func (m *mockAccountRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type mockPublisher struct {
	messages []notify.VerificationMessage
	err      error
}

func (p *mockPublisher) PublishVerification(_ context.Context, msg notify.VerificationMessage) error {
	p.messages = append(p.messages, msg)
	return p.err
}

type mockTokenIssuer struct {
	last domain.UserAccount
	err  error
}

func (m *mockTokenIssuer) GenerateToken(account domain.UserAccount) (string, error) {
	m.last = account
	if m.err != nil {
		return "", m.err
	}
	return "mock-jwt-token", nil
}

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestAuthService(repo repository.AccountRepository, pub notify.VerificationPublisher, tokens TokenIssuer, opts ...Option) *AuthService {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewAuthService(zap.NewNop(), repo, NewBcryptHasher(bcrypt.MinCost), tokens, pub, opts...)
}

func seedAccount(t *testing.T, repo *mockAccountRepo, email, password string, status domain.AccountStatus) domain.UserAccount {
	t.Helper()
	hash, err := NewBcryptHasher(bcrypt.MinCost).Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	account := domain.UserAccount{
		EmailAddress:  email,
		PasswordHash:  hash,
		AccountStatus: status,
		Role:          domain.RoleApplicant,
		CreatedAt:     fixedNow,
	}
	if status == domain.StatusPendingVerification {
		expires := fixedNow.Add(24 * time.Hour)
		account.VerificationToken = "token-" + email
		account.VerificationTokenExpiresAt = &expires
	}
	return repo.put(account)
}

func TestAuthServiceRegister_CreatesPendingAccountAndPublishes(t *testing.T) {
	repo := newMockAccountRepo()
	pub := &mockPublisher{}
	svc := newTestAuthService(repo, pub, &mockTokenIssuer{},
		WithTokenGenerator(func() string { return "7775c963-1d25-4f0b-b89d-b1b1d88cc4cb" }))

	err := svc.Register(context.Background(), RegisterInput{EmailAddress: "  new.email.address@gmail.com ", Password: "P@$$w0rd"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	account, err := repo.FindByEmail(context.Background(), "new.email.address@gmail.com")
	if err != nil {
		t.Fatalf("expected persisted account: %v", err)
	}
	if account.EmailAddress != "new.email.address@gmail.com" {
		t.Fatalf("expected trimmed email, got %q", account.EmailAddress)
	}
	if account.AccountStatus != domain.StatusPendingVerification || account.Role != domain.RoleApplicant {
		t.Fatalf("unexpected status/role: %s/%s", account.AccountStatus, account.Role)
	}
	if account.PasswordHash == "" || account.PasswordHash == "P@$$w0rd" {
		t.Fatalf("expected password to be hashed")
	}
	if account.VerificationToken != "7775c963-1d25-4f0b-b89d-b1b1d88cc4cb" {
		t.Fatalf("unexpected verification token %q", account.VerificationToken)
	}
	if account.VerificationTokenExpiresAt == nil || !account.VerificationTokenExpiresAt.Equal(fixedNow.Add(24*time.Hour)) {
		t.Fatalf("expected expiry 24h after creation, got %v", account.VerificationTokenExpiresAt)
	}

	if len(pub.messages) != 1 {
		t.Fatalf("expected one published message, got %d", len(pub.messages))
	}
	if pub.messages[0].Email != "new.email.address@gmail.com" || pub.messages[0].Token != "7775c963-1d25-4f0b-b89d-b1b1d88cc4cb" {
		t.Fatalf("unexpected message: %+v", pub.messages[0])
	}
}

func TestAuthServiceRegister_DefaultTokenIsUUID(t *testing.T) {
	repo := newMockAccountRepo()
	svc := NewAuthService(zap.NewNop(), repo, NewBcryptHasher(bcrypt.MinCost), &mockTokenIssuer{}, &mockPublisher{})

	before := time.Now().UTC()
	if err := svc.Register(context.Background(), RegisterInput{EmailAddress: "a@example.com", Password: "Str0ng!Pw"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	account, _ := repo.FindByEmail(context.Background(), "a@example.com")
	if len(account.VerificationToken) != 36 {
		t.Fatalf("expected uuid token, got %q", account.VerificationToken)
	}
	expiry := account.VerificationTokenExpiresAt.Sub(before)
	if expiry < 23*time.Hour+59*time.Minute || expiry > 24*time.Hour+time.Minute {
		t.Fatalf("expected ~24h expiry, got %v", expiry)
	}
}

func TestAuthServiceRegister_DuplicateEmail(t *testing.T) {
	repo := newMockAccountRepo()
	svc := newTestAuthService(repo, &mockPublisher{}, &mockTokenIssuer{})

	input := RegisterInput{EmailAddress: "dup@example.com", Password: "Str0ng!Pw"}
	if err := svc.Register(context.Background(), input); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := svc.Register(context.Background(), input); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if repo.count() != 1 {
		t.Fatalf("expected exactly one record, got %d", repo.count())
	}
}

func TestAuthServiceRegister_StoreUniqueViolationMapsToAlreadyExists(t *testing.T) {
	repo := newMockAccountRepo()
	seedAccount(t, repo, "race@example.com", "Str0ng!Pw", domain.StatusPendingVerification)
	// Simula que la otra transaccion aun no era visible al chequear.
	repo.hideOnLookup = true
	pub := &mockPublisher{}
	svc := newTestAuthService(repo, pub, &mockTokenIssuer{})

	err := svc.Register(context.Background(), RegisterInput{EmailAddress: "race@example.com", Password: "Str0ng!Pw"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if len(pub.messages) != 0 {
		t.Fatalf("expected no notification for failed registration")
	}
	if repo.count() != 1 {
		t.Fatalf("expected one record, got %d", repo.count())
	}
}

func TestAuthServiceRegister_ConcurrentDuplicates(t *testing.T) {
	repo := newMockAccountRepo()
	svc := newTestAuthService(repo, notify.NewDisabledPublisher("off"), &mockTokenIssuer{})

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dups int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.Register(context.Background(), RegisterInput{EmailAddress: "same@example.com", Password: "Str0ng!Pw"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyExists):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || dups != workers-1 {
		t.Fatalf("expected 1 success and %d duplicates, got %d/%d", workers-1, ok, dups)
	}
	if repo.count() != 1 {
		t.Fatalf("expected one record, got %d", repo.count())
	}
}

func TestAuthServiceRegister_PublishFailureDoesNotFail(t *testing.T) {
	repo := newMockAccountRepo()
	pub := &mockPublisher{err: errors.New("broker down")}
	svc := newTestAuthService(repo, pub, &mockTokenIssuer{})

	if err := svc.Register(context.Background(), RegisterInput{EmailAddress: "a@example.com", Password: "Str0ng!Pw"}); err != nil {
		t.Fatalf("expected register to succeed despite publish failure, got %v", err)
	}
	if repo.count() != 1 {
		t.Fatalf("expected account to stay persisted")
	}
}

func TestAuthServiceRegister_StoreErrorLeavesNoRecord(t *testing.T) {
	repo := newMockAccountRepo()
	repo.createErr = errors.New("db down")
	pub := &mockPublisher{}
	svc := newTestAuthService(repo, pub, &mockTokenIssuer{})

	err := svc.Register(context.Background(), RegisterInput{EmailAddress: "a@example.com", Password: "Str0ng!Pw"})
	if err == nil || errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if repo.count() != 0 || len(pub.messages) != 0 {
		t.Fatalf("expected no record and no notification")
	}
}

func TestAuthServiceRegister_RejectsBlankInput(t *testing.T) {
	svc := newTestAuthService(newMockAccountRepo(), &mockPublisher{}, &mockTokenIssuer{})
	if err := svc.Register(context.Background(), RegisterInput{EmailAddress: "  ", Password: "x"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAuthServiceLogin(t *testing.T) {
	repo := newMockAccountRepo()
	active := seedAccount(t, repo, "available.email.address@gmail.com", "P@$$w0rd", domain.StatusActive)
	seedAccount(t, repo, "pending@example.com", "P@$$w0rd", domain.StatusPendingVerification)
	seedAccount(t, repo, "donald@gmail.com", "P@$$w0rd", domain.StatusSuspended)

	tokens := &mockTokenIssuer{}
	svc := newTestAuthService(repo, &mockPublisher{}, tokens)

	t.Run("unknown email", func(t *testing.T) {
		_, err := svc.Login(context.Background(), "email.address.not.found@gmail.com", "P@$$w0rd")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("wrong password is indistinguishable", func(t *testing.T) {
		_, errUnknown := svc.Login(context.Background(), "nobody@example.com", "P@$$w0rd")
		_, errWrong := svc.Login(context.Background(), "available.email.address@gmail.com", "invalid-password")
		if !errors.Is(errWrong, ErrNotFound) || errWrong.Error() != errUnknown.Error() {
			t.Fatalf("expected identical ErrNotFound, got %v vs %v", errWrong, errUnknown)
		}
	})

	t.Run("suspended", func(t *testing.T) {
		_, err := svc.Login(context.Background(), "donald@gmail.com", "P@$$w0rd")
		if !errors.Is(err, ErrSuspended) {
			t.Fatalf("expected ErrSuspended, got %v", err)
		}
	})

	t.Run("not verified", func(t *testing.T) {
		_, err := svc.Login(context.Background(), "pending@example.com", "P@$$w0rd")
		if !errors.Is(err, ErrNotVerified) {
			t.Fatalf("expected ErrNotVerified, got %v", err)
		}
	})

	t.Run("success", func(t *testing.T) {
		token, err := svc.Login(context.Background(), " available.email.address@gmail.com ", "P@$$w0rd")
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		if token != "mock-jwt-token" {
			t.Fatalf("unexpected token %q", token)
		}
		if tokens.last.ID != active.ID || tokens.last.EmailAddress != "available.email.address@gmail.com" || tokens.last.Role != domain.RoleApplicant {
			t.Fatalf("unexpected token subject: %+v", tokens.last)
		}
	})

	t.Run("issuer failure", func(t *testing.T) {
		failing := newTestAuthService(repo, &mockPublisher{}, &mockTokenIssuer{err: errors.New("sign failed")})
		if _, err := failing.Login(context.Background(), "available.email.address@gmail.com", "P@$$w0rd"); err == nil {
			t.Fatalf("expected error when token issuing fails")
		}
	})
}

func TestAuthServiceLogin_MaskAccountState(t *testing.T) {
	repo := newMockAccountRepo()
	seedAccount(t, repo, "pending@example.com", "P@$$w0rd", domain.StatusPendingVerification)
	seedAccount(t, repo, "suspended@example.com", "P@$$w0rd", domain.StatusSuspended)
	svc := newTestAuthService(repo, &mockPublisher{}, &mockTokenIssuer{}, WithMaskAccountState(true))

	for _, email := range []string{"pending@example.com", "suspended@example.com"} {
		if _, err := svc.Login(context.Background(), email, "P@$$w0rd"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected masked ErrNotFound for %s, got %v", email, err)
		}
		if _, err := svc.Login(context.Background(), email, "wrong"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for wrong password on %s, got %v", email, err)
		}
	}
}

func TestAuthServiceLogin_RateLimited(t *testing.T) {
	repo := newMockAccountRepo()
	seedAccount(t, repo, "a@example.com", "P@$$w0rd", domain.StatusActive)
	svc := newTestAuthService(repo, &mockPublisher{}, &mockTokenIssuer{},
		WithLoginRateLimiter(NewMemoryLoginRateLimiter(time.Minute, 2)))

	for i := 0; i < 2; i++ {
		if _, err := svc.Login(context.Background(), "a@example.com", "wrong"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("attempt %d: expected ErrNotFound, got %v", i, err)
		}
	}
	if _, err := svc.Login(context.Background(), "A@example.com", "P@$$w0rd"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestAuthServiceLogin_SuccessResetsRateLimit(t *testing.T) {
	repo := newMockAccountRepo()
	seedAccount(t, repo, "owner@example.com", "P@$$w0rd", domain.StatusActive)
	svc := newTestAuthService(repo, &mockPublisher{}, &mockTokenIssuer{},
		WithLoginRateLimiter(NewMemoryLoginRateLimiter(time.Minute, 2)))

	if _, err := svc.Login(context.Background(), "owner@example.com", "wrong"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "owner@example.com", "P@$$w0rd"); err != nil {
		t.Fatalf("login: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.Login(context.Background(), "owner@example.com", "P@$$w0rd"); err != nil {
			t.Fatalf("attempt %d after successful login: %v", i, err)
		}
	}
}

func TestAuthServiceVerifyEmail(t *testing.T) {
	t.Run("unknown token", func(t *testing.T) {
		svc := newTestAuthService(newMockAccountRepo(), &mockPublisher{}, &mockTokenIssuer{})
		if err := svc.VerifyEmail(context.Background(), "invalid-token"); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
		if err := svc.VerifyEmail(context.Background(), "invalid-token"); errors.Is(err, ErrTokenExpired) {
			t.Fatalf("unknown token must not be reported as expired")
		}
	})

	t.Run("empty token", func(t *testing.T) {
		svc := newTestAuthService(newMockAccountRepo(), &mockPublisher{}, &mockTokenIssuer{})
		if err := svc.VerifyEmail(context.Background(), "  "); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		repo := newMockAccountRepo()
		expired := fixedNow.Add(-time.Minute)
		account := repo.put(domain.UserAccount{
			EmailAddress:               "late@example.com",
			PasswordHash:               "hash",
			AccountStatus:              domain.StatusPendingVerification,
			Role:                       domain.RoleApplicant,
			VerificationToken:          "797f5c56-7b5b-40bc-aafe-1c91e048434d",
			VerificationTokenExpiresAt: &expired,
		})
		svc := newTestAuthService(repo, &mockPublisher{}, &mockTokenIssuer{})

		err := svc.VerifyEmail(context.Background(), "797f5c56-7b5b-40bc-aafe-1c91e048434d")
		if !errors.Is(err, ErrTokenExpired) || !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrTokenExpired wrapping ErrInvalidToken, got %v", err)
		}
		stored, _ := repo.FindByEmail(context.Background(), "late@example.com")
		if stored.AccountStatus != domain.StatusPendingVerification || stored.ID != account.ID {
			t.Fatalf("expected status unchanged, got %s", stored.AccountStatus)
		}
	})

	t.Run("valid token activates once", func(t *testing.T) {
		repo := newMockAccountRepo()
		seeded := seedAccount(t, repo, "fresh@example.com", "P@$$w0rd", domain.StatusPendingVerification)
		svc := newTestAuthService(repo, &mockPublisher{}, &mockTokenIssuer{})

		if err := svc.VerifyEmail(context.Background(), seeded.VerificationToken); err != nil {
			t.Fatalf("verify: %v", err)
		}
		stored, _ := repo.FindByEmail(context.Background(), "fresh@example.com")
		if stored.AccountStatus != domain.StatusActive {
			t.Fatalf("expected ACTIVE, got %s", stored.AccountStatus)
		}
		if stored.VerificationToken != "" {
			t.Fatalf("expected token consumed")
		}
		if err := svc.VerifyEmail(context.Background(), seeded.VerificationToken); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected second verification to fail, got %v", err)
		}
	})

	t.Run("token on non-pending account", func(t *testing.T) {
		repo := newMockAccountRepo()
		expires := fixedNow.Add(time.Hour)
		repo.put(domain.UserAccount{
			EmailAddress:               "active@example.com",
			PasswordHash:               "hash",
			AccountStatus:              domain.StatusActive,
			VerificationToken:          "inert-token",
			VerificationTokenExpiresAt: &expires,
		})
		svc := newTestAuthService(repo, &mockPublisher{}, &mockTokenIssuer{})
		if err := svc.VerifyEmail(context.Background(), "inert-token"); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})
}

func TestAuthService_RegisterVerifyLoginFlow(t *testing.T) {
	repo := newMockAccountRepo()
	pub := &mockPublisher{}
	svc := newTestAuthService(repo, pub, NewJWTService(testJWTSecret, time.Hour, "account-auth"))

	if err := svc.Register(context.Background(), RegisterInput{EmailAddress: "new@x.com", Password: "Str0ng!Pw"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Login(context.Background(), "new@x.com", "Str0ng!Pw"); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified before verification, got %v", err)
	}
	if err := svc.VerifyEmail(context.Background(), pub.messages[0].Token); err != nil {
		t.Fatalf("verify: %v", err)
	}
	token, err := svc.Login(context.Background(), "new@x.com", "Str0ng!Pw")
	if err != nil || token == "" {
		t.Fatalf("expected token after verification, got %q (%v)", token, err)
	}
}
