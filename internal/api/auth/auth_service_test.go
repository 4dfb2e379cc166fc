package auth

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loftwire/accounts-api/config"
)

// MockAuthRepo is a mock implementation of the AuthRepo interface.
type MockAuthRepo struct {
	mock.Mock
}

func (m *MockAuthRepo) Insert(ctx context.Context, user *User) (*User, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockAuthRepo) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockAuthRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockAuthRepo) SetResetToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	args := m.Called(ctx, userID, token, expiresAt)
	return args.Error(0)
}

func (m *MockAuthRepo) ConsumeResetToken(ctx context.Context, token, newPasswordHash string, now time.Time) (*User, error) {
	args := m.Called(ctx, token, newPasswordHash, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockAuthRepo) SoftDeleteUser(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func newTestService(repo AuthRepo) *AuthServiceImpl {
	hasher := NewBcryptHasher(bcrypt.MinCost)
	sessions := NewJWTSessionIssuer(config.JWTConfig{
		SecretKey:      "test-secret",
		AccessTokenTTL: 15 * time.Minute,
		Issuer:         "test-issuer",
		Audience:       "test-audience",
	})
	return NewAuthService(repo, hasher, NewHexTokenGenerator(), sessions, 10*time.Minute, slog.Default())
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockAuthRepo)
		service := newTestService(mockRepo)

		mockRepo.On("Insert", ctx, mock.MatchedBy(func(u *User) bool {
			return u.Name == "Ana" && u.Email == "ana@x.com" && u.PasswordHash != "" && u.PasswordHash != "secret1"
		})).Return(&User{
			ID:    uuid.New(),
			Name:  "Ana",
			Email: "ana@x.com",
		}, nil).Once()

		user, err := service.SignUp(ctx, "Ana", "ana@x.com", "secret1")

		require.NoError(t, err)
		assert.Equal(t, "ana@x.com", user.Email)
		mockRepo.AssertExpectations(t)
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		mockRepo := new(MockAuthRepo)
		service := newTestService(mockRepo)

		mockRepo.On("Insert", ctx, mock.Anything).
			Return(nil, &DuplicateKeyError{Field: "email", Value: "ana@x.com"}).Once()

		_, err := service.SignUp(ctx, "Ana", "ana@x.com", "secret1")

		assert.ErrorIs(t, err, ErrDuplicateEmail)
		mockRepo.AssertExpectations(t)
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	password := "password123"
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)

	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockAuthRepo)
		service := newTestService(mockRepo)

		mockRepo.On("GetUserByEmail", ctx, "test@example.com").Return(&User{
			ID:           uuid.New(),
			Name:         "Test",
			Email:        "test@example.com",
			PasswordHash: string(hash),
		}, nil).Once()

		user, token, err := service.Login(ctx, "test@example.com", password)

		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.Equal(t, "test@example.com", user.Email)
		mockRepo.AssertExpectations(t)
	})

	t.Run("UnknownEmail", func(t *testing.T) {
		mockRepo := new(MockAuthRepo)
		service := newTestService(mockRepo)

		mockRepo.On("GetUserByEmail", ctx, "nobody@example.com").Return(nil, ErrUserNotFound).Once()

		_, _, err := service.Login(ctx, "nobody@example.com", password)

		assert.ErrorIs(t, err, ErrInvalidCredentials)
		mockRepo.AssertExpectations(t)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		mockRepo := new(MockAuthRepo)
		service := newTestService(mockRepo)

		mockRepo.On("GetUserByEmail", ctx, "test@example.com").Return(&User{
			ID:           uuid.New(),
			Email:        "test@example.com",
			PasswordHash: string(hash),
		}, nil).Once()

		_, _, err := service.Login(ctx, "test@example.com", "wrong-password")

		assert.ErrorIs(t, err, ErrInvalidCredentials)
		mockRepo.AssertExpectations(t)
	})

	// Unknown email and wrong password must be the same error kind.
	t.Run("FailureKindsIndistinguishable", func(t *testing.T) {
		mockRepo := new(MockAuthRepo)
		service := newTestService(mockRepo)

		mockRepo.On("GetUserByEmail", ctx, "nobody@example.com").Return(nil, ErrUserNotFound).Once()
		mockRepo.On("GetUserByEmail", ctx, "test@example.com").Return(&User{
			ID:           uuid.New(),
			Email:        "test@example.com",
			PasswordHash: string(hash),
		}, nil).Once()

		_, _, errUnknown := service.Login(ctx, "nobody@example.com", password)
		_, _, errWrong := service.Login(ctx, "test@example.com", "wrong-password")

		assert.Equal(t, errUnknown, errWrong)
	})
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockAuthRepo)
		service := newTestService(mockRepo)
		userID := uuid.New()

		mockRepo.On("GetUserByEmail", ctx, "ana@x.com").Return(&User{
			ID:    userID,
			Email: "ana@x.com",
		}, nil).Once()
		mockRepo.On("SetResetToken", ctx, userID, mock.AnythingOfType("string"), mock.MatchedBy(func(expiresAt time.Time) bool {
			ttl := time.Until(expiresAt)
			return ttl > 9*time.Minute && ttl <= 10*time.Minute
		})).Return(nil).Once()

		token, err := service.ResetPassword(ctx, "ana@x.com")

		require.NoError(t, err)
		assert.Len(t, token, 64)
		assert.Equal(t, strings.ToLower(token), token)
		mockRepo.AssertExpectations(t)
	})

	t.Run("UnknownEmail", func(t *testing.T) {
		mockRepo := new(MockAuthRepo)
		service := newTestService(mockRepo)

		mockRepo.On("GetUserByEmail", ctx, "nobody@x.com").Return(nil, ErrUserNotFound).Once()

		_, err := service.ResetPassword(ctx, "nobody@x.com")

		assert.ErrorIs(t, err, ErrUserNotFound)
		mockRepo.AssertExpectations(t)
	})
}

func TestVerifyResetPasswordToken(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockAuthRepo)
		service := newTestService(mockRepo)

		mockRepo.On("ConsumeResetToken", ctx, "sometoken", mock.MatchedBy(func(hash string) bool {
			return hash != "newpass1"
		}), mock.AnythingOfType("time.Time")).Return(&User{ID: uuid.New()}, nil).Once()

		err := service.VerifyResetPasswordToken(ctx, "sometoken", "newpass1")

		assert.NoError(t, err)
		mockRepo.AssertExpectations(t)
	})

	t.Run("InvalidOrExpired", func(t *testing.T) {
		mockRepo := new(MockAuthRepo)
		service := newTestService(mockRepo)

		mockRepo.On("ConsumeResetToken", ctx, "badtoken", mock.Anything, mock.Anything).
			Return(nil, ErrInvalidOrExpiredToken).Once()

		err := service.VerifyResetPasswordToken(ctx, "badtoken", "newpass1")

		assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
		mockRepo.AssertExpectations(t)
	})
}

// memoryAuthRepo is an in-memory AuthRepo with the same conditional-update
// consumption semantics as the postgres store. It backs the lifecycle and
// concurrency tests below.
type memoryAuthRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
}

func newMemoryAuthRepo() *memoryAuthRepo {
	return &memoryAuthRepo{users: make(map[uuid.UUID]*User)}
}

func (r *memoryAuthRepo) Insert(_ context.Context, user *User) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email && u.DeletedAt == nil {
			return nil, &DuplicateKeyError{Field: "email", Value: user.Email}
		}
	}
	u := *user
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	r.users[u.ID] = &u
	out := u
	return &out, nil
}

func (r *memoryAuthRepo) GetUserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email && u.DeletedAt == nil {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memoryAuthRepo) GetUserByID(_ context.Context, userID uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok && u.DeletedAt == nil {
		out := *u
		return &out, nil
	}
	return nil, ErrUserNotFound
}

func (r *memoryAuthRepo) SetResetToken(_ context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok || u.DeletedAt != nil {
		return ErrUserNotFound
	}
	u.ResetPasswordToken = &token
	u.ResetPasswordTokenExpiresAt = &expiresAt
	u.UpdatedAt = time.Now()
	return nil
}

func (r *memoryAuthRepo) ConsumeResetToken(_ context.Context, token, newPasswordHash string, now time.Time) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.DeletedAt != nil || u.ResetPasswordToken == nil || *u.ResetPasswordToken != token {
			continue
		}
		if u.ResetPasswordTokenExpiresAt == nil || !u.ResetPasswordTokenExpiresAt.After(now) {
			continue
		}
		u.PasswordHash = newPasswordHash
		u.PasswordResetAt = &now
		u.ResetPasswordToken = nil
		u.ResetPasswordTokenExpiresAt = nil
		u.UpdatedAt = now
		out := *u
		return &out, nil
	}
	return nil, ErrInvalidOrExpiredToken
}

func (r *memoryAuthRepo) SoftDeleteUser(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok || u.DeletedAt != nil {
		return ErrUserNotFound
	}
	now := time.Now()
	u.DeletedAt = &now
	return nil
}

// expireToken backdates a pending token so expiry paths can be exercised
// without sleeping.
func (r *memoryAuthRepo) expireToken(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	past := time.Now().Add(-time.Millisecond)
	r.users[userID].ResetPasswordTokenExpiresAt = &past
}

func TestCredentialLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	service := newTestService(repo)

	user, err := service.SignUp(ctx, "Ana", "ana@x.com", "secret1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", user.PasswordHash)

	// Duplicate signup with the same normalized email fails.
	_, err = service.SignUp(ctx, "Ana Again", "ana@x.com", "secret2")
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	_, token, err := service.Login(ctx, "ana@x.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	resetToken, err := service.ResetPassword(ctx, "ana@x.com")
	require.NoError(t, err)
	assert.Len(t, resetToken, 64)

	require.NoError(t, service.VerifyResetPasswordToken(ctx, resetToken, "newpass1"))

	// Token is single-use: a second attempt with the same token fails.
	assert.ErrorIs(t, service.VerifyResetPasswordToken(ctx, resetToken, "another1"), ErrInvalidOrExpiredToken)

	// Old password no longer works, new one does.
	_, _, err = service.Login(ctx, "ana@x.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = service.Login(ctx, "ana@x.com", "newpass1")
	assert.NoError(t, err)
}

func TestResetTokenReplacement(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	service := newTestService(repo)

	_, err := service.SignUp(ctx, "Bob", "bob@x.com", "secret1")
	require.NoError(t, err)

	first, err := service.ResetPassword(ctx, "bob@x.com")
	require.NoError(t, err)
	second, err := service.ResetPassword(ctx, "bob@x.com")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// Issuing a second token invalidates the first immediately.
	assert.ErrorIs(t, service.VerifyResetPasswordToken(ctx, first, "newpass1"), ErrInvalidOrExpiredToken)
	assert.NoError(t, service.VerifyResetPasswordToken(ctx, second, "newpass1"))
}

func TestResetTokenExpiry(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	service := newTestService(repo)

	user, err := service.SignUp(ctx, "Cara", "cara@x.com", "secret1")
	require.NoError(t, err)

	token, err := service.ResetPassword(ctx, "cara@x.com")
	require.NoError(t, err)

	repo.expireToken(user.ID)

	assert.ErrorIs(t, service.VerifyResetPasswordToken(ctx, token, "newpass1"), ErrInvalidOrExpiredToken)
}

func TestConcurrentTokenConsumption(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	service := newTestService(repo)

	_, err := service.SignUp(ctx, "Dan", "dan@x.com", "secret1")
	require.NoError(t, err)

	token, err := service.ResetPassword(ctx, "dan@x.com")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = service.VerifyResetPasswordToken(ctx, token, "newpass1")
		}(i)
	}
	close(start)
	wg.Wait()

	// Exactly one caller may consume the token.
	var successes, rejections int
	for _, err := range errs {
		if err == nil {
			successes++
		} else if assert.ErrorIs(t, err, ErrInvalidOrExpiredToken) {
			rejections++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, rejections)
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	service := newTestService(repo)

	user, err := service.SignUp(ctx, "Eve", "eve@x.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, service.DeleteAccount(ctx, user.ID))

	// Soft-deleted users are invisible to lookups.
	_, err = service.GetUserByID(ctx, user.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, _, err = service.Login(ctx, "eve@x.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
