package authpw

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"datasetstudio/api/internal/store"
)

// mockUserStore is an in-memory UserStore for testing.
type mockUserStore struct {
	users map[string]store.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]store.User)}
}

func (m *mockUserStore) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	if user, ok := m.users[username]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.Username] = user
	return nil
}

func (m *mockUserStore) SetVerificationCode(_ context.Context, username, code string, expiresAt time.Time) error {
	user, ok := m.users[username]
	if !ok {
		return errors.New("user not found")
	}
	user.VerificationCode = code
	user.VerificationExpiresAt = &expiresAt
	m.users[username] = user
	return nil
}

func (m *mockUserStore) MarkUserVerified(_ context.Context, username string) error {
	user, ok := m.users[username]
	if !ok {
		return errors.New("user not found")
	}
	user.IsVerified = true
	user.VerificationCode = ""
	m.users[username] = user
	return nil
}

func register(t *testing.T, svc *Service) *RegisterResponse {
	t.Helper()
	resp, err := svc.Register(context.Background(), RegisterRequest{
		Username: "ada",
		Email:    "ada@example.com",
		Password: "correct horse",
		FullName: "Ada Lovelace",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return resp
}

func TestRegisterIssuesVerificationCode(t *testing.T) {
	svc := NewService(newMockUserStore())
	resp := register(t, svc)

	if !regexp.MustCompile(`^\d{6}$`).MatchString(resp.VerificationCode) {
		t.Fatalf("verification code = %q, want six digits", resp.VerificationCode)
	}
	if resp.User.IsVerified {
		t.Fatal("new account must start unverified")
	}
	if resp.User.Role != "user" {
		t.Fatalf("role = %q, want user", resp.User.Role)
	}
	if resp.User.PasswordHash == "correct horse" {
		t.Fatal("password stored in cleartext")
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	svc := NewService(newMockUserStore())
	register(t, svc)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Username: "ada",
		Email:    "other@example.com",
		Password: "correct horse",
	})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("Register() error = %v, want ErrUsernameTaken", err)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := NewService(newMockUserStore())
	_, err := svc.Register(context.Background(), RegisterRequest{
		Username: "ada",
		Email:    "ada@example.com",
		Password: "short",
	})
	if err == nil {
		t.Fatal("expected Register() to reject short password")
	}
}

func TestLoginFlow(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	resp := register(t, svc)

	// Unverified accounts are reported, not admitted.
	if _, err := svc.Login(context.Background(), "ada", "correct horse"); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("Login() before verify error = %v, want ErrNotVerified", err)
	}

	if err := svc.VerifyCode(context.Background(), "ada", resp.VerificationCode); err != nil {
		t.Fatalf("VerifyCode() error = %v", err)
	}
	user, err := svc.Login(context.Background(), "ada", "correct horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.Username != "ada" || !user.IsVerified {
		t.Fatalf("unexpected user: %+v", user)
	}

	if _, err := svc.Login(context.Background(), "ada", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login() wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(context.Background(), "nobody", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login() unknown user error = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifyCodeRejectsWrongCode(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	register(t, svc)

	pinned := mock.users["ada"]
	pinned.VerificationCode = "123456"
	mock.users["ada"] = pinned

	if err := svc.VerifyCode(context.Background(), "ada", "654321"); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("VerifyCode() error = %v, want ErrCodeInvalid", err)
	}
	if err := svc.VerifyCode(context.Background(), "nobody", "123456"); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("VerifyCode() unknown user error = %v, want ErrCodeInvalid", err)
	}
}

func TestVerifyCodeRejectsExpired(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	resp := register(t, svc)

	stale := mock.users["ada"]
	expired := time.Now().Add(-time.Minute)
	stale.VerificationExpiresAt = &expired
	mock.users["ada"] = stale

	if err := svc.VerifyCode(context.Background(), "ada", resp.VerificationCode); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("VerifyCode() error = %v, want ErrCodeExpired", err)
	}
}

func TestResendCodeReplacesPending(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	first := register(t, svc)

	user, code, err := svc.ResendCode(context.Background(), "ada")
	if err != nil {
		t.Fatalf("ResendCode() error = %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if err := svc.VerifyCode(context.Background(), "ada", code); err != nil {
		t.Fatalf("VerifyCode() with resent code error = %v", err)
	}

	// The original code is dead once replaced and verified.
	if mock.users["ada"].VerificationCode == first.VerificationCode {
		t.Fatal("resend kept the old verification code")
	}
}

func TestResendCodeRejectsVerifiedAccount(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	resp := register(t, svc)
	if err := svc.VerifyCode(context.Background(), "ada", resp.VerificationCode); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.ResendCode(context.Background(), "ada"); err == nil {
		t.Fatal("expected ResendCode() to fail for verified account")
	}
}
