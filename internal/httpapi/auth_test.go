package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
	nextID  int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return store.ErrConflict
		}
	}
	s.nextID++
	user.ID = fmt.Sprintf("usr-stub-%d", s.nextID)
	s.users[user.ID] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[user.ID]
	if !ok {
		return store.ErrNotFound
	}
	if user.PasswordHash == "" {
		user.PasswordHash = current.PasswordHash
	}
	s.users[user.ID] = user
	return nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, id string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[id]
	user.PasswordHash = passwordHash
	s.users[id] = user
	s.updates++
	return nil
}

func (s *userStoreStub) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func newStubWithAPA(t *testing.T) *userStoreStub {
	t.Helper()
	hash, err := hashPassword("apa-secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"usr-apa": {
				Pengguna: domain.Pengguna{
					ID:        "usr-apa",
					Nama:      "Apoteker",
					Email:     "apa@apotek.local",
					Role:      domain.RoleAPA,
					Active:    true,
					CreatedAt: time.Now().UTC(),
				},
				PasswordHash: hash,
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	stub := &userStoreStub{
		users: map[string]domain.UserAccount{
			"usr-legacy": {
				Pengguna: domain.Pengguna{
					ID:     "usr-legacy",
					Nama:   "Legacy",
					Email:  "legacy@apotek.local",
					Role:   domain.RolePegawai,
					Active: true,
				},
				PasswordHash: "plain-secret",
			},
		},
	}

	manager := NewAuthManager("test-secret-key-with-enough-length", time.Hour, stub)
	if stub.updates != 1 {
		t.Fatalf("expected one password upgrade, got %d", stub.updates)
	}
	if !isPasswordHash(stub.users["usr-legacy"].PasswordHash) {
		t.Fatalf("expected stored password to be a bcrypt hash")
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Email: "LEGACY@apotek.local ", Password: "plain-secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if strings.TrimSpace(resp.AccessToken) == "" || resp.User.ID != "usr-legacy" {
		t.Fatalf("unexpected login response %+v", resp)
	}
}

func TestAuthManagerTokenRoundTrip(t *testing.T) {
	manager := NewAuthManager("test-secret-key-with-enough-length", time.Hour, newStubWithAPA(t))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Email: "apa@apotek.local", Password: "apa-secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	session, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if session.UserID != "usr-apa" || session.Role != domain.RoleAPA || session.Email != "apa@apotek.local" {
		t.Fatalf("unexpected session %+v", session)
	}

	other := NewAuthManager("another-secret-key-with-enough-len", time.Hour, newStubWithAPA(t))
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestAuthManagerRejectsInactiveAccount(t *testing.T) {
	stub := newStubWithAPA(t)
	manager := NewAuthManager("test-secret-key-with-enough-length", time.Hour, stub)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Email: "apa@apotek.local", Password: "apa-secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	inactive := false
	if _, err := manager.UpdateUser(context.Background(), "usr-apa", domain.PenggunaUpdateRequest{Active: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, err := manager.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token of deactivated account to be rejected")
	}
	_, err = manager.Login(context.Background(), domain.LoginRequest{Email: "apa@apotek.local", Password: "apa-secret"})
	if !errors.Is(err, errInactiveAccount) {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

func TestAuthManagerWrongPassword(t *testing.T) {
	manager := NewAuthManager("test-secret-key-with-enough-length", time.Hour, newStubWithAPA(t))

	_, err := manager.Login(context.Background(), domain.LoginRequest{Email: "apa@apotek.local", Password: "nope"})
	if !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	_, err = manager.Login(context.Background(), domain.LoginRequest{Email: "missing@apotek.local", Password: "apa-secret"})
	if !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
}

func TestAuthManagerCreateUserAndLogin(t *testing.T) {
	manager := NewAuthManager("test-secret-key-with-enough-length", time.Hour, newStubWithAPA(t))

	created, err := manager.CreateUser(context.Background(), domain.PenggunaCreateRequest{
		Nama:     "Kasir Baru",
		Email:    " Kasir@Apotek.local",
		Password: "kasir-secret",
		Role:     domain.RolePegawai,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.Email != "kasir@apotek.local" || !created.Active || created.ID == "" {
		t.Fatalf("unexpected created user %+v", created)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Email: "kasir@apotek.local", Password: "kasir-secret"}); err != nil {
		t.Fatalf("login as new user: %v", err)
	}

	_, err = manager.CreateUser(context.Background(), domain.PenggunaCreateRequest{
		Nama:     "Duplikat",
		Email:    "kasir@apotek.local",
		Password: "kasir-secret",
		Role:     domain.RolePegawai,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}
}

func TestAuthManagerCreateUserValidation(t *testing.T) {
	manager := NewAuthManager("test-secret-key-with-enough-length", time.Hour, newStubWithAPA(t))

	cases := []domain.PenggunaCreateRequest{
		{Nama: "", Email: "a@apotek.local", Password: "secret1", Role: domain.RolePegawai},
		{Nama: "A", Email: "a@apotek.local", Password: "secret1", Role: "Admin"},
		{Nama: "A", Email: "a@apotek.local", Password: "123", Role: domain.RolePegawai},
	}
	for _, req := range cases {
		if _, err := manager.CreateUser(context.Background(), req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", req, err)
		}
	}
}

func TestAuthManagerBlocksSelfDelete(t *testing.T) {
	stub := newStubWithAPA(t)
	manager := NewAuthManager("test-secret-key-with-enough-length", time.Hour, stub)

	err := manager.DeleteUser(context.Background(), "usr-apa", "usr-apa")
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for self delete, got %v", err)
	}
	if _, ok := stub.users["usr-apa"]; !ok {
		t.Fatalf("expected account to survive self delete attempt")
	}

	if err := manager.DeleteUser(context.Background(), "usr-apa", "usr-other"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Email: "apa@apotek.local", Password: "apa-secret"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected deleted account to be unable to log in, got %v", err)
	}
}

func TestEnsureInitialAPAOnlyOnEmptyStore(t *testing.T) {
	empty := &userStoreStub{}
	manager := NewAuthManager("test-secret-key-with-enough-length", time.Hour, empty)

	if _, err := manager.EnsureInitialAPA(context.Background(), "apa@apotek.local", "short"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected short password to be rejected, got %v", err)
	}
	created, err := manager.EnsureInitialAPA(context.Background(), "apa@apotek.local", "initial-secret")
	if err != nil || !created {
		t.Fatalf("expected account to be created, got created=%v err=%v", created, err)
	}
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Email: "apa@apotek.local", Password: "initial-secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.User.Role != domain.RoleAPA {
		t.Fatalf("expected APA role, got %s", resp.User.Role)
	}

	created, err = manager.EnsureInitialAPA(context.Background(), "other@apotek.local", "initial-secret")
	if err != nil || created {
		t.Fatalf("expected no-op on populated store, got created=%v err=%v", created, err)
	}
}
