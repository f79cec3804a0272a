package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/logging"
	"apotek/backend/internal/store"
)

var (
	errInvalidCredentials = errors.New("email atau password salah")
	errInactiveAccount    = errors.New("akun tidak aktif")
	errInvalidToken       = errors.New("invalid or expired token")
)

// AuthManager issues and checks access tokens. Credentials are cached by email
// and refreshed from the user store on login and after every user change.
type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUser(ctx context.Context, user domain.UserAccount) error
	UpdateUserPassword(ctx context.Context, id string, passwordHash string) error
	DeleteUser(ctx context.Context, id string) error
}

type credential struct {
	id       string
	nama     string
	password string
	role     string
	active   bool
	created  time.Time
}

type apotekClaims struct {
	jwtlib.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
	}
	// Startup load; no request context exists yet.
	manager.bootstrapUsers(context.Background())
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.bootstrapUsers(ctx)
	email := normalizeEmail(req.Email)
	a.mu.RLock()
	cred, ok := a.users[email]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(email, cred, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		User:        cred.pengguna(email),
	}, nil
}

// ParseToken validates the token and returns the session it carries. Tokens
// of accounts that were deactivated or deleted after issuance are rejected.
func (a *AuthManager) ParseToken(tokenStr string) (domain.Session, error) {
	claims := &apotekClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Session{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Session{}, errors.New("invalid token subject")
	}

	email := normalizeEmail(claims.Email)
	a.mu.RLock()
	cred, ok := a.users[email]
	a.mu.RUnlock()
	if !ok || cred.id != sub || !cred.active {
		return domain.Session{}, errInvalidToken
	}

	return domain.Session{UserID: sub, Nama: cred.nama, Email: email, Role: cred.role}, nil
}

func (a *AuthManager) sign(email string, cred credential, expiresAt time.Time) (string, error) {
	claims := apotekClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   cred.id,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "apotek",
		},
		Email: email,
		Name:  cred.nama,
		Role:  cred.role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) ListUsers(ctx context.Context) ([]domain.Pengguna, error) {
	accounts, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]domain.Pengguna, 0, len(accounts))
	for _, account := range accounts {
		users = append(users, account.Pengguna)
	}
	return users, nil
}

func (a *AuthManager) CreateUser(ctx context.Context, req domain.PenggunaCreateRequest) (domain.Pengguna, error) {
	email := normalizeEmail(req.Email)
	nama := strings.TrimSpace(req.Nama)
	if email == "" || nama == "" {
		return domain.Pengguna{}, fmt.Errorf("%w: nama dan email wajib diisi", store.ErrInvalidInput)
	}
	if !isValidRole(req.Role) {
		return domain.Pengguna{}, fmt.Errorf("%w: role harus APA atau Pegawai", store.ErrInvalidInput)
	}
	if len(req.Password) < 6 {
		return domain.Pengguna{}, fmt.Errorf("%w: password minimal 6 karakter", store.ErrInvalidInput)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.Pengguna{}, fmt.Errorf("failed to hash password: %w", err)
	}
	account := domain.UserAccount{
		Pengguna: domain.Pengguna{
			Nama:      nama,
			Email:     email,
			Role:      req.Role,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		},
		PasswordHash: passwordHash,
	}
	if err := a.userStore.CreateUser(ctx, account); err != nil {
		return domain.Pengguna{}, err
	}
	a.bootstrapUsers(ctx)

	created, err := a.findUser(ctx, func(u domain.UserAccount) bool { return u.Email == email })
	if err != nil {
		return domain.Pengguna{}, err
	}
	return created.Pengguna, nil
}

func (a *AuthManager) UpdateUser(ctx context.Context, id string, req domain.PenggunaUpdateRequest) (domain.Pengguna, error) {
	account, err := a.findUser(ctx, func(u domain.UserAccount) bool { return u.ID == id })
	if err != nil {
		return domain.Pengguna{}, err
	}

	if req.Nama != nil {
		nama := strings.TrimSpace(*req.Nama)
		if nama == "" {
			return domain.Pengguna{}, fmt.Errorf("%w: nama tidak boleh kosong", store.ErrInvalidInput)
		}
		account.Nama = nama
	}
	if req.Role != nil {
		if !isValidRole(*req.Role) {
			return domain.Pengguna{}, fmt.Errorf("%w: role harus APA atau Pegawai", store.ErrInvalidInput)
		}
		account.Role = *req.Role
	}
	if req.Active != nil {
		account.Active = *req.Active
	}
	account.PasswordHash = ""
	if req.Password != nil {
		if len(*req.Password) < 6 {
			return domain.Pengguna{}, fmt.Errorf("%w: password minimal 6 karakter", store.ErrInvalidInput)
		}
		account.PasswordHash, err = hashPassword(*req.Password)
		if err != nil {
			return domain.Pengguna{}, fmt.Errorf("failed to hash password: %w", err)
		}
	}

	if err := a.userStore.UpdateUser(ctx, account); err != nil {
		return domain.Pengguna{}, err
	}
	a.bootstrapUsers(ctx)
	return account.Pengguna, nil
}

// EnsureInitialAPA creates an APA account when the user store holds no
// accounts at all. It reports whether an account was created.
func (a *AuthManager) EnsureInitialAPA(ctx context.Context, email string, password string) (bool, error) {
	accounts, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	if len(accounts) > 0 {
		return false, nil
	}
	if len(password) < 8 {
		return false, fmt.Errorf("%w: password awal APA minimal 8 karakter", store.ErrInvalidInput)
	}
	_, err = a.CreateUser(ctx, domain.PenggunaCreateRequest{
		Nama:     "Apoteker Penanggung Jawab",
		Email:    email,
		Password: password,
		Role:     domain.RoleAPA,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteUser removes an account. actorID is the caller; nobody can delete
// their own account.
func (a *AuthManager) DeleteUser(ctx context.Context, id string, actorID string) error {
	if id == actorID {
		return fmt.Errorf("%w: tidak dapat menghapus akun sendiri", store.ErrInvalidInput)
	}
	if err := a.userStore.DeleteUser(ctx, id); err != nil {
		return err
	}
	a.bootstrapUsers(ctx)
	return nil
}

func (a *AuthManager) findUser(ctx context.Context, match func(domain.UserAccount) bool) (domain.UserAccount, error) {
	accounts, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return domain.UserAccount{}, err
	}
	for _, account := range accounts {
		if match(account) {
			return account, nil
		}
	}
	return domain.UserAccount{}, fmt.Errorf("%w: pengguna", store.ErrNotFound)
}

// bootstrapUsers reloads the credential cache from the user store. Legacy
// plain-text passwords are upgraded to bcrypt hashes in the store.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		logging.For("auth").WithError(err).Warn("failed to load users")
		return
	}

	loaded := make(map[string]credential, len(users))
	for _, user := range users {
		email := normalizeEmail(user.Email)
		if email == "" {
			continue
		}
		password := user.PasswordHash
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				_ = a.userStore.UpdateUserPassword(ctx, user.ID, hashed)
			}
		}
		loaded[email] = credential{
			id:       user.ID,
			nama:     user.Nama,
			password: password,
			role:     user.Role,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}

	a.mu.Lock()
	a.users = loaded
	a.mu.Unlock()
}

func (c credential) pengguna(email string) domain.Pengguna {
	return domain.Pengguna{
		ID:        c.id,
		Nama:      c.nama,
		Email:     email,
		Role:      c.role,
		Active:    c.active,
		CreatedAt: c.created,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isValidRole(role string) bool {
	return role == domain.RoleAPA || role == domain.RolePegawai
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
