package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/arcadia-sis/arcadia-sis/internal/auth"
	"github.com/arcadia-sis/arcadia-sis/internal/shared"
)

type stubRepo struct {
	user     *auth.User
	sessions map[string]uuid.UUID
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) CreateStudentAccount(ctx context.Context, email, fullName, passwordHash string) (*auth.User, error) {
	if s.user != nil && s.user.Email == email {
		return nil, shared.ErrDuplicateEmail
	}
	s.user = &auth.User{
		ID:           uuid.New(),
		Email:        email,
		FullName:     fullName,
		PasswordHash: passwordHash,
		IsActive:     true,
	}
	return s.user, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID uuid.UUID, expiresAt time.Time, ip, ua string) error {
	if s.sessions == nil {
		s.sessions = make(map[string]uuid.UUID)
	}
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

func newAuthHandler(t *testing.T, repo auth.Repository) (*auth.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")
	handler := auth.NewHandler(nil, auth.NewService(repo), sessionManager, csrfManager)
	return handler, sessionManager
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func doLogin(t *testing.T, handler *auth.Handler, sessionManager *shared.SessionManager, body string) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	sess, err := sessionManager.Load(context.Background(), req)
	require.NoError(t, err)
	ctx := shared.ContextWithSession(req.Context(), sess)
	req = req.WithContext(ctx)

	res := httptest.NewRecorder()
	mux := newMux(handler)
	mux.ServeHTTP(res, req)
	require.NoError(t, sessionManager.Commit(ctx, res, req, sess))
	return res, sess
}

func newMux(handler *auth.Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		handler.MountRoutes(r)
	})
	return r
}

func TestLoginSuccess(t *testing.T) {
	repo := &stubRepo{
		user: &auth.User{
			ID:           uuid.New(),
			Email:        "student@arcadia.edu",
			PasswordHash: hashPassword(t, "correct-horse"),
			IsActive:     true,
		},
	}
	handler, sessionManager := newAuthHandler(t, repo)

	res, sess := doLogin(t, handler, sessionManager, `{"email":"student@arcadia.edu","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, repo.user.ID.String(), sess.User())
	require.Contains(t, res.Body.String(), "csrf_token")
	require.Contains(t, repo.sessions, sess.ID)
}

func TestLoginInvalidCredentials(t *testing.T) {
	repo := &stubRepo{
		user: &auth.User{
			ID:           uuid.New(),
			Email:        "student@arcadia.edu",
			PasswordHash: hashPassword(t, "correct-horse"),
			IsActive:     true,
		},
	}
	handler, sessionManager := newAuthHandler(t, repo)

	res, sess := doLogin(t, handler, sessionManager, `{"email":"student@arcadia.edu","password":"wrong-password"}`)
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Empty(t, sess.User())
}

func TestLoginInactiveAccount(t *testing.T) {
	repo := &stubRepo{
		user: &auth.User{
			ID:           uuid.New(),
			Email:        "student@arcadia.edu",
			PasswordHash: hashPassword(t, "correct-horse"),
			IsActive:     false,
		},
	}
	handler, sessionManager := newAuthHandler(t, repo)

	res, _ := doLogin(t, handler, sessionManager, `{"email":"student@arcadia.edu","password":"correct-horse"}`)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := auth.NewService(&stubRepo{})
	ctx := context.Background()

	_, err := svc.Register(ctx, "new@arcadia.edu", "New Student", "long-enough-password")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "new@arcadia.edu", "New Student", "long-enough-password")
	require.ErrorIs(t, err, shared.ErrDuplicateEmail)
}

func TestRegisterShortPassword(t *testing.T) {
	svc := auth.NewService(&stubRepo{})
	_, err := svc.Register(context.Background(), "new@arcadia.edu", "New Student", "short")
	require.Error(t, err)
}
