package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orderping/orderping/internal/db"
)

const testSecret = "test-jwt-secret"

type fakeAuthRepo struct {
	memberships map[uuid.UUID][]*db.WorkspaceMember
	profiles    map[uuid.UUID]*db.Profile
}

func newFakeAuthRepo() *fakeAuthRepo {
	return &fakeAuthRepo{
		memberships: make(map[uuid.UUID][]*db.WorkspaceMember),
		profiles:    make(map[uuid.UUID]*db.Profile),
	}
}

func (r *fakeAuthRepo) ListMemberships(ctx context.Context, userID uuid.UUID) ([]*db.WorkspaceMember, error) {
	return r.memberships[userID], nil
}

func (r *fakeAuthRepo) GetProfile(ctx context.Context, userID uuid.UUID) (*db.Profile, error) {
	p, ok := r.profiles[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (r *fakeAuthRepo) addUser(userID, workspaceID uuid.UUID, role string) {
	r.memberships[userID] = append(r.memberships[userID], &db.WorkspaceMember{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        role,
	})
	r.profiles[userID] = &db.Profile{ID: userID, ActiveWorkspaceID: &workspaceID}
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestResolveHappyPath(t *testing.T) {
	repo := newFakeAuthRepo()
	userID := uuid.New()
	workspaceID := uuid.New()
	repo.addUser(userID, workspaceID, db.RoleEditor)

	guard := NewGuard(repo, testSecret, zap.NewNop())
	principal, err := guard.Resolve(context.Background(), signToken(t, testSecret, userID.String()))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if principal.UserID != userID {
		t.Error("wrong user id")
	}
	if principal.WorkspaceID != workspaceID {
		t.Error("wrong workspace id")
	}
	if principal.Role != db.RoleEditor {
		t.Errorf("expected editor, got %s", principal.Role)
	}
}

func TestResolveRejectsBadTokens(t *testing.T) {
	repo := newFakeAuthRepo()
	userID := uuid.New()
	repo.addUser(userID, uuid.New(), db.RoleOwner)
	guard := NewGuard(repo, testSecret, zap.NewNop())

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", signToken(t, "other-secret", userID.String())},
		{"non-uuid subject", signToken(t, testSecret, "alice")},
		{"expired", func() string {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"sub": userID.String(),
				"exp": time.Now().Add(-time.Hour).Unix(),
			})
			signed, _ := token.SignedString([]byte(testSecret))
			return signed
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := guard.Resolve(context.Background(), tc.token)
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("expected ErrUnauthenticated, got %v", err)
			}
		})
	}
}

func TestResolveNoMemberships(t *testing.T) {
	repo := newFakeAuthRepo()
	userID := uuid.New()
	repo.profiles[userID] = &db.Profile{ID: userID}

	guard := NewGuard(repo, testSecret, zap.NewNop())
	_, err := guard.Resolve(context.Background(), signToken(t, testSecret, userID.String()))
	if !errors.Is(err, ErrNoWorkspace) {
		t.Errorf("expected ErrNoWorkspace, got %v", err)
	}
}

func TestResolveActiveWorkspaceNotAMembership(t *testing.T) {
	repo := newFakeAuthRepo()
	userID := uuid.New()
	repo.addUser(userID, uuid.New(), db.RoleOwner)

	// Profile points at a workspace the user was removed from.
	stale := uuid.New()
	repo.profiles[userID].ActiveWorkspaceID = &stale

	guard := NewGuard(repo, testSecret, zap.NewNop())
	_, err := guard.Resolve(context.Background(), signToken(t, testSecret, userID.String()))
	if !errors.Is(err, ErrNoWorkspace) {
		t.Errorf("expected ErrNoWorkspace, got %v", err)
	}
}

func TestResolveNilActiveWorkspace(t *testing.T) {
	repo := newFakeAuthRepo()
	userID := uuid.New()
	repo.addUser(userID, uuid.New(), db.RoleOwner)
	repo.profiles[userID].ActiveWorkspaceID = nil

	guard := NewGuard(repo, testSecret, zap.NewNop())
	_, err := guard.Resolve(context.Background(), signToken(t, testSecret, userID.String()))
	if !errors.Is(err, ErrNoWorkspace) {
		t.Errorf("expected ErrNoWorkspace, got %v", err)
	}
}

func TestMiddlewareStatusCodes(t *testing.T) {
	repo := newFakeAuthRepo()
	userID := uuid.New()
	workspaceID := uuid.New()
	repo.addUser(userID, workspaceID, db.RoleViewer)

	orphan := uuid.New()
	repo.profiles[orphan] = &db.Profile{ID: orphan}

	guard := NewGuard(repo, testSecret, zap.NewNop())

	var seen *Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := guard.Middleware(next)

	cases := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"valid member", "Bearer " + signToken(t, testSecret, userID.String()), http.StatusNoContent},
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"no workspace", "Bearer " + signToken(t, testSecret, orphan.String()), http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			if tc.wantStatus == http.StatusNoContent {
				if seen == nil || seen.WorkspaceID != workspaceID {
					t.Error("expected the principal in the request context")
				}
			}
		})
	}
}

func TestCanEdit(t *testing.T) {
	cases := []struct {
		role string
		want bool
	}{
		{db.RoleOwner, true},
		{db.RoleAdmin, true},
		{db.RoleEditor, true},
		{db.RoleViewer, false},
		{"", false},
	}

	for _, tc := range cases {
		p := &Principal{Role: tc.role}
		if got := p.CanEdit(); got != tc.want {
			t.Errorf("role %q: expected %v, got %v", tc.role, tc.want, got)
		}
	}
}
