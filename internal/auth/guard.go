// Package auth resolves the authenticated principal and their active
// workspace before any workspace-scoped operation runs.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orderping/orderping/internal/db"
)

var (
	// ErrUnauthenticated means there was no usable bearer token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNoWorkspace means the user has no memberships or their recorded
	// active workspace is not among them.
	ErrNoWorkspace = errors.New("no active workspace")
)

// Principal is the resolved caller identity every scoped query runs under.
type Principal struct {
	UserID      uuid.UUID
	WorkspaceID uuid.UUID
	Role        string
}

// CanEdit reports whether the principal may create or mutate orders.
func (p *Principal) CanEdit() bool {
	switch p.Role {
	case db.RoleOwner, db.RoleAdmin, db.RoleEditor:
		return true
	}
	return false
}

// Repository is the subset of database operations the guard needs.
type Repository interface {
	ListMemberships(ctx context.Context, userID uuid.UUID) ([]*db.WorkspaceMember, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*db.Profile, error)
}

// Guard authenticates bearer tokens and resolves workspace membership.
type Guard struct {
	repo   Repository
	secret []byte
	logger *zap.Logger
}

// NewGuard creates a workspace/access guard.
func NewGuard(repo Repository, secret string, logger *zap.Logger) *Guard {
	return &Guard{
		repo:   repo,
		secret: []byte(secret),
		logger: logger,
	}
}

// Resolve authenticates a token and determines the active workspace and role.
func (g *Guard) Resolve(ctx context.Context, token string) (*Principal, error) {
	userID, err := g.parseToken(token)
	if err != nil {
		return nil, err
	}

	memberships, err := g.repo.ListMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("verify workspace access: %w", err)
	}
	if len(memberships) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNoWorkspace)
	}

	profile, err := g.repo.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNoWorkspace)
		}
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if profile.ActiveWorkspaceID == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNoWorkspace)
	}

	for _, m := range memberships {
		if m.WorkspaceID == *profile.ActiveWorkspaceID {
			return &Principal{
				UserID:      userID,
				WorkspaceID: m.WorkspaceID,
				Role:        m.Role,
			}, nil
		}
	}

	g.logger.Warn("active workspace not among memberships",
		zap.String("user_id", userID.String()),
		zap.String("active_workspace_id", profile.ActiveWorkspaceID.String()),
	)
	return nil, fmt.Errorf("user %s: %w", userID, ErrNoWorkspace)
}

func (g *Guard) parseToken(token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, ErrUnauthenticated
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}

	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a user id", ErrUnauthenticated)
	}

	return userID, nil
}

type ctxKey struct{}

// PrincipalFromContext extracts the principal stored by Middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok
}

// WithPrincipal returns a context carrying the principal. Exposed for tests.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// Middleware authenticates the request and injects the principal into the
// request context. Unauthenticated requests get 401, users without a valid
// active workspace get 403.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)

		principal, err := g.Resolve(r.Context(), token)
		if err != nil {
			status := http.StatusInternalServerError
			title := "Internal error"
			switch {
			case errors.Is(err, ErrUnauthenticated):
				status = http.StatusUnauthorized
				title = "Authentication required"
			case errors.Is(err, ErrNoWorkspace):
				status = http.StatusForbidden
				title = "No active workspace"
			default:
				g.logger.Error("guard resolution failed", zap.Error(err))
			}

			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"type":   "access_denied",
				"title":  title,
				"status": status,
			})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
