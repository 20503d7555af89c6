package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clinvault/clinvault/internal/common"
	"github.com/clinvault/clinvault/internal/password"
	"github.com/clinvault/clinvault/internal/server/audit"
	"github.com/clinvault/clinvault/internal/server/models"
	"github.com/clinvault/clinvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// UserService handles account registration and login. Every login attempt,
// successful or not, lands in the audit trail.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tokens      *TokenService
	recorder    *audit.Recorder
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, tokens *TokenService, recorder *audit.Recorder) *UserService {
	return &UserService{db: db, repomanager: m, tokens: tokens, recorder: recorder}
}

// Register creates a new account with an argon2id password hash.
func (s *UserService) Register(ctx context.Context, userName, plainPassword, role string) (*models.User, error) {
	hash, err := password.Hash(plainPassword)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		UserName:     userName,
		Role:         role,
		PasswordHash: hash,
	}
	u, err := s.repomanager.Users(s.db).Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// Login verifies credentials and, on success, issues a token pair. The
// caller learns only "unauthorized" on any failure; the audit detail keeps
// the distinction.
func (s *UserService) Login(ctx context.Context, userName, plainPassword string, reqCtx RequestContext) (*TokenPair, error) {
	user, err := s.repomanager.Users(s.db).GetByUserName(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.auditLogin(ctx, "", userName, "failure", "unknown account", reqCtx)
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	ok, err := password.Verify(plainPassword, user.PasswordHash)
	if err != nil || !ok {
		s.auditLogin(ctx, user.ID, userName, "failure", "password mismatch", reqCtx)
		return nil, common.ErrorUnauthorized
	}

	raw, rec, err := s.tokens.Issue(ctx, user.ID, user.Role, reqCtx)
	if err != nil {
		return nil, common.ErrorInternal
	}
	access, err := s.tokens.AccessToken(rec)
	if err != nil {
		return nil, common.ErrorInternal
	}

	s.auditLogin(ctx, user.ID, userName, "success", "login", reqCtx)
	return &TokenPair{AccessToken: access, RefreshToken: raw}, nil
}

func (s *UserService) auditLogin(ctx context.Context, userID, userName, status, detail string, reqCtx RequestContext) {
	severity := models.SeverityInfo
	if status != "success" {
		severity = models.SeverityWarning
	}
	_ = s.recorder.Record(ctx, models.AuditEvent{
		ActorID:   userID,
		Action:    "login",
		Entity:    "user",
		Status:    status,
		IP:        reqCtx.IP,
		UserAgent: reqCtx.UserAgent,
		Severity:  severity,
		Detail:    fmt.Sprintf("%s (username=%s)", detail, userName),
	})
}
