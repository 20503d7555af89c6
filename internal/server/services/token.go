// Package services contains the server-side business logic. This file
// implements TokenService: issuing, rotating and revoking refresh tokens,
// plus minting the access JWTs that accompany them.
package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/clinvault/clinvault/internal/common"
	"github.com/clinvault/clinvault/internal/dbx"
	"github.com/clinvault/clinvault/internal/metrics"
	"github.com/clinvault/clinvault/internal/server/audit"
	"github.com/clinvault/clinvault/internal/server/cache"
	"github.com/clinvault/clinvault/internal/server/config"
	"github.com/clinvault/clinvault/internal/server/auth"
	"github.com/clinvault/clinvault/internal/server/models"
	"github.com/clinvault/clinvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// RequestContext carries the client attribution persisted with tokens and
// audit events.
type RequestContext struct {
	IP        string
	UserAgent string
}

// TokenService manages the refresh-token lifecycle. A record moves from
// active to revoked exactly once and never back.
type TokenService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	recorder    *audit.Recorder
	denylist    *cache.Denylist
	jwtSecret   []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

// NewTokenService constructs a TokenService using repositories and server config.
func NewTokenService(db *sql.DB, m repomanager.RepositoryManager, recorder *audit.Recorder, denylist *cache.Denylist, cfg *config.Config) *TokenService {
	return &TokenService{
		db:          db,
		repomanager: m,
		recorder:    recorder,
		denylist:    denylist,
		jwtSecret:   []byte(cfg.SecretKey),
		accessTTL:   cfg.AccessTokenValidityDuration,
		refreshTTL:  cfg.RefreshTokenValidityDuration,
	}
}

// Issue creates a brand-new token family for the user and returns the raw
// refresh token together with its persisted record. The raw token is
// returned exactly once; only its digest is stored.
func (s *TokenService) Issue(ctx context.Context, userID, userType string, reqCtx RequestContext) (string, *models.RefreshToken, error) {
	return s.issue(ctx, s.db, userID, userType, uuid.NewString(), reqCtx)
}

// Rotate validates the presented raw token and atomically replaces it with a
// successor in the same family, also minting a fresh access token.
//
// A token that was already rotated away is a replay: someone still holds a
// retired credential, and there is no telling whether it is the rightful
// owner or a thief. The whole family is revoked so neither party keeps a
// usable session, and a critical audit event is recorded.
func (s *TokenService) Rotate(ctx context.Context, rawToken string, reqCtx RequestContext) (*TokenPair, error) {
	repo := s.repomanager.RefreshTokens(s.db)

	token, err := repo.FindByHash(ctx, hashToken(rawToken))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.auditRotation(ctx, "", "failure", models.SeverityWarning, "unknown refresh token presented", reqCtx)
			return nil, common.ErrTokenInvalid
		}
		return nil, fmt.Errorf("refresh token lookup: %w", err)
	}

	if token.Revoked {
		return nil, s.handleReplay(ctx, token, reqCtx)
	}
	if token.Expired(time.Now()) {
		s.auditRotation(ctx, token.UserID, "failure", models.SeverityWarning, "expired refresh token presented", reqCtx)
		return nil, common.ErrTokenExpired
	}

	var pair *TokenPair
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repoTx := s.repomanager.RefreshTokens(tx)

		flipped, err := repoTx.Revoke(ctx, token.ID)
		if err != nil {
			return fmt.Errorf("revoking rotated token: %w", err)
		}
		if !flipped {
			// a concurrent rotation won the compare-and-set
			return common.ErrTokenRevoked
		}

		raw, rec, err := s.issue(ctx, tx, token.UserID, token.UserType, token.FamilyID, reqCtx)
		if err != nil {
			return err
		}

		access, err := auth.GenerateToken(rec.UserID, rec.UserType, rec.JTI, s.jwtSecret, s.accessTTL)
		if err != nil {
			return fmt.Errorf("minting access token: %w", err)
		}

		pair = &TokenPair{AccessToken: access, RefreshToken: raw}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrTokenRevoked) {
			return nil, s.handleReplay(ctx, token, reqCtx)
		}
		return nil, err
	}

	metrics.TokenRotationsTotal.Inc()
	s.auditRotation(ctx, token.UserID, "success", models.SeverityInfo, "refresh token rotated", reqCtx)
	return pair, nil
}

// Revoke marks the token with the given jti revoked. It is idempotent:
// revoking an already-revoked or unknown jti succeeds without effect.
func (s *TokenService) Revoke(ctx context.Context, jti string, reqCtx RequestContext) error {
	repo := s.repomanager.RefreshTokens(s.db)

	token, err := repo.FindByJTI(ctx, jti)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return fmt.Errorf("token lookup: %w", err)
	}
	if token.Revoked {
		return nil
	}

	if _, err := repo.Revoke(ctx, token.ID); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	s.denyAccessToken(ctx, token.JTI)

	return s.recorder.Record(ctx, models.AuditEvent{
		ActorID:   token.UserID,
		Action:    "token.revoke",
		Entity:    "refresh_token",
		Status:    "success",
		IP:        reqCtx.IP,
		UserAgent: reqCtx.UserAgent,
		Severity:  models.SeverityInfo,
		Detail:    "refresh token revoked",
	})
}

// RevokeAllForUser revokes every active token of the user. Used on password
// change or suspected compromise; always recorded as a critical event.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID string, reqCtx RequestContext) (int64, error) {
	repo := s.repomanager.RefreshTokens(s.db)

	n, err := repo.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoking user tokens: %w", err)
	}

	if err := s.recorder.Record(ctx, models.AuditEvent{
		ActorID:   userID,
		Action:    "token.revoke_all",
		Entity:    "refresh_token",
		Status:    "success",
		IP:        reqCtx.IP,
		UserAgent: reqCtx.UserAgent,
		Severity:  models.SeverityCritical,
		Detail:    fmt.Sprintf("mass token revocation, %d sessions closed", n),
	}); err != nil {
		return n, err
	}
	return n, nil
}

// --- helpers below ---

func (s *TokenService) issue(ctx context.Context, db dbx.DBTX, userID, userType, familyID string, reqCtx RequestContext) (string, *models.RefreshToken, error) {
	raw, err := common.MakeRandHexString(32)
	if err != nil {
		return "", nil, fmt.Errorf("generating refresh token: %w", err)
	}

	rec := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserType:  userType,
		TokenHash: hashToken(raw),
		JTI:       uuid.NewString(),
		FamilyID:  familyID,
		ExpiresAt: time.Now().Add(s.refreshTTL),
		UserAgent: reqCtx.UserAgent,
		IPAddress: reqCtx.IP,
	}

	if err := s.repomanager.RefreshTokens(db).Create(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("storing refresh token: %w", err)
	}
	return raw, rec, nil
}

// AccessToken mints an access JWT bound to the given refresh-token record.
func (s *TokenService) AccessToken(rec *models.RefreshToken) (string, error) {
	return auth.GenerateToken(rec.UserID, rec.UserType, rec.JTI, s.jwtSecret, s.accessTTL)
}

func (s *TokenService) handleReplay(ctx context.Context, token *models.RefreshToken, reqCtx RequestContext) error {
	repo := s.repomanager.RefreshTokens(s.db)

	n, err := repo.RevokeFamily(ctx, token.FamilyID)
	if err != nil {
		return fmt.Errorf("revoking token family: %w", err)
	}
	s.denyAccessToken(ctx, token.JTI)
	metrics.TokenReplaysTotal.Inc()

	if err := s.recorder.Record(ctx, models.AuditEvent{
		ActorID:   token.UserID,
		Action:    "token.replay",
		Entity:    "refresh_token",
		Status:    "failure",
		IP:        reqCtx.IP,
		UserAgent: reqCtx.UserAgent,
		Severity:  models.SeverityCritical,
		Detail:    fmt.Sprintf("revoked refresh token replayed, family revoked (%d descendants)", n),
	}); err != nil {
		return err
	}
	return common.ErrTokenRevoked
}

func (s *TokenService) auditRotation(ctx context.Context, userID, status, severity, detail string, reqCtx RequestContext) {
	_ = s.recorder.Record(ctx, models.AuditEvent{
		ActorID:   userID,
		Action:    "token.rotate",
		Entity:    "refresh_token",
		Status:    status,
		IP:        reqCtx.IP,
		UserAgent: reqCtx.UserAgent,
		Severity:  severity,
		Detail:    detail,
	})
}

func (s *TokenService) denyAccessToken(ctx context.Context, jti string) {
	if err := s.denylist.Deny(ctx, jti, s.accessTTL); err != nil {
		_ = s.recorder.Record(ctx, models.AuditEvent{
			Action:   "token.denylist",
			Entity:   "access_token",
			Status:   "failure",
			Severity: models.SeverityError,
			Detail:   "failed to deny access token: " + err.Error(),
		})
	}
}

// hashToken computes the stored digest of a raw refresh token. Validation
// always compares against this server-side hash; client-supplied identifiers
// are never trusted on their own.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
