package services

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clinvault/clinvault/internal/common"
	"github.com/clinvault/clinvault/internal/dbx"
	"github.com/clinvault/clinvault/internal/logging"
	"github.com/clinvault/clinvault/internal/server/audit"
	"github.com/clinvault/clinvault/internal/server/cache"
	"github.com/clinvault/clinvault/internal/server/config"
	"github.com/clinvault/clinvault/internal/server/models"
	"github.com/clinvault/clinvault/internal/server/repositories/auditevents"
	"github.com/clinvault/clinvault/internal/server/repositories/patients"
	"github.com/clinvault/clinvault/internal/server/repositories/refreshtokens"
	"github.com/clinvault/clinvault/internal/server/repositories/users"
)

// --- in-memory repositories ---

type memTokenRepo struct {
	byID map[string]*models.RefreshToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{byID: make(map[string]*models.RefreshToken)}
}

func (r *memTokenRepo) Create(_ context.Context, token *models.RefreshToken) error {
	cp := *token
	cp.CreatedAt = time.Now()
	r.byID[cp.ID] = &cp
	return nil
}

func (r *memTokenRepo) FindByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	for _, t := range r.byID {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memTokenRepo) FindByJTI(_ context.Context, jti string) (*models.RefreshToken, error) {
	for _, t := range r.byID {
		if t.JTI == jti {
			cp := *t
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memTokenRepo) Revoke(_ context.Context, id string) (bool, error) {
	t, ok := r.byID[id]
	if !ok || t.Revoked {
		return false, nil
	}
	now := time.Now()
	t.Revoked = true
	t.RevokedAt = &now
	return true, nil
}

func (r *memTokenRepo) RevokeFamily(_ context.Context, familyID string) (int64, error) {
	var n int64
	now := time.Now()
	for _, t := range r.byID {
		if t.FamilyID == familyID && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *memTokenRepo) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	var n int64
	now := time.Now()
	for _, t := range r.byID {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

type memUserRepo struct {
	byName map[string]*models.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byName: make(map[string]*models.User)}
}

func (r *memUserRepo) Create(_ context.Context, user *models.User) (*models.User, error) {
	cp := *user
	cp.CreatedAt = time.Now()
	r.byName[cp.UserName] = &cp
	return &cp, nil
}

func (r *memUserRepo) GetByUserName(_ context.Context, userName string) (*models.User, error) {
	u, ok := r.byName[userName]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

type memPatientRepo struct {
	byID map[string]*models.Patient
}

func newMemPatientRepo() *memPatientRepo {
	return &memPatientRepo{byID: make(map[string]*models.Patient)}
}

func clonePatient(p *models.Patient) *models.Patient {
	cp := *p
	cp.Protected = make(map[string]string, len(p.Protected))
	for k, v := range p.Protected {
		cp.Protected[k] = v
	}
	return &cp
}

func (r *memPatientRepo) Create(_ context.Context, patient *models.Patient) error {
	r.byID[patient.ID] = clonePatient(patient)
	return nil
}

func (r *memPatientRepo) Get(_ context.Context, id string) (*models.Patient, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clonePatient(p), nil
}

func (r *memPatientRepo) Update(_ context.Context, patient *models.Patient) error {
	if _, ok := r.byID[patient.ID]; !ok {
		return common.ErrorNotFound
	}
	r.byID[patient.ID] = clonePatient(patient)
	return nil
}

func (r *memPatientRepo) FindByNationalIDHash(_ context.Context, hash string) (*models.Patient, error) {
	for _, p := range r.byID {
		if p.Protected["national_id_hash"] == hash {
			return clonePatient(p), nil
		}
	}
	return nil, common.ErrorNotFound
}

type memAuditRepo struct {
	events []models.AuditEvent
	nextID int64
}

func (r *memAuditRepo) Append(_ context.Context, event *models.AuditEvent) error {
	r.nextID++
	event.ID = r.nextID
	r.events = append(r.events, *event)
	return nil
}

func (r *memAuditRepo) ListAfter(_ context.Context, afterID int64, limit int) ([]models.AuditEvent, error) {
	var out []models.AuditEvent
	for _, e := range r.events {
		if e.ID > afterID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memAuditRepo) CountSince(_ context.Context, since time.Time, severity string) (int64, error) {
	var n int64
	for _, e := range r.events {
		if !e.Timestamp.Before(since) && (severity == "" || e.Severity == severity) {
			n++
		}
	}
	return n, nil
}

func (r *memAuditRepo) byAction(action string) []models.AuditEvent {
	var out []models.AuditEvent
	for _, e := range r.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// fakeRepoManager hands out the same in-memory repositories regardless of
// the DBTX, which makes the transactional rotate path observable without a
// real database.
type fakeRepoManager struct {
	tokens   *memTokenRepo
	users    *memUserRepo
	patients *memPatientRepo
	audits   *memAuditRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		tokens:   newMemTokenRepo(),
		users:    newMemUserRepo(),
		patients: newMemPatientRepo(),
		audits:   &memAuditRepo{},
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository              { return m.users }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository {
	return m.tokens
}
func (m *fakeRepoManager) Patients(dbx.DBTX) patients.Repository { return m.patients }
func (m *fakeRepoManager) AuditEvents(dbx.DBTX) auditevents.Repository {
	return m.audits
}

// --- common fixtures ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:                    "test-secret",
		AccessTokenValidityDuration:  time.Minute,
		RefreshTokenValidityDuration: time.Hour,
	}
}

func newTokenService(t *testing.T, db *sql.DB, rm *fakeRepoManager, cfg *config.Config) *TokenService {
	t.Helper()
	recorder := audit.NewRecorder(rm.audits, testLogger(), nil)
	return NewTokenService(db, rm, recorder, cache.NewDenylist(nil), cfg)
}
