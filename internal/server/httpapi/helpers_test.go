package httpapi

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/clinvault/clinvault/internal/anomaly"
	"github.com/clinvault/clinvault/internal/common"
	"github.com/clinvault/clinvault/internal/cryptox"
	"github.com/clinvault/clinvault/internal/dbx"
	"github.com/clinvault/clinvault/internal/fieldcrypt"
	"github.com/clinvault/clinvault/internal/logging"
	"github.com/clinvault/clinvault/internal/password"
	"github.com/clinvault/clinvault/internal/server/audit"
	"github.com/clinvault/clinvault/internal/server/cache"
	"github.com/clinvault/clinvault/internal/server/config"
	"github.com/clinvault/clinvault/internal/server/models"
	"github.com/clinvault/clinvault/internal/server/repositories/auditevents"
	"github.com/clinvault/clinvault/internal/server/repositories/patients"
	"github.com/clinvault/clinvault/internal/server/repositories/refreshtokens"
	"github.com/clinvault/clinvault/internal/server/repositories/users"
	"github.com/clinvault/clinvault/internal/server/services"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type stubTokenRepo struct{ byID map[string]*models.RefreshToken }

func (r *stubTokenRepo) Create(_ context.Context, t *models.RefreshToken) error {
	cp := *t
	r.byID[cp.ID] = &cp
	return nil
}

func (r *stubTokenRepo) FindByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	for _, t := range r.byID {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *stubTokenRepo) FindByJTI(_ context.Context, jti string) (*models.RefreshToken, error) {
	for _, t := range r.byID {
		if t.JTI == jti {
			cp := *t
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *stubTokenRepo) Revoke(_ context.Context, id string) (bool, error) {
	t, ok := r.byID[id]
	if !ok || t.Revoked {
		return false, nil
	}
	now := time.Now()
	t.Revoked = true
	t.RevokedAt = &now
	return true, nil
}

func (r *stubTokenRepo) RevokeFamily(_ context.Context, familyID string) (int64, error) {
	var n int64
	for _, t := range r.byID {
		if t.FamilyID == familyID && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	return n, nil
}

func (r *stubTokenRepo) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	var n int64
	for _, t := range r.byID {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	return n, nil
}

type stubUserRepo struct{ byName map[string]*models.User }

func (r *stubUserRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	cp := *u
	r.byName[cp.UserName] = &cp
	return &cp, nil
}

func (r *stubUserRepo) GetByUserName(_ context.Context, name string) (*models.User, error) {
	u, ok := r.byName[name]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

type stubPatientRepo struct{ byID map[string]*models.Patient }

func (r *stubPatientRepo) clone(p *models.Patient) *models.Patient {
	cp := *p
	cp.Protected = make(map[string]string, len(p.Protected))
	for k, v := range p.Protected {
		cp.Protected[k] = v
	}
	return &cp
}

func (r *stubPatientRepo) Create(_ context.Context, p *models.Patient) error {
	r.byID[p.ID] = r.clone(p)
	return nil
}

func (r *stubPatientRepo) Get(_ context.Context, id string) (*models.Patient, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return r.clone(p), nil
}

func (r *stubPatientRepo) Update(_ context.Context, p *models.Patient) error {
	if _, ok := r.byID[p.ID]; !ok {
		return common.ErrorNotFound
	}
	r.byID[p.ID] = r.clone(p)
	return nil
}

func (r *stubPatientRepo) FindByNationalIDHash(_ context.Context, hash string) (*models.Patient, error) {
	for _, p := range r.byID {
		if p.Protected["national_id_hash"] == hash {
			return r.clone(p), nil
		}
	}
	return nil, common.ErrorNotFound
}

type stubAuditRepo struct {
	events []models.AuditEvent
	nextID int64
}

func (r *stubAuditRepo) Append(_ context.Context, e *models.AuditEvent) error {
	r.nextID++
	e.ID = r.nextID
	r.events = append(r.events, *e)
	return nil
}

func (r *stubAuditRepo) ListAfter(_ context.Context, afterID int64, limit int) ([]models.AuditEvent, error) {
	var out []models.AuditEvent
	for _, e := range r.events {
		if e.ID > afterID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *stubAuditRepo) CountSince(_ context.Context, since time.Time, severity string) (int64, error) {
	var n int64
	for _, e := range r.events {
		if !e.Timestamp.Before(since) && (severity == "" || e.Severity == severity) {
			n++
		}
	}
	return n, nil
}

func (r *stubAuditRepo) byAction(action string) []models.AuditEvent {
	var out []models.AuditEvent
	for _, e := range r.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type stubRepoManager struct {
	tokens   *stubTokenRepo
	users    *stubUserRepo
	patients *stubPatientRepo
	audits   *stubAuditRepo
}

func newStubRepoManager() *stubRepoManager {
	return &stubRepoManager{
		tokens:   &stubTokenRepo{byID: make(map[string]*models.RefreshToken)},
		users:    &stubUserRepo{byName: make(map[string]*models.User)},
		patients: &stubPatientRepo{byID: make(map[string]*models.Patient)},
		audits:   &stubAuditRepo{},
	}
}

func (m *stubRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *stubRepoManager) Users(dbx.DBTX) users.Repository              { return m.users }
func (m *stubRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository {
	return m.tokens
}
func (m *stubRepoManager) Patients(dbx.DBTX) patients.Repository { return m.patients }
func (m *stubRepoManager) AuditEvents(dbx.DBTX) auditevents.Repository {
	return m.audits
}

// testStack wires real services over in-memory repositories.
type testStack struct {
	handlers *Handlers
	rm       *stubRepoManager
	mock     sqlmock.Sqlmock
	cfg      *config.Config
}

func newTestStack(t *testing.T, denylist *cache.Denylist, blockAnomalies bool) *testStack {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rm := newStubRepoManager()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	recorder := audit.NewRecorder(rm.audits, log, nil)

	cfg := &config.Config{
		SecretKey:                    "test-secret",
		AccessTokenValidityDuration:  time.Minute,
		RefreshTokenValidityDuration: time.Hour,
	}

	master, err := cryptox.LoadMasterKey(strings.Repeat("cd", 32))
	require.NoError(t, err)
	keys, err := cryptox.DeriveKeys(master)
	require.NoError(t, err)
	transformer := fieldcrypt.NewTransformer(fieldcrypt.DefaultRegistry(), keys)

	tokens := services.NewTokenService(db, rm, recorder, denylist, cfg)
	usersSvc := services.NewUserService(db, rm, tokens, recorder)
	patientsSvc := services.NewPatientService(db, rm, transformer, recorder)

	handlers := NewHandlers(HandlersOptions{
		Users:          usersSvc,
		Tokens:         tokens,
		Patients:       patientsSvc,
		Recorder:       recorder,
		Detector:       anomaly.NewDetector(),
		Denylist:       denylist,
		JWTSecret:      []byte(cfg.SecretKey),
		BlockAnomalies: blockAnomalies,
	}, log)

	return &testStack{handlers: handlers, rm: rm, mock: mock, cfg: cfg}
}

// addUser seeds an account directly in the store.
func (s *testStack) addUser(t *testing.T, userName, plainPassword, role string) *models.User {
	t.Helper()
	hash, err := password.Hash(plainPassword)
	require.NoError(t, err)
	u, err := s.rm.users.Create(context.Background(), &models.User{
		ID:           uuid.NewString(),
		UserName:     userName,
		Role:         role,
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return u
}

func testDenylist(t *testing.T) *cache.Denylist {
	t.Helper()
	mr := miniredis.RunT(t)
	return cache.NewDenylist(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}
