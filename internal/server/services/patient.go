package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/clinvault/clinvault/internal/fieldcrypt"
	"github.com/clinvault/clinvault/internal/metrics"
	"github.com/clinvault/clinvault/internal/server/audit"
	"github.com/clinvault/clinvault/internal/server/models"
	"github.com/clinvault/clinvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const patientEntity = "patient"

// Actor identifies who is performing an operation, for audit attribution.
type Actor struct {
	ID   string
	Role string
}

// PatientRecord is the decrypted view handed to callers. FieldErrors names
// protected fields that could not be decrypted; those fields are blank in
// Fields and the rest of the record is intact.
type PatientRecord struct {
	Patient     *models.Patient
	FieldErrors map[string]error
}

// PatientService reads and writes clinical records through the field
// transform layer, so protected fields only ever touch storage encrypted.
type PatientService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	transformer *fieldcrypt.Transformer
	recorder    *audit.Recorder
}

func NewPatientService(db *sql.DB, m repomanager.RepositoryManager, transformer *fieldcrypt.Transformer, recorder *audit.Recorder) *PatientService {
	return &PatientService{db: db, repomanager: m, transformer: transformer, recorder: recorder}
}

// Create seals the protected fields and persists a new record.
func (s *PatientService) Create(ctx context.Context, patient *models.Patient, actor Actor, reqCtx RequestContext) (*models.Patient, error) {
	if patient.ID == "" {
		patient.ID = uuid.NewString()
	}

	sealed, err := s.transformer.Seal(patientEntity, patient.Protected)
	if err != nil {
		return nil, fmt.Errorf("sealing patient fields: %w", err)
	}

	stored := *patient
	stored.Protected = sealed
	if err := s.repomanager.Patients(s.db).Create(ctx, &stored); err != nil {
		return nil, fmt.Errorf("creating patient: %w", err)
	}

	if err := s.auditAccess(ctx, actor, "patient.create", "success", patient.ID, models.SeverityInfo, reqCtx); err != nil {
		return nil, err
	}
	return patient, nil
}

// Get loads a record and decrypts its protected fields. A field that fails
// decryption is reported per-field instead of failing the read, and an
// error-severity audit event is recorded for it.
func (s *PatientService) Get(ctx context.Context, id string, actor Actor, reqCtx RequestContext) (*PatientRecord, error) {
	patient, err := s.repomanager.Patients(s.db).Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, patient, actor, reqCtx)
}

// FindByNationalID resolves a patient by the deterministic lookup digest of
// the national id.
func (s *PatientService) FindByNationalID(ctx context.Context, nationalID string, actor Actor, reqCtx RequestContext) (*PatientRecord, error) {
	hash := s.transformer.LookupHash(nationalID)
	patient, err := s.repomanager.Patients(s.db).FindByNationalIDHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, patient, actor, reqCtx)
}

// Update re-seals the protected fields and persists them. Legacy plaintext
// rows leave this path encrypted: Seal encrypts whatever plaintext the
// caller supplies, which is how lazy migration converts old rows.
func (s *PatientService) Update(ctx context.Context, patient *models.Patient, actor Actor, reqCtx RequestContext) error {
	sealed, err := s.transformer.Seal(patientEntity, patient.Protected)
	if err != nil {
		return fmt.Errorf("sealing patient fields: %w", err)
	}

	stored := *patient
	stored.Protected = sealed
	stored.UpdatedAt = time.Now().UTC()
	if err := s.repomanager.Patients(s.db).Update(ctx, &stored); err != nil {
		return err
	}

	return s.auditAccess(ctx, actor, "patient.update", "success", patient.ID, models.SeverityInfo, reqCtx)
}

func (s *PatientService) open(ctx context.Context, patient *models.Patient, actor Actor, reqCtx RequestContext) (*PatientRecord, error) {
	opened, fieldErrs := s.transformer.Open(patientEntity, patient.Protected)
	patient.Protected = opened

	if len(fieldErrs) > 0 {
		metrics.DecryptFailuresTotal.Add(float64(len(fieldErrs)))
		names := make([]string, 0, len(fieldErrs))
		for name := range fieldErrs {
			names = append(names, name)
		}
		sort.Strings(names)
		if err := s.auditAccess(ctx, actor, "patient.decrypt", "failure", patient.ID, models.SeverityError,
			reqCtx, "fields: "+strings.Join(names, ", ")); err != nil {
			return nil, err
		}
	}

	if err := s.auditAccess(ctx, actor, "patient.read", "success", patient.ID, models.SeverityInfo, reqCtx); err != nil {
		return nil, err
	}
	return &PatientRecord{Patient: patient, FieldErrors: fieldErrs}, nil
}

func (s *PatientService) auditAccess(ctx context.Context, actor Actor, action, status, patientID, severity string, reqCtx RequestContext, extra ...string) error {
	detail := "patient " + patientID
	if len(extra) > 0 {
		detail += "; " + strings.Join(extra, "; ")
	}
	return s.recorder.Record(ctx, models.AuditEvent{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		Entity:    patientEntity,
		Status:    status,
		IP:        reqCtx.IP,
		UserAgent: reqCtx.UserAgent,
		Severity:  severity,
		Detail:    detail,
	})
}
