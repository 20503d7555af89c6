package services

import (
	"context"
	"strings"
	"testing"

	"github.com/clinvault/clinvault/internal/cryptox"
	"github.com/clinvault/clinvault/internal/fieldcrypt"
	"github.com/clinvault/clinvault/internal/server/audit"
	"github.com/clinvault/clinvault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testActor = Actor{ID: "user-1", Role: "clinician"}

func newPatientService(t *testing.T, rm *fakeRepoManager) *PatientService {
	t.Helper()
	db, _ := newSQLMockDB(t)
	master, err := cryptox.LoadMasterKey(strings.Repeat("ab", 32))
	require.NoError(t, err)
	keys, err := cryptox.DeriveKeys(master)
	require.NoError(t, err)
	transformer := fieldcrypt.NewTransformer(fieldcrypt.DefaultRegistry(), keys)
	recorder := audit.NewRecorder(rm.audits, testLogger(), nil)
	return NewPatientService(db, rm, transformer, recorder)
}

func samplePatient() *models.Patient {
	return &models.Patient{
		Ward:      "cardiology",
		Attending: "dr.ivanova",
		Protected: map[string]string{
			"full_name":   "Anna Petrova",
			"birth_date":  "1987-03-14",
			"national_id": "7803144212",
			"diagnosis":   "atrial fibrillation",
		},
	}
}

func TestPatientService_CreateAndGet(t *testing.T) {
	rm := newFakeRepoManager()
	svc := newPatientService(t, rm)

	created, err := svc.Create(context.Background(), samplePatient(), testActor, testReqCtx)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	stored, err := rm.patients.Get(context.Background(), created.ID)
	require.NoError(t, err)
	for _, field := range []string{"full_name", "birth_date", "national_id", "diagnosis"} {
		assert.True(t, cryptox.IsEncrypted(stored.Protected[field]), "%s must be stored encrypted", field)
	}
	assert.NotEmpty(t, stored.Protected["national_id_hash"])
	assert.False(t, cryptox.IsEncrypted(stored.Protected["national_id_hash"]), "lookup digest is deterministic, not ciphertext")

	rec, err := svc.Get(context.Background(), created.ID, testActor, testReqCtx)
	require.NoError(t, err)
	assert.Empty(t, rec.FieldErrors)
	assert.Equal(t, "Anna Petrova", rec.Patient.Protected["full_name"])
	assert.Equal(t, "atrial fibrillation", rec.Patient.Protected["diagnosis"])

	reads := rm.audits.byAction("patient.read")
	require.Len(t, reads, 1)
	assert.Equal(t, testActor.ID, reads[0].ActorID)
	assert.Contains(t, reads[0].Detail, created.ID)
}

func TestPatientService_FindByNationalID(t *testing.T) {
	rm := newFakeRepoManager()
	svc := newPatientService(t, rm)

	created, err := svc.Create(context.Background(), samplePatient(), testActor, testReqCtx)
	require.NoError(t, err)

	rec, err := svc.FindByNationalID(context.Background(), "7803144212", testActor, testReqCtx)
	require.NoError(t, err)
	assert.Equal(t, created.ID, rec.Patient.ID)
	assert.Equal(t, "Anna Petrova", rec.Patient.Protected["full_name"])

	_, err = svc.FindByNationalID(context.Background(), "0000000000", testActor, testReqCtx)
	assert.Error(t, err)
}

func TestPatientService_Get_CorruptedFieldIsPartialFailure(t *testing.T) {
	rm := newFakeRepoManager()
	svc := newPatientService(t, rm)

	created, err := svc.Create(context.Background(), samplePatient(), testActor, testReqCtx)
	require.NoError(t, err)

	stored, err := rm.patients.Get(context.Background(), created.ID)
	require.NoError(t, err)
	stored.Protected["diagnosis"] = "enc:v1:AAAAAAAAAAAAAAAA:AAAA:AAAAAAAAAAAAAAAAAAAAAA=="
	require.NoError(t, rm.patients.Update(context.Background(), stored))

	rec, err := svc.Get(context.Background(), created.ID, testActor, testReqCtx)
	require.NoError(t, err, "one bad field must not make the record unreadable")
	require.Contains(t, rec.FieldErrors, "diagnosis")
	assert.Empty(t, rec.Patient.Protected["diagnosis"])
	assert.Equal(t, "Anna Petrova", rec.Patient.Protected["full_name"], "intact fields still decrypt")

	failures := rm.audits.byAction("patient.decrypt")
	require.Len(t, failures, 1)
	assert.Equal(t, "failure", failures[0].Status)
	assert.Equal(t, models.SeverityError, failures[0].Severity)
	assert.Contains(t, failures[0].Detail, "diagnosis")
}

func TestPatientService_Update_LazilyEncryptsLegacyRow(t *testing.T) {
	rm := newFakeRepoManager()
	svc := newPatientService(t, rm)

	// a row written before the encryption rollout
	legacy := samplePatient()
	legacy.ID = "legacy-1"
	require.NoError(t, rm.patients.Create(context.Background(), legacy))

	rec, err := svc.Get(context.Background(), "legacy-1", testActor, testReqCtx)
	require.NoError(t, err)
	assert.Empty(t, rec.FieldErrors)
	assert.Equal(t, "Anna Petrova", rec.Patient.Protected["full_name"], "legacy plaintext reads through")

	rec.Patient.Protected["diagnosis"] = "atrial fibrillation, resolved"
	require.NoError(t, svc.Update(context.Background(), rec.Patient, testActor, testReqCtx))

	stored, err := rm.patients.Get(context.Background(), "legacy-1")
	require.NoError(t, err)
	for _, field := range []string{"full_name", "birth_date", "national_id", "diagnosis"} {
		assert.True(t, cryptox.IsEncrypted(stored.Protected[field]), "first write converts %s", field)
	}

	updates := rm.audits.byAction("patient.update")
	require.Len(t, updates, 1)
	assert.Equal(t, "success", updates[0].Status)
}
