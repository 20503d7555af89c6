package repomanager

import (
	"context"
	"database/sql"

	"github.com/clinvault/clinvault/internal/dbx"
	"github.com/clinvault/clinvault/internal/server/repositories/auditevents"
	"github.com/clinvault/clinvault/internal/server/repositories/patients"
	"github.com/clinvault/clinvault/internal/server/repositories/refreshtokens"
	"github.com/clinvault/clinvault/internal/server/repositories/users"
)

// RepositoryManager vends repository implementations bound to a DBTX, so a
// service can run several repositories inside one transaction by handing
// them the same *sql.Tx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Patients(db dbx.DBTX) patients.Repository
	AuditEvents(db dbx.DBTX) auditevents.Repository
}
