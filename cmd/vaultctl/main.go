// vaultctl is the operator CLI: key generation and validation, plus
// emergency session revocation. The master key is always read without echo
// so it never lands in shell history or process listings.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/clinvault/clinvault/internal/common"
	"github.com/clinvault/clinvault/internal/cryptox"
	"github.com/clinvault/clinvault/internal/logging"
	"github.com/clinvault/clinvault/internal/server/audit"
	"github.com/clinvault/clinvault/internal/server/config"
	"github.com/clinvault/clinvault/internal/server/repositories/repomanager"
	"github.com/clinvault/clinvault/internal/server/services"
	"golang.org/x/term"
)

const usage = `usage: vaultctl <command> [args]

commands:
  gen-key                 generate a new master key and print it as hex
  check-key               read a master key from the terminal and validate it
  revoke-user <user-id>   revoke every active session of the user
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "gen-key":
		err = genKey()
	case "check-key":
		err = checkKey()
	case "revoke-user":
		if len(os.Args) < 3 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		err = revokeUser(os.Args[2])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func genKey() error {
	key := common.GenerateRandByteArray(cryptox.KeySize)
	fmt.Println(hex.EncodeToString(key))
	common.WipeByteArray(key)
	return nil
}

func checkKey() error {
	fmt.Println("Enter master key (hex)")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return err
	}

	master, err := cryptox.LoadMasterKey(strings.TrimSpace(string(raw)))
	if err != nil {
		return err
	}
	if _, err := cryptox.DeriveKeys(master); err != nil {
		return err
	}
	common.WipeByteArray(master)

	fmt.Println("key ok")
	return nil
}

// revokeUser closes every session of a user. Run it when an account is
// suspected compromised; the mass revocation lands in the audit trail as a
// critical event.
func revokeUser(userID string) error {
	cfg := config.LoadConfig()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	defer db.Close()

	rm := &repomanager.PostgresRepositoryManager{}
	recorder := audit.NewRecorder(rm.AuditEvents(db), logger, nil)
	tokens := services.NewTokenService(db, rm, recorder, nil, cfg)

	ctx := context.Background()
	n, err := tokens.RevokeAllForUser(ctx, userID, services.RequestContext{UserAgent: "vaultctl"})
	if err != nil {
		return err
	}

	fmt.Printf("revoked %d sessions for user %s\n", n, userID)
	return nil
}
