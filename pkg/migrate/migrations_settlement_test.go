package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/merkadoph/merkado-backend/pkg/migrate"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file matches %q", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestPaymentsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_payments_table.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS payments",
		"CHECK (amount_cents >= 0)",
		"WHERE gateway_intent_id IS NOT NULL",
		"ON payments (actor_id, idempotency_key)",
		"ON payments (order_id, type)",
		"DROP TABLE IF EXISTS payments",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestWalletsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_wallets_tables.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS wallets",
		"CHECK (balance >= 0)",
		"ON wallets (actor_id, actor_type)",
		"CREATE TABLE IF NOT EXISTS wallet_transactions",
		"CHECK (amount > 0)",
		"FOREIGN KEY (wallet_id) REFERENCES wallets(id) ON DELETE RESTRICT",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestCommissionsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_commissions_table.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS commissions",
		"ON commissions (order_id, vendor_id)",
		"WHERE remittance_idempotency_key IS NOT NULL",
		"DROP TABLE IF EXISTS commissions",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}
