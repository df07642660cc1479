package db

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testModel struct {
	ID   int
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := &Client{conn: db}

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("rollback leaked a record, count=%d", count)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(nil) {
		t.Fatal("nil error should not match")
	}
	pgErr := errors.New(`duplicate key value violates unique constraint "payments_idempotency_key_idx"`)
	if !IsUniqueViolation(pgErr) {
		t.Fatal("expected generic postgres match")
	}
	if !IsUniqueViolation(pgErr, "payments_idempotency_key_idx") {
		t.Fatal("expected constraint-name match")
	}
	if IsUniqueViolation(pgErr, "commissions_remit_key_idx") {
		t.Fatal("mismatched constraint name should not match")
	}
	sqliteErr := errors.New("UNIQUE constraint failed: payments.idempotency_key")
	if !IsUniqueViolation(sqliteErr) {
		t.Fatal("expected sqlite match")
	}
	if !IsUniqueViolation(sqliteErr, "idempotency_key") {
		t.Fatal("expected sqlite column match")
	}
	if IsUniqueViolation(errors.New("connection refused"), "payments_idempotency_key_idx") {
		t.Fatal("unrelated error should not match")
	}
}
