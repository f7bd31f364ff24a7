package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/Strob0t/MailGuard/internal/adapter/postgres"
)

// TestMigrationUpDown applies all migrations, rolls them all back, then
// re-applies them, so every Down section is exercised.
func TestMigrationUpDown(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	const totalMigrations = 3

	steps := []struct {
		name string
		run  func() error
		want int64
	}{
		{"up", func() error { return postgres.RunMigrations(ctx, dsn) }, totalMigrations},
		{"down all", func() error { return postgres.RollbackMigrations(ctx, dsn, totalMigrations) }, 0},
		{"re-up", func() error { return postgres.RunMigrations(ctx, dsn) }, totalMigrations},
	}
	for _, s := range steps {
		if err := s.run(); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		v, err := postgres.MigrationVersion(ctx, dsn)
		if err != nil {
			t.Fatalf("MigrationVersion after %s: %v", s.name, err)
		}
		if v != s.want {
			t.Fatalf("expected version %d after %s, got %d", s.want, s.name, v)
		}
	}
}
