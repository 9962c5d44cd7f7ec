package bootstrap

import (
	"context"
	"testing"

	"talon-console/config"
	"talon-console/core/store"
)

func TestEnsureDefaultAdmin(t *testing.T) {
	ctx := context.Background()
	cfg := &config.AppConfig{DBDriver: "sqlite", DBPath: ":memory:"}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := store.Migrate(ctx, db, cfg, nil); err != nil {
		t.Fatal(err)
	}
	users := store.NewUsersStore(db)

	if err := EnsureDefaultAdmin(ctx, users, "pepper", nil); err != nil {
		t.Fatal(err)
	}
	admin, err := users.FindByUsername(ctx, DefaultAdminUsername)
	if err != nil {
		t.Fatal(err)
	}
	if admin.Role != "sysadmin" || !admin.RequirePasswordChange {
		t.Fatalf("unexpected bootstrap account: %+v", admin)
	}

	// A second run must not touch an already populated table.
	if err := EnsureDefaultAdmin(ctx, users, "pepper", nil); err != nil {
		t.Fatal(err)
	}
	n, err := users.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 user, got %d", n)
	}
}
