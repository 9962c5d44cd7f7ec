package bootstrap

import (
	"context"
	"fmt"

	"talon-console/core/auth"
	"talon-console/core/perm"
	"talon-console/core/store"
	"talon-console/core/utils"
)

const (
	// DefaultAdminUsername is the well-known first-run account.
	DefaultAdminUsername = "admin"
	// defaultAdminPassword is fixed at build time. The account is created
	// with require_password_change set, so no other action is permitted
	// until it is rotated.
	defaultAdminPassword = "Xk4vTalon#9wQzR2"
)

// EnsureDefaultAdmin creates the bootstrap sysadmin when the user table is
// empty, so a fresh install is usable without manual database edits.
func EnsureDefaultAdmin(ctx context.Context, users store.UsersStore, pepper string, logger *utils.Logger) error {
	n, err := users.Count(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if n > 0 {
		return nil
	}
	hash, err := auth.HashPassword(defaultAdminPassword, pepper)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	_, err = users.Create(ctx, &store.User{
		Username:              DefaultAdminUsername,
		PasswordHash:          hash.Hash,
		Salt:                  hash.Salt,
		Role:                  string(perm.RoleSysadmin),
		RequirePasswordChange: true,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if logger != nil {
		logger.Printf("bootstrap sysadmin %q created; password rotation required on first login", DefaultAdminUsername)
	}
	return nil
}
