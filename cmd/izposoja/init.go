package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/erazemk/izposoja/internal/auth"
	"github.com/erazemk/izposoja/internal/db"
	"github.com/erazemk/izposoja/internal/model"
	"github.com/erazemk/izposoja/internal/store"
)

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	var c common
	c.register(fs)

	orgCode := fs.String("org", "", "organization code (required)")
	orgName := fs.String("name", "", "organization name (default: the code)")
	adminID := fs.String("admin", "admin", "external id of the admin account")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *orgCode == "" {
		return fmt.Errorf("-org is required")
	}
	if *orgName == "" {
		*orgName = *orgCode
	}

	database, closeAll, err := c.open()
	if err != nil {
		return err
	}
	defer closeAll()

	ctx := context.Background()
	now := time.Now().UTC()

	org, err := store.GetOrganizationByCode(ctx, database, *orgCode)
	if err != nil {
		return err
	}
	if org == nil {
		if org, err = store.CreateOrganization(ctx, database, *orgCode, *orgName, now); err != nil {
			return err
		}
	}

	existing, err := store.GetUserByExternalID(ctx, database, org.ID, *adminID, db.LockNone)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("user %q already exists in %q", *adminID, *orgCode)
	}

	password, err := auth.GeneratePassword()
	if err != nil {
		return fmt.Errorf("generating password: %w", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	if _, err := store.CreateUser(ctx, database, org.ID, store.NewUser{
		ExternalID:   *adminID,
		Name:         "Administrator",
		Role:         model.RoleAdmin,
		PasswordHash: hash,
	}, now); err != nil {
		return fmt.Errorf("creating admin user: %w", err)
	}

	fmt.Printf("Organization: %s (%s)\n", org.Code, org.ID)
	fmt.Println()
	fmt.Println("Admin account created:")
	fmt.Printf("  External ID: %s\n", *adminID)
	fmt.Printf("  Password:    %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("The admin can change it after logging in.")
	return nil
}
