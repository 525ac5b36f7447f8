package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/erazemk/izposoja/internal/circulation"
	"github.com/erazemk/izposoja/internal/seed"
)

func runSeed(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	var c common
	c.register(fs)

	cfg := seed.DefaultConfig()
	fs.StringVar(&cfg.OrgCode, "org", envOr("IZPOSOJA_SEED_ORG", cfg.OrgCode), "organization code")
	fs.StringVar(&cfg.OrgName, "name", cfg.OrgName, "organization name")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed; the same seed gives the same data")
	fs.StringVar(&cfg.Password, "password", envOr("IZPOSOJA_SEED_PASSWORD", cfg.Password), "password of the login accounts")
	fs.IntVar(&cfg.Students, "students", cfg.Students, "number of students")
	fs.IntVar(&cfg.Teachers, "teachers", cfg.Teachers, "number of teachers")
	fs.IntVar(&cfg.Bibs, "bibs", cfg.Bibs, "number of titles")
	fs.IntVar(&cfg.MaxCopiesPerBib, "max-copies", cfg.MaxCopiesPerBib, "maximum copies per title")
	fs.IntVar(&cfg.OpenLoans, "loans", cfg.OpenLoans, "number of open loans")
	fs.IntVar(&cfg.QueuedHolds, "holds", cfg.QueuedHolds, "number of queued holds")

	if err := fs.Parse(args); err != nil {
		return err
	}

	database, closeAll, err := c.open()
	if err != nil {
		return err
	}
	defer closeAll()

	svc := circulation.NewService(database)
	sum, err := seed.Run(context.Background(), database, svc, cfg, time.Now().UTC())
	if err != nil {
		return err
	}

	fmt.Printf("Organization %q seeded (%s)\n", cfg.OrgCode, sum.OrganizationID)
	fmt.Printf("  %d users, %d titles, %d copies, %d loans, %d holds\n",
		sum.Users, sum.Bibs, sum.Copies, sum.Loans, sum.Holds)
	fmt.Println()
	fmt.Printf("Login accounts (password %q): %s, %s, %s, %s\n", cfg.Password,
		seed.AdminExternalID, seed.LibrarianExternalID, seed.TeacherExternalID, seed.StudentExternalID)
	return nil
}
