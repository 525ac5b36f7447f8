package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/erazemk/izposoja/internal/circulation"
	"github.com/erazemk/izposoja/internal/store"
)

func runSweep(args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	var c common
	c.register(fs)

	orgCode := fs.String("org", "", "organization code, empty for every organization")
	asOfRaw := fs.String("as-of", "", "RFC 3339 instant to sweep at (default: now)")
	limit := fs.Int("limit", circulation.DefaultSweepLimit, "maximum holds processed per organization")
	apply := fs.Bool("apply", false, "apply the sweep instead of previewing it")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}

	req := circulation.SweepRequest{Limit: *limit, Apply: *apply}
	if *asOfRaw != "" {
		asOf, err := time.Parse(time.RFC3339, *asOfRaw)
		if err != nil {
			return fmt.Errorf("parsing -as-of: %w", err)
		}
		req.AsOf = asOf.UTC()
	}

	database, closeAll, err := c.open()
	if err != nil {
		return err
	}
	defer closeAll()

	ctx := context.Background()
	svc := circulation.NewService(database)

	var results []*circulation.SweepResult
	if *orgCode == "" {
		results, err = svc.SweepAll(ctx, req)
		if err != nil {
			return err
		}
	} else {
		org, err := store.GetOrganizationByCode(ctx, database, *orgCode)
		if err != nil {
			return err
		}
		if org == nil {
			return fmt.Errorf("organization %q not found", *orgCode)
		}
		req.OrgID = org.ID
		res, err := svc.Sweep(ctx, req)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
