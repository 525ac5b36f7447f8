// Package seed creates a reproducible demo organization: locations, default
// lending policies, staff and patron accounts, a catalog with copies, and
// some circulation history driven through the circulation service.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/auth"
	"github.com/erazemk/izposoja/internal/circulation"
	"github.com/erazemk/izposoja/internal/model"
	"github.com/erazemk/izposoja/internal/store"
)

// Login accounts created with the demo password.
const (
	AdminExternalID     = "A0001"
	LibrarianExternalID = "L0001"
	TeacherExternalID   = "T0001"
	StudentExternalID   = "S1130123"
)

// Config sizes the demo data set. Students and Teachers include the login
// student and teacher, which are always created.
type Config struct {
	OrgCode         string
	OrgName         string
	Seed            uint64
	Password        string
	Students        int
	Teachers        int
	Bibs            int
	MaxCopiesPerBib int
	OpenLoans       int
	QueuedHolds     int
}

// DefaultConfig returns a small data set that still fills every list.
func DefaultConfig() Config {
	return Config{
		OrgCode:         "demo",
		OrgName:         "Demo School Library",
		Seed:            42,
		Password:        "demo1234",
		Students:        200,
		Teachers:        20,
		Bibs:            150,
		MaxCopiesPerBib: 3,
		OpenLoans:       60,
		QueuedHolds:     30,
	}
}

// Summary counts what Run created.
type Summary struct {
	OrganizationID string
	Users          int
	Bibs           int
	Copies         int
	Loans          int
	Holds          int
	Unavailable    int
}

var locations = []struct{ code, name string }{
	{"MAIN", "Main Library"},
	{"BRANCH", "Branch Library"},
	{"CLASSROOM", "Classroom Book Box"},
	{"STORAGE", "Storage"},
}

// Run creates the organization described by cfg. It fails if an organization
// with the same code already exists.
func Run(ctx context.Context, database *sqlx.DB, svc *circulation.Service, cfg Config, now time.Time) (*Summary, error) {
	if cfg.MaxCopiesPerBib < 1 {
		return nil, fmt.Errorf("max copies per bib must be at least 1, got %d", cfg.MaxCopiesPerBib)
	}

	existing, err := store.GetOrganizationByCode(ctx, database, cfg.OrgCode)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("organization %q already exists", cfg.OrgCode)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	ns := uuid.NewSHA1(uuid.NameSpaceOID, []byte("izposoja:"+cfg.OrgCode))
	id := func(kind, key string) string {
		return uuid.NewSHA1(ns, []byte(kind+":"+key)).String()
	}

	org, err := store.CreateOrganization(ctx, database, cfg.OrgCode, cfg.OrgName, now)
	if err != nil {
		return nil, err
	}
	sum := &Summary{OrganizationID: org.ID}

	locIDs := make(map[string]string, len(locations))
	for _, l := range locations {
		loc, err := store.CreateLocation(ctx, database, org.ID, l.code, l.name, model.StatusActive)
		if err != nil {
			return nil, err
		}
		locIDs[l.code] = loc.ID
	}

	for _, p := range defaultPolicies(org.ID) {
		p.ID = id("policy", p.AudienceRole)
		if _, err := store.CreatePolicy(ctx, database, p); err != nil {
			return nil, err
		}
	}

	hash, err := auth.HashPassword(cfg.Password)
	if err != nil {
		return nil, err
	}

	addUser := func(ext, name, role, status, passwordHash string) (*model.User, error) {
		u, err := store.CreateUser(ctx, database, org.ID, store.NewUser{
			ID:           id("user", ext),
			ExternalID:   ext,
			Name:         name,
			Role:         role,
			Status:       status,
			PasswordHash: passwordHash,
		}, now)
		if err != nil {
			return nil, err
		}
		sum.Users++
		return u, nil
	}

	if _, err := addUser(AdminExternalID, "System Administrator", model.RoleAdmin, model.StatusActive, hash); err != nil {
		return nil, err
	}
	librarian, err := addUser(LibrarianExternalID, "Librarian", model.RoleLibrarian, model.StatusActive, hash)
	if err != nil {
		return nil, err
	}

	var borrowers []string
	if _, err := addUser(TeacherExternalID, "Teacher "+personName(rng), model.RoleTeacher, model.StatusActive, hash); err != nil {
		return nil, err
	}
	borrowers = append(borrowers, TeacherExternalID)
	for i := 2; i <= cfg.Teachers; i++ {
		ext := fmt.Sprintf("T%04d", i)
		if _, err := addUser(ext, "Teacher "+personName(rng), model.RoleTeacher, model.StatusActive, ""); err != nil {
			return nil, err
		}
		borrowers = append(borrowers, ext)
	}

	if _, err := addUser(StudentExternalID, personName(rng), model.RoleStudent, model.StatusActive, hash); err != nil {
		return nil, err
	}
	borrowers = append(borrowers, StudentExternalID)

	// The login student counts towards cfg.Students.
	for i, students := 1, 1; students < cfg.Students; i++ {
		ext := fmt.Sprintf("S113%04d", i)
		if ext == StudentExternalID {
			continue
		}
		students++
		status := model.StatusActive
		if i%97 == 0 {
			status = model.StatusInactive
		}
		if _, err := addUser(ext, personName(rng), model.RoleStudent, status, ""); err != nil {
			return nil, err
		}
		if status == model.StatusActive {
			borrowers = append(borrowers, ext)
		}
	}

	type copyRef struct{ bibID, barcode string }
	var copies []copyRef
	for i := 1; i <= cfg.Bibs; i++ {
		bib, err := store.CreateBib(ctx, database, org.ID, bookTitle(rng))
		if err != nil {
			return nil, err
		}
		sum.Bibs++

		n := 1 + rng.IntN(cfg.MaxCopiesPerBib)
		for range n {
			barcode := fmt.Sprintf("SCL-%08d", len(copies)+1)
			if _, err := store.CreateItemCopy(ctx, database, org.ID, bib.ID, barcode, locIDs[pickLocation(rng)], now); err != nil {
				return nil, err
			}
			copies = append(copies, copyRef{bibID: bib.ID, barcode: barcode})
		}
	}
	sum.Copies = len(copies)

	order := rng.Perm(len(copies))

	// A small share of copies is out of circulation.
	odd := max(1, len(copies)/100)
	for k, idx := range order[:min(2*odd, len(order))] {
		status := model.ItemStatusLost
		if k%2 == 1 {
			status = model.ItemStatusRepair
		}
		if _, err := svc.SetItemStatus(ctx, circulation.SetItemStatusRequest{
			OrgID: org.ID, ItemBarcode: copies[idx].barcode, Status: status, ActorID: librarian.ID,
		}); err != nil {
			return nil, fmt.Errorf("setting status of %s: %w", copies[idx].barcode, err)
		}
		sum.Unavailable++
	}
	order = order[min(2*odd, len(order)):]

	var lentBibs []string
	for _, idx := range order {
		if sum.Loans >= cfg.OpenLoans || len(borrowers) == 0 {
			break
		}
		_, err := svc.Checkout(ctx, circulation.CheckoutRequest{
			OrgID:              org.ID,
			BorrowerExternalID: borrowers[rng.IntN(len(borrowers))],
			ItemBarcode:        copies[idx].barcode,
			ActorID:            librarian.ID,
		})
		if errors.Is(err, circulation.ErrPolicyViolation) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("checking out %s: %w", copies[idx].barcode, err)
		}
		sum.Loans++
		lentBibs = append(lentBibs, copies[idx].bibID)
	}

	for attempts := 0; sum.Holds < cfg.QueuedHolds && len(lentBibs) > 0 && attempts < 4*cfg.QueuedHolds; attempts++ {
		_, err := svc.PlaceHold(ctx, circulation.PlaceHoldRequest{
			OrgID:              org.ID,
			BibliographicID:    lentBibs[rng.IntN(len(lentBibs))],
			BorrowerExternalID: borrowers[rng.IntN(len(borrowers))],
			PickupLocationID:   locIDs["MAIN"],
			ActorID:            librarian.ID,
		})
		if errors.Is(err, circulation.ErrPolicyViolation) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("placing hold: %w", err)
		}
		sum.Holds++
	}

	slog.Info("demo data seeded", "organization", cfg.OrgCode, "users", sum.Users, "bibs", sum.Bibs,
		"copies", sum.Copies, "loans", sum.Loans, "holds", sum.Holds)
	return sum, nil
}

func defaultPolicies(orgID string) []model.Policy {
	return []model.Policy{
		{
			OrganizationID: orgID, Code: "STUDENT_DEFAULT", AudienceRole: model.RoleStudent,
			LoanDays: 14, MaxLoans: 5, MaxRenewals: 1, MaxHolds: 3, HoldPickupDays: 7, OverdueBlockDays: 7,
			IsActive: true,
		},
		{
			OrganizationID: orgID, Code: "TEACHER_DEFAULT", AudienceRole: model.RoleTeacher,
			LoanDays: 28, MaxLoans: 10, MaxRenewals: 2, MaxHolds: 5, HoldPickupDays: 10, OverdueBlockDays: 14,
			IsActive: true,
		},
	}
}

// pickLocation spreads copies MAIN 60%, BRANCH 25%, CLASSROOM 10%, STORAGE 5%.
func pickLocation(rng *rand.Rand) string {
	x := rng.Float64()
	switch {
	case x < 0.60:
		return "MAIN"
	case x < 0.85:
		return "BRANCH"
	case x < 0.95:
		return "CLASSROOM"
	default:
		return "STORAGE"
	}
}

var (
	givenNames  = []string{"Ana", "Luka", "Maja", "Jan", "Eva", "Nik", "Sara", "Tim", "Zala", "Mark", "Nina", "Jakob"}
	familyNames = []string{"Novak", "Horvat", "Kranjc", "Zupan", "Potocnik", "Kovac", "Mlakar", "Vidmar", "Golob", "Turk"}

	titleAdjectives = []string{"Silent", "Hidden", "Lost", "Northern", "Little", "Secret", "Burning", "Endless", "Glass", "Last"}
	titleNouns      = []string{"River", "Garden", "Kingdom", "Lighthouse", "Forest", "Library", "Mountain", "Island", "Clock", "Voyage"}
)

func personName(rng *rand.Rand) string {
	return givenNames[rng.IntN(len(givenNames))] + " " + familyNames[rng.IntN(len(familyNames))]
}

func bookTitle(rng *rand.Rand) string {
	return "The " + titleAdjectives[rng.IntN(len(titleAdjectives))] + " " + titleNouns[rng.IntN(len(titleNouns))]
}
