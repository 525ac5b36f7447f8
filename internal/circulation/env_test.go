package circulation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/db"
	"github.com/erazemk/izposoja/internal/model"
	"github.com/erazemk/izposoja/internal/store"
)

var t0 = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// env is a circulation service over an in-memory database with one
// organization, a librarian, three students, a teacher and two titles.
type env struct {
	db    *sqlx.DB
	svc   *Service
	clock *testClock
	org   *model.Organization
	main  *model.Location
	shut  *model.Location
	staff *model.User
	users map[string]*model.User
	dune  *model.BibliographicRecord
	emma  *model.BibliographicRecord
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	database := db.NewTestDB(t)
	clock := &testClock{now: t0}

	e := &env{
		db:    database,
		clock: clock,
		users: map[string]*model.User{},
		svc: NewService(database,
			WithClock(clock.Now),
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))),
	}

	var err error
	if e.org, err = store.CreateOrganization(ctx, database, "demo", "Demo School", t0); err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	if e.main, err = store.CreateLocation(ctx, database, e.org.ID, "MAIN", "Main Library", model.StatusActive); err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}
	if e.shut, err = store.CreateLocation(ctx, database, e.org.ID, "STORAGE", "Storage", model.StatusInactive); err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}

	policies := []model.Policy{
		{Code: "student-default", AudienceRole: model.RoleStudent, LoanDays: 14, MaxLoans: 2,
			MaxRenewals: 1, MaxHolds: 2, HoldPickupDays: 7, OverdueBlockDays: 7},
		{Code: "teacher-default", AudienceRole: model.RoleTeacher, LoanDays: 28, MaxLoans: 10,
			MaxRenewals: 2, MaxHolds: 5, HoldPickupDays: 10, OverdueBlockDays: 14},
	}
	for _, p := range policies {
		p.OrganizationID = e.org.ID
		p.IsActive = true
		if _, err := store.CreatePolicy(ctx, database, p); err != nil {
			t.Fatalf("CreatePolicy: %v", err)
		}
	}

	if e.staff, err = store.CreateUser(ctx, database, e.org.ID, store.NewUser{
		ExternalID: "lib", Name: "Librarian", Role: model.RoleLibrarian,
	}, t0); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	for _, u := range []store.NewUser{
		{ExternalID: "s1", Name: "Ana", Role: model.RoleStudent},
		{ExternalID: "s2", Name: "Bor", Role: model.RoleStudent},
		{ExternalID: "s3", Name: "Cene", Role: model.RoleStudent},
		{ExternalID: "t1", Name: "Teja", Role: model.RoleTeacher},
	} {
		created, err := store.CreateUser(ctx, database, e.org.ID, u, t0)
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		e.users[u.ExternalID] = created
	}

	if e.dune, err = store.CreateBib(ctx, database, e.org.ID, "Dune"); err != nil {
		t.Fatalf("CreateBib: %v", err)
	}
	if e.emma, err = store.CreateBib(ctx, database, e.org.ID, "Emma"); err != nil {
		t.Fatalf("CreateBib: %v", err)
	}
	for barcode, bib := range map[string]string{"D-1": e.dune.ID, "D-2": e.dune.ID, "E-1": e.emma.ID, "E-2": e.emma.ID, "E-3": e.emma.ID} {
		if _, err := store.CreateItemCopy(ctx, database, e.org.ID, bib, barcode, e.main.ID, t0); err != nil {
			t.Fatalf("CreateItemCopy: %v", err)
		}
	}

	return e
}

func (e *env) checkout(t *testing.T, borrower, barcode string) *CheckoutResult {
	t.Helper()
	res, err := e.svc.Checkout(context.Background(), CheckoutRequest{
		OrgID: e.org.ID, BorrowerExternalID: borrower, ItemBarcode: barcode, ActorID: e.staff.ID,
	})
	if err != nil {
		t.Fatalf("Checkout(%s, %s): %v", borrower, barcode, err)
	}
	return res
}

func (e *env) checkin(t *testing.T, barcode string) *CheckinResult {
	t.Helper()
	res, err := e.svc.Checkin(context.Background(), CheckinRequest{
		OrgID: e.org.ID, ItemBarcode: barcode, ActorID: e.staff.ID,
	})
	if err != nil {
		t.Fatalf("Checkin(%s): %v", barcode, err)
	}
	return res
}

func (e *env) placeHold(t *testing.T, borrower string, bib *model.BibliographicRecord) *model.Hold {
	t.Helper()
	h, err := e.svc.PlaceHold(context.Background(), PlaceHoldRequest{
		OrgID: e.org.ID, BibliographicID: bib.ID, BorrowerExternalID: borrower,
		PickupLocationID: e.main.ID, ActorID: e.staff.ID,
	})
	if err != nil {
		t.Fatalf("PlaceHold(%s): %v", borrower, err)
	}
	return h
}

func (e *env) item(t *testing.T, barcode string) *model.ItemCopy {
	t.Helper()
	item, err := store.GetItemByBarcode(context.Background(), e.db, e.org.ID, barcode, db.LockNone)
	if err != nil || item == nil {
		t.Fatalf("GetItemByBarcode(%s): %v %v", barcode, item, err)
	}
	return item
}

func (e *env) hold(t *testing.T, id string) *model.Hold {
	t.Helper()
	h, err := store.GetHold(context.Background(), e.db, e.org.ID, id, db.LockNone)
	if err != nil || h == nil {
		t.Fatalf("GetHold(%s): %v %v", id, h, err)
	}
	return h
}

// checkInvariants verifies that no copy has two open loans and that every
// on_hold copy is assigned to exactly one ready hold.
func (e *env) checkInvariants(t *testing.T) {
	t.Helper()

	var multi int
	if err := e.db.Get(&multi, `SELECT COUNT(*) FROM (
		SELECT item_id FROM loans WHERE status = 'open' GROUP BY item_id HAVING COUNT(*) > 1) x`); err != nil {
		t.Fatalf("counting open loans: %v", err)
	}
	if multi != 0 {
		t.Errorf("%d copies have more than one open loan", multi)
	}

	var items []model.ItemCopy
	if err := e.db.Select(&items, `SELECT id, organization_id, bibliographic_id, barcode, status, location_id,
		created_at, updated_at FROM item_copies WHERE status = 'on_hold'`); err != nil {
		t.Fatalf("listing on_hold copies: %v", err)
	}
	for _, item := range items {
		holds, err := store.ListReadyHoldsForItem(context.Background(), e.db, e.org.ID, item.ID)
		if err != nil {
			t.Fatalf("ListReadyHoldsForItem: %v", err)
		}
		if len(holds) != 1 {
			t.Errorf("on_hold copy %s has %d ready holds", item.Barcode, len(holds))
		}
	}

	var readyWithoutShelf int
	if err := e.db.Get(&readyWithoutShelf, `SELECT COUNT(*) FROM holds h
		JOIN item_copies i ON i.id = h.assigned_item_id
		WHERE h.status = 'ready' AND i.status <> 'on_hold'`); err != nil {
		t.Fatalf("counting ready holds: %v", err)
	}
	if readyWithoutShelf != 0 {
		t.Errorf("%d ready holds point at copies that are not on_hold", readyWithoutShelf)
	}
}

func wantKind(t *testing.T, err error, kind Kind, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if ce.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, ce.Kind, err)
	}
	if code != "" && ce.Code != code {
		t.Fatalf("expected code %s, got %s (%v)", code, ce.Code, err)
	}
}
