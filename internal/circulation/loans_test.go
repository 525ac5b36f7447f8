package circulation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/erazemk/izposoja/internal/model"
	"github.com/erazemk/izposoja/internal/store"
)

func TestCheckoutCreatesLoan(t *testing.T) {
	e := newEnv(t)

	res := e.checkout(t, "s1", "D-1")
	if res.UserID != e.users["s1"].ID {
		t.Errorf("expected loan for s1, got user %s", res.UserID)
	}
	if want := t0.Add(14 * 24 * time.Hour); !res.DueAt.Equal(want) {
		t.Errorf("expected due %v, got %v", want, res.DueAt)
	}
	if res.FulfilledHoldID != nil {
		t.Error("expected no fulfilled hold")
	}
	if got := e.item(t, "D-1"); got.Status != model.ItemStatusCheckedOut {
		t.Errorf("expected checked_out, got %s", got.Status)
	}

	events, err := e.svc.ListAudit(context.Background(), AuditFilter{OrganizationID: e.org.ID, EntityID: res.LoanID})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(events) != 1 || events[0].Action != ActionCheckout {
		t.Fatalf("expected one checkout audit event, got %+v", events)
	}
	if events[0].ActorUserID == nil || *events[0].ActorUserID != e.staff.ID {
		t.Error("expected the librarian as actor")
	}
}

func TestCheckoutThenCheckinReturnsToShelf(t *testing.T) {
	e := newEnv(t)

	out := e.checkout(t, "s1", "D-1")
	in := e.checkin(t, "D-1")

	if in.LoanID != out.LoanID {
		t.Errorf("expected checkin to close loan %s, got %s", out.LoanID, in.LoanID)
	}
	if in.ItemStatus != model.ItemStatusAvailable || in.HoldID != nil {
		t.Errorf("expected available with no hold, got %+v", in)
	}
	if got := e.item(t, "D-1"); got.Status != model.ItemStatusAvailable {
		t.Errorf("expected available, got %s", got.Status)
	}

	loan, err := e.svc.GetLoan(context.Background(), e.org.ID, out.LoanID)
	if err != nil {
		t.Fatalf("GetLoan: %v", err)
	}
	if loan.Status != model.LoanStatusClosed || loan.ReturnedAt == nil {
		t.Errorf("expected closed loan with returned_at, got %+v", loan)
	}
	e.checkInvariants(t)
}

func TestCheckinPromotesQueuedHold(t *testing.T) {
	e := newEnv(t)

	e.checkout(t, "s1", "D-1")
	e.checkout(t, "s2", "D-2")
	h := e.placeHold(t, "s3", e.dune)
	if h.Status != model.HoldStatusQueued || !h.PlacedAt.Equal(t0) {
		t.Fatalf("expected queued hold placed at t0, got %+v", h)
	}

	e.clock.Advance(time.Hour)
	in := e.checkin(t, "D-2")

	if in.ItemStatus != model.ItemStatusOnHold {
		t.Errorf("expected on_hold, got %s", in.ItemStatus)
	}
	if in.HoldID == nil || *in.HoldID != h.ID {
		t.Fatalf("expected hold %s promoted, got %v", h.ID, in.HoldID)
	}
	wantUntil := t0.Add(time.Hour + 7*24*time.Hour)
	if in.ReadyUntil == nil || !in.ReadyUntil.Equal(wantUntil) {
		t.Errorf("expected ready_until %v, got %v", wantUntil, in.ReadyUntil)
	}

	got := e.hold(t, h.ID)
	if got.Status != model.HoldStatusReady || got.AssignedItemID == nil || *got.AssignedItemID != in.ItemID {
		t.Errorf("unexpected promoted hold %+v", got)
	}
	e.checkInvariants(t)
}

func TestCheckinWithoutOpenLoan(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Checkin(context.Background(), CheckinRequest{OrgID: e.org.ID, ItemBarcode: "D-1"})
	wantKind(t, err, KindNotFound, "")
}

func TestCheckoutMaxLoans(t *testing.T) {
	e := newEnv(t)

	e.checkout(t, "s1", "D-1")
	e.checkout(t, "s1", "E-1")

	_, err := e.svc.Checkout(context.Background(), CheckoutRequest{
		OrgID: e.org.ID, BorrowerExternalID: "s1", ItemBarcode: "E-2", ActorID: e.staff.ID,
	})
	wantKind(t, err, KindPolicyViolation, CodeMaxLoansExceeded)

	ce := err.(*Error)
	if ce.Detail["max_loans"] != 2 || ce.Detail["open_loans"] != 2 {
		t.Errorf("unexpected detail %v", ce.Detail)
	}
	if got := e.item(t, "E-2"); got.Status != model.ItemStatusAvailable {
		t.Errorf("expected rejected checkout to leave the copy available, got %s", got.Status)
	}
}

func TestCheckoutOverdueBlockIsInclusive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Teacher policy: 28 loan days, block at 14 days overdue.
	e.checkout(t, "t1", "D-1")

	e.clock.Advance(28*24*time.Hour + 14*24*time.Hour - time.Minute)
	e.checkout(t, "t1", "E-1")

	e.clock.Advance(time.Minute)
	_, err := e.svc.Checkout(ctx, CheckoutRequest{
		OrgID: e.org.ID, BorrowerExternalID: "t1", ItemBarcode: "E-2", ActorID: e.staff.ID,
	})
	wantKind(t, err, KindPolicyViolation, CodeOverdueBlock)

	detail := err.(*Error).Detail
	if detail["overdue_block_days"] != 14 || detail["max_days_overdue"] != 14 || detail["overdue_loan_count"] != 1 {
		t.Errorf("unexpected detail %v", detail)
	}
}

func TestCheckoutRejectsInactiveBorrower(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if err := store.SetUserStatus(ctx, e.db, e.org.ID, e.users["s1"].ID, model.StatusInactive); err != nil {
		t.Fatalf("SetUserStatus: %v", err)
	}

	_, err := e.svc.Checkout(ctx, CheckoutRequest{OrgID: e.org.ID, BorrowerExternalID: "s1", ItemBarcode: "D-1"})
	wantKind(t, err, KindPolicyViolation, CodeBorrowerInactive)

	_, err = e.svc.Checkout(ctx, CheckoutRequest{OrgID: e.org.ID, BorrowerExternalID: "nobody", ItemBarcode: "D-1"})
	wantKind(t, err, KindNotFound, "")
}

func TestCheckoutOfCheckedOutCopy(t *testing.T) {
	e := newEnv(t)

	e.checkout(t, "s1", "D-1")
	_, err := e.svc.Checkout(context.Background(), CheckoutRequest{
		OrgID: e.org.ID, BorrowerExternalID: "s2", ItemBarcode: "D-1",
	})
	wantKind(t, err, KindInvalidTransition, CodeItemNotAvailable)
}

func TestConcurrentCheckoutsOfOneCopy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	borrowers := []string{"s1", "s2", "s3", "t1"}
	errs := make([]error, len(borrowers))

	var wg sync.WaitGroup
	for i, b := range borrowers {
		wg.Add(1)
		go func(i int, b string) {
			defer wg.Done()
			_, errs[i] = e.svc.Checkout(ctx, CheckoutRequest{
				OrgID: e.org.ID, BorrowerExternalID: b, ItemBarcode: "D-1", ActorID: e.staff.ID,
			})
		}(i, b)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if k := KindOf(err); k != KindInvalidTransition && k != KindConflict {
			t.Errorf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly one checkout to win, got %d", succeeded)
	}
	e.checkInvariants(t)
}

func TestRenewBoundary(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	out := e.checkout(t, "s1", "D-1")
	e.clock.Advance(10 * 24 * time.Hour)

	res, err := e.svc.Renew(ctx, RenewRequest{OrgID: e.org.ID, LoanID: out.LoanID, ActorID: e.users["s1"].ID})
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if res.RenewedCount != 1 {
		t.Errorf("expected renewed_count 1, got %d", res.RenewedCount)
	}
	// Reset from now, not extended from the previous due date.
	if want := e.clock.Now().Add(14 * 24 * time.Hour); !res.DueAt.Equal(want) {
		t.Errorf("expected due %v, got %v", want, res.DueAt)
	}

	_, err = e.svc.Renew(ctx, RenewRequest{OrgID: e.org.ID, LoanID: out.LoanID, ActorID: e.staff.ID})
	wantKind(t, err, KindPolicyViolation, CodeMaxRenewalsExceeded)

	loan, _ := e.svc.GetLoan(ctx, e.org.ID, out.LoanID)
	if loan.RenewedCount != 1 {
		t.Errorf("expected failed renewal to leave count at 1, got %d", loan.RenewedCount)
	}
}

func TestRenewBlockedByWaitingHold(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	out := e.checkout(t, "s1", "D-1")
	e.checkout(t, "s2", "D-2")
	e.placeHold(t, "s3", e.dune)

	_, err := e.svc.Renew(ctx, RenewRequest{OrgID: e.org.ID, LoanID: out.LoanID, ActorID: e.staff.ID})
	wantKind(t, err, KindPolicyViolation, CodeHoldQueueWaiting)
	if got := err.(*Error).Detail["queued_holds"]; got != 1 {
		t.Errorf("expected queued_holds 1, got %v", got)
	}
}

func TestRenewOwnershipAndState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	out := e.checkout(t, "s1", "D-1")

	_, err := e.svc.Renew(ctx, RenewRequest{OrgID: e.org.ID, LoanID: out.LoanID, ActorID: e.users["s2"].ID})
	wantKind(t, err, KindPolicyViolation, CodeNotLoanOwner)

	e.checkin(t, "D-1")
	_, err = e.svc.Renew(ctx, RenewRequest{OrgID: e.org.ID, LoanID: out.LoanID, ActorID: e.staff.ID})
	wantKind(t, err, KindInvalidTransition, "")

	_, err = e.svc.Renew(ctx, RenewRequest{OrgID: e.org.ID, LoanID: "missing", ActorID: e.staff.ID})
	wantKind(t, err, KindNotFound, "")
}

func TestListLoans(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.checkout(t, "s1", "D-1")
	e.checkout(t, "s2", "D-2")
	e.checkin(t, "D-1")

	open, err := e.svc.ListLoans(ctx, LoanFilter{OrganizationID: e.org.ID, Status: model.LoanStatusOpen})
	if err != nil {
		t.Fatalf("ListLoans: %v", err)
	}
	if len(open) != 1 || open[0].UserID != e.users["s2"].ID {
		t.Errorf("expected s2's open loan, got %+v", open)
	}

	none, err := e.svc.ListLoans(ctx, LoanFilter{OrganizationID: e.org.ID, UserID: e.users["t1"].ID})
	if err != nil {
		t.Fatalf("ListLoans: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil list, got %v", none)
	}
}
