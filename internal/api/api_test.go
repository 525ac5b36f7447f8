package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erazemk/izposoja/internal/auth"
	"github.com/erazemk/izposoja/internal/circulation"
	"github.com/erazemk/izposoja/internal/db"
	"github.com/erazemk/izposoja/internal/model"
	"github.com/erazemk/izposoja/internal/store"
)

const testJWTSecret = "test-secret"

type testServer struct {
	*httptest.Server
	org     *model.Organization
	mainLoc *model.Location
	bib     *model.BibliographicRecord
	admin   string
	student string
	other   string
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	database := db.NewTestDB(t)
	now := time.Now().UTC()

	org, err := store.CreateOrganization(ctx, database, "demo", "Demo School", now)
	if err != nil {
		t.Fatalf("creating organization: %v", err)
	}
	loc, err := store.CreateLocation(ctx, database, org.ID, "MAIN", "Main Library", model.StatusActive)
	if err != nil {
		t.Fatalf("creating location: %v", err)
	}
	bib, err := store.CreateBib(ctx, database, org.ID, "Dune")
	if err != nil {
		t.Fatalf("creating bib: %v", err)
	}
	for _, barcode := range []string{"D-1", "D-2"} {
		if _, err := store.CreateItemCopy(ctx, database, org.ID, bib.ID, barcode, loc.ID, now); err != nil {
			t.Fatalf("creating copy: %v", err)
		}
	}
	if _, err := store.CreatePolicy(ctx, database, model.Policy{
		OrganizationID: org.ID, Code: "STUDENT", AudienceRole: model.RoleStudent,
		LoanDays: 14, MaxLoans: 5, MaxRenewals: 1, MaxHolds: 3, HoldPickupDays: 7, OverdueBlockDays: 7,
		IsActive: true,
	}); err != nil {
		t.Fatalf("creating policy: %v", err)
	}

	hash, err := auth.HashPassword("password")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	users := []store.NewUser{
		{ExternalID: "admin", Name: "Admin", Role: model.RoleAdmin, PasswordHash: hash},
		{ExternalID: "s1", Name: "Student One", Role: model.RoleStudent, PasswordHash: hash},
		{ExternalID: "s2", Name: "Student Two", Role: model.RoleStudent, PasswordHash: hash},
	}
	for _, u := range users {
		if _, err := store.CreateUser(ctx, database, org.ID, u, now); err != nil {
			t.Fatalf("creating user %s: %v", u.ExternalID, err)
		}
	}

	svc := circulation.NewService(database, circulation.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	server := httptest.NewServer(NewRouter(database, svc, testJWTSecret))
	t.Cleanup(server.Close)

	ts := &testServer{Server: server, org: org, mainLoc: loc, bib: bib}
	ts.admin = ts.login(t, "admin", "password")
	ts.student = ts.login(t, "s1", "password")
	ts.other = ts.login(t, "s2", "password")
	return ts
}

func (ts *testServer) login(t *testing.T, externalID, password string) string {
	t.Helper()
	resp := ts.do(t, "POST", "/api/auth/login", "", map[string]string{
		"organization": "demo",
		"external_id":  externalID,
		"password":     password,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s failed: %d", externalID, resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil || lr.Token == "" {
		t.Fatalf("decoding login response: %v", err)
	}
	return lr.Token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestLoginEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	cases := []map[string]string{
		{"organization": "demo", "external_id": "admin", "password": "wrong"},
		{"organization": "other", "external_id": "admin", "password": "password"},
		{"organization": "demo", "external_id": "nobody", "password": "password"},
	}
	for _, body := range cases {
		resp := ts.do(t, "POST", "/api/auth/login", "", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("login %v: expected 401, got %d", body, resp.StatusCode)
		}
	}

	resp := ts.do(t, "POST", "/api/auth/login", "", map[string]string{"organization": "demo"})
	var e errorResponse
	decodeBody(t, resp, &e)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing fields, got %d", resp.StatusCode)
	}
	if e.Error != "external_id required; password required" {
		t.Errorf("unexpected validation message %q", e.Error)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.do(t, "POST", "/api/auth/logout", ts.student, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", resp.StatusCode)
	}

	resp = ts.do(t, "GET", "/api/loans", ts.student, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestChangePassword(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.do(t, "PUT", "/api/auth/password", ts.student, map[string]string{
		"current_password": "password", "new_password": "short",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for short password, got %d", resp.StatusCode)
	}

	resp = ts.do(t, "PUT", "/api/auth/password", ts.student, map[string]string{
		"current_password": "password", "new_password": "a-longer-password",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	ts.login(t, "s1", "a-longer-password")
}

func TestUnauthenticatedAccess(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.do(t, "GET", "/api/items/D-1", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for unauthenticated request, got %d", resp.StatusCode)
	}

	resp = ts.do(t, "GET", "/api/items/D-1", "not-a-token", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad token, got %d", resp.StatusCode)
	}
}

func TestRoleBasedAccess(t *testing.T) {
	ts := setupTestServer(t)

	forbidden := []struct {
		method, path string
		body         any
	}{
		{"POST", "/api/loans/checkout", map[string]string{"borrower_external_id": "s1", "item_barcode": "D-1"}},
		{"POST", "/api/loans/checkin", map[string]string{"item_barcode": "D-1"}},
		{"PUT", "/api/items/D-1/status", map[string]string{"status": "lost"}},
		{"POST", "/api/sweeps", map[string]any{}},
		{"GET", "/api/audit", nil},
		{"POST", "/api/holds/fulfill", map[string]string{"item_barcode": "D-1"}},
	}
	for _, f := range forbidden {
		resp := ts.do(t, f.method, f.path, ts.student, f.body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("%s %s as student: expected 403, got %d", f.method, f.path, resp.StatusCode)
		}
	}
}

func TestCirculationFlow(t *testing.T) {
	ts := setupTestServer(t)

	// Both copies go out.
	var first circulation.CheckoutResult
	resp := ts.do(t, "POST", "/api/loans/checkout", ts.admin, map[string]string{
		"borrower_external_id": "s1", "item_barcode": "D-1",
	})
	decodeBody(t, resp, &first)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d", resp.StatusCode)
	}
	resp = ts.do(t, "POST", "/api/loans/checkout", ts.admin, map[string]string{
		"borrower_external_id": "s1", "item_barcode": "D-2",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("second checkout: expected 201, got %d", resp.StatusCode)
	}

	// A copy already on loan cannot move to checked_out again.
	resp = ts.do(t, "POST", "/api/loans/checkout", ts.admin, map[string]string{
		"borrower_external_id": "s2", "item_barcode": "D-1",
	})
	var e errorResponse
	decodeBody(t, resp, &e)
	if resp.StatusCode != http.StatusConflict || e.Code != circulation.CodeItemNotAvailable ||
		e.Kind != string(circulation.KindInvalidTransition) {
		t.Errorf("expected 409 invalid_transition item_not_available, got %d %+v", resp.StatusCode, e)
	}

	// Student two queues for the title at their own account.
	var hold model.Hold
	resp = ts.do(t, "POST", "/api/holds", ts.other, map[string]string{
		"bibliographic_id": ts.bib.ID, "pickup_location_id": ts.mainLoc.ID,
	})
	decodeBody(t, resp, &hold)
	if resp.StatusCode != http.StatusCreated || hold.Status != model.HoldStatusQueued {
		t.Fatalf("place hold: got %d %+v", resp.StatusCode, hold)
	}

	// The queued hold blocks renewal.
	resp = ts.do(t, "POST", "/api/loans/"+first.LoanID+"/renew", ts.student, nil)
	decodeBody(t, resp, &e)
	if resp.StatusCode != http.StatusUnprocessableEntity || e.Code != circulation.CodeHoldQueueWaiting {
		t.Errorf("renew: expected 422 hold_queue_waiting, got %d %+v", resp.StatusCode, e)
	}

	// Another patron cannot see or renew the loan.
	resp = ts.do(t, "GET", "/api/loans/"+first.LoanID, ts.other, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign loan: expected 404, got %d", resp.StatusCode)
	}

	// Checkin assigns the copy to the hold.
	var checkin circulation.CheckinResult
	resp = ts.do(t, "POST", "/api/loans/checkin", ts.admin, map[string]string{"item_barcode": "D-1"})
	decodeBody(t, resp, &checkin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("checkin: expected 200, got %d", resp.StatusCode)
	}
	if checkin.ItemStatus != model.ItemStatusOnHold || checkin.HoldID == nil || *checkin.HoldID != hold.ID {
		t.Fatalf("expected copy on hold for %s, got %+v", hold.ID, checkin)
	}

	// The queue shows the ready hold.
	var queue []circulation.QueueEntry
	resp = ts.do(t, "GET", "/api/bibs/"+ts.bib.ID+"/queue", ts.other, nil)
	decodeBody(t, resp, &queue)
	if len(queue) != 1 || queue[0].Status != model.HoldStatusReady || queue[0].Position != 0 {
		t.Errorf("unexpected queue %+v", queue)
	}

	// Pickup by scanning the copy.
	var fulfilled circulation.FulfillResult
	resp = ts.do(t, "POST", "/api/holds/fulfill", ts.admin, map[string]string{"item_barcode": "D-1"})
	decodeBody(t, resp, &fulfilled)
	if resp.StatusCode != http.StatusCreated || fulfilled.HoldID != hold.ID {
		t.Fatalf("fulfill: got %d %+v", resp.StatusCode, fulfilled)
	}

	// Patron two only sees their own loan.
	var loans []model.Loan
	resp = ts.do(t, "GET", "/api/loans?status=open", ts.other, nil)
	decodeBody(t, resp, &loans)
	if len(loans) != 1 || loans[0].ID != fulfilled.LoanID {
		t.Errorf("expected own loan only, got %+v", loans)
	}

	// Every mutation left an audit record.
	var events []model.AuditEvent
	resp = ts.do(t, "GET", "/api/audit?entity_type=hold", ts.admin, nil)
	decodeBody(t, resp, &events)
	if len(events) != 2 || events[0].Action != "hold.place" || events[1].Action != "hold.fulfill" {
		t.Errorf("unexpected hold audit trail %+v", events)
	}
}

func TestItemStatusAndSweep(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.do(t, "PUT", "/api/items/D-1/status", ts.admin, map[string]string{"status": "checked_out"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for non-manual status, got %d", resp.StatusCode)
	}

	var res circulation.SetItemStatusResult
	resp = ts.do(t, "PUT", "/api/items/D-1/status", ts.admin, map[string]string{"status": "repair"})
	decodeBody(t, resp, &res)
	if resp.StatusCode != http.StatusOK || res.Status != model.ItemStatusRepair {
		t.Fatalf("set status: got %d %+v", resp.StatusCode, res)
	}

	resp = ts.do(t, "PUT", "/api/items/D-1/status", ts.admin, map[string]string{"status": "repair"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for same status, got %d", resp.StatusCode)
	}

	resp = ts.do(t, "GET", "/api/items/NOPE", ts.student, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown barcode, got %d", resp.StatusCode)
	}

	var sweep circulation.SweepResult
	resp = ts.do(t, "POST", "/api/sweeps", ts.admin, map[string]any{"limit": 10})
	decodeBody(t, resp, &sweep)
	if resp.StatusCode != http.StatusOK || sweep.Applied || sweep.Limit != 10 || sweep.CandidatesTotal != 0 {
		t.Errorf("unexpected preview %d %+v", resp.StatusCode, sweep)
	}

	resp = ts.do(t, "POST", "/api/sweeps", ts.admin, map[string]any{"limit": -1})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for negative limit, got %d", resp.StatusCode)
	}
}

func TestPolicyEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	var p model.Policy
	resp := ts.do(t, "GET", "/api/policies/student", ts.student, nil)
	decodeBody(t, resp, &p)
	if resp.StatusCode != http.StatusOK || p.LoanDays != 14 {
		t.Errorf("student policy: got %d %+v", resp.StatusCode, p)
	}

	resp = ts.do(t, "GET", "/api/policies/teacher", ts.student, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing policy: expected 404, got %d", resp.StatusCode)
	}
}

func TestCancelHold(t *testing.T) {
	ts := setupTestServer(t)

	var hold model.Hold
	resp := ts.do(t, "POST", "/api/holds", ts.student, map[string]string{
		"bibliographic_id": ts.bib.ID, "pickup_location_id": ts.mainLoc.ID,
	})
	decodeBody(t, resp, &hold)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("place hold: expected 201, got %d", resp.StatusCode)
	}

	// Patrons cannot place holds for somebody else.
	resp = ts.do(t, "POST", "/api/holds", ts.other, map[string]string{
		"bibliographic_id": ts.bib.ID, "pickup_location_id": ts.mainLoc.ID, "borrower_external_id": "s1",
	})
	var e errorResponse
	decodeBody(t, resp, &e)
	if resp.StatusCode != http.StatusUnprocessableEntity || e.Code != circulation.CodeNotHoldOwner {
		t.Errorf("foreign placement: expected 422 not_hold_owner, got %d %+v", resp.StatusCode, e)
	}

	resp = ts.do(t, "DELETE", "/api/holds/"+hold.ID, ts.other, nil)
	decodeBody(t, resp, &e)
	if resp.StatusCode != http.StatusUnprocessableEntity || e.Code != circulation.CodeNotHoldOwner {
		t.Errorf("foreign cancel: expected 422 not_hold_owner, got %d %+v", resp.StatusCode, e)
	}

	var res circulation.CancelHoldResult
	resp = ts.do(t, "DELETE", "/api/holds/"+hold.ID, ts.student, nil)
	decodeBody(t, resp, &res)
	if resp.StatusCode != http.StatusOK || res.HoldID != hold.ID {
		t.Fatalf("cancel: got %d %+v", resp.StatusCode, res)
	}

	resp = ts.do(t, "DELETE", "/api/holds/"+hold.ID, ts.student, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second cancel: expected 409, got %d", resp.StatusCode)
	}
}

func TestQueueHidesOtherPatrons(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.do(t, "POST", "/api/holds", ts.student, map[string]string{
		"bibliographic_id": ts.bib.ID, "pickup_location_id": ts.mainLoc.ID,
	})
	var hold model.Hold
	decodeBody(t, resp, &hold)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("place hold: expected 201, got %d", resp.StatusCode)
	}

	tests := []struct {
		name   string
		token  string
		wantID string
	}{
		{"owner", ts.student, hold.UserID},
		{"staff", ts.admin, hold.UserID},
		{"other patron", ts.other, ""},
	}
	for _, tt := range tests {
		var queue []circulation.QueueEntry
		resp := ts.do(t, "GET", "/api/bibs/"+ts.bib.ID+"/queue", tt.token, nil)
		decodeBody(t, resp, &queue)
		if len(queue) != 1 || queue[0].ID != hold.ID || queue[0].Position != 1 {
			t.Fatalf("%s: unexpected queue %+v", tt.name, queue)
		}
		if queue[0].UserID != tt.wantID {
			t.Errorf("%s: expected user_id %q, got %q", tt.name, tt.wantID, queue[0].UserID)
		}
	}
}

func TestListCopiesOfTitle(t *testing.T) {
	ts := setupTestServer(t)

	var items []model.ItemCopy
	resp := ts.do(t, "GET", "/api/bibs/"+ts.bib.ID+"/items", ts.student, nil)
	decodeBody(t, resp, &items)
	if resp.StatusCode != http.StatusOK || len(items) != 2 || items[0].Barcode != "D-1" {
		t.Errorf("unexpected copies %d %+v", resp.StatusCode, items)
	}

	resp = ts.do(t, "GET", "/api/bibs/missing/items", ts.student, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown title, got %d", resp.StatusCode)
	}
}
