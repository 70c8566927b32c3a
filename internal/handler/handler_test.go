package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"bonus-planner-api/internal/database"
	"bonus-planner-api/internal/extraction"
	"bonus-planner-api/internal/models"
	"bonus-planner-api/internal/planner"
	"bonus-planner-api/internal/service"
)

func setupTestHandler(t *testing.T, extractor extraction.Extractor) (*Handler, *service.Service, *database.DB, func()) {
	dir := t.TempDir()
	db, err := database.NewDB(filepath.Join(dir, "offers.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	now := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	svc := service.NewService(service.Dependencies{
		DB:        db,
		Planner:   planner.New(planner.DefaultOptions(), planner.WithClock(func() time.Time { return now })),
		Extractor: extractor,
		BackupDir: filepath.Join(dir, "backups"),
	})
	h := NewHandler(svc)

	cleanup := func() {
		svc.Close()
		db.Close()
	}

	return h, svc, db, cleanup
}

func setupRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func doRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func seedCompleted(t *testing.T, db *database.DB, bonus, deposit string) models.Offer {
	t.Helper()
	offer, err := db.CreateOffer(context.Background(), models.Offer{
		Status: models.StatusCompleted,
		Details: models.Details{
			models.FieldAccountTitle:         "Checking",
			models.FieldBankName:             "Test Bank",
			models.FieldBonusToBeReceived:    bonus,
			models.FieldMinimumDepositAmount: deposit,
			models.FieldNumRequiredDeposits:  "1",
			models.FieldDaysForDeposit:       "60",
			models.FieldMustBeOpenFor:        "90",
			models.FieldDealExpirationDate:   "N/A",
			models.FieldMinimumMonthlyFee:    "0",
		},
	})
	if err != nil {
		t.Fatalf("Failed to seed offer: %v", err)
	}
	return offer
}

func TestHealthCheck(t *testing.T) {
	h, _, _, cleanup := setupTestHandler(t, nil)
	defer cleanup()

	rr := doRequest(setupRouter(h), "GET", "/health", nil)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", rr.Body.String())
	}
}

func TestCreateOffer_Success(t *testing.T) {
	h, _, _, cleanup := setupTestHandler(t, nil)
	defer cleanup()
	r := setupRouter(h)

	rr := doRequest(r, "POST", "/api/offers", models.CreateOfferRequest{URL: "https://bank.example.com/offer"})

	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var offer models.Offer
	if err := json.NewDecoder(rr.Body).Decode(&offer); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if offer.ID != 1 || offer.Status != models.StatusProcessing {
		t.Errorf("Expected processing offer 1, got %d / %s", offer.ID, offer.Status)
	}
}

func TestCreateOffer_Duplicate(t *testing.T) {
	h, _, _, cleanup := setupTestHandler(t, nil)
	defer cleanup()
	r := setupRouter(h)

	doRequest(r, "POST", "/api/offers", models.CreateOfferRequest{URL: "https://bank.example.com/offer"})
	rr := doRequest(r, "POST", "/api/offers", models.CreateOfferRequest{URL: "https://www.bank.example.com/offer/"})

	if rr.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d", rr.Code)
	}

	var resp models.DuplicateOfferResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.DuplicateOfferID != 1 || resp.DuplicateOffer.ID != 1 {
		t.Errorf("Expected duplicate of offer 1, got %+v", resp)
	}
}

func TestCreateOffer_InvalidURL(t *testing.T) {
	h, _, _, cleanup := setupTestHandler(t, nil)
	defer cleanup()

	rr := doRequest(setupRouter(h), "POST", "/api/offers", models.CreateOfferRequest{URL: "ftp://bank"})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", rr.Code)
	}
}

func TestCreateOffer_MissingInput(t *testing.T) {
	h, _, _, cleanup := setupTestHandler(t, nil)
	defer cleanup()

	rr := doRequest(setupRouter(h), "POST", "/api/offers", map[string]string{})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestCreateOffer_InvalidJSON(t *testing.T) {
	h, _, _, cleanup := setupTestHandler(t, nil)
	defer cleanup()

	rr := doRequest(setupRouter(h), "POST", "/api/offers", "{invalid json")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}

	var errResp models.ErrorResponse
	json.NewDecoder(rr.Body).Decode(&errResp)
	if errResp.Error != "invalid JSON in request body" {
		t.Errorf("Unexpected error message: %s", errResp.Error)
	}
}

func TestCreateOffer_EmptyBody(t *testing.T) {
	h, _, _, cleanup := setupTestHandler(t, nil)
	defer cleanup()

	rr := doRequest(setupRouter(h), "POST", "/api/offers", nil)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestCreateOffer_BodyTooLarge(t *testing.T) {
	h, _, _, cleanup := setupTestHandler(t, nil)
	defer cleanup()
	h.maxBodySize = 64

	rr := doRequest(setupRouter(h), "POST", "/api/offers", models.CreateOfferRequest{Content: string(bytes.Repeat([]byte("a"), 200))})

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", rr.Code)
	}
}

func TestOfferLifecycle(t *testing.T) {
	h, _, _, cleanup := setupTestHandler(t, nil)
	defer cleanup()
	r := setupRouter(h)

	doRequest(r, "POST", "/api/offers", models.CreateOfferRequest{URL: "https://bank.example.com/offer"})

	rr := doRequest(r, "GET", "/api/offers", nil)
	var offers []models.Offer
	json.NewDecoder(rr.Body).Decode(&offers)
	if rr.Code != http.StatusOK || len(offers) != 1 {
		t.Fatalf("Expected 1 offer, got %d (status %d)", len(offers), rr.Code)
	}

	rr = doRequest(r, "PUT", "/api/offers/1", models.UpdateOfferRequest{Field: "opened", Value: true})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var updated models.Offer
	json.NewDecoder(rr.Body).Decode(&updated)
	if !updated.UserControlled.Opened {
		t.Error("Expected opened flag to be set")
	}

	rr = doRequest(r, "PUT", "/api/offers/1", models.UpdateOfferRequest{Field: "url", Value: "bad"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422 for bad url, got %d", rr.Code)
	}

	rr = doRequest(r, "PUT", "/api/offers/1", models.UpdateOfferRequest{Field: "status", Value: "completed"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown field, got %d", rr.Code)
	}

	rr = doRequest(r, "GET", "/api/offers/1", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	rr = doRequest(r, "DELETE", "/api/offers/1", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	rr = doRequest(r, "GET", "/api/offers/1", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", rr.Code)
	}

	rr = doRequest(r, "GET", "/api/offers/abc", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for bad id, got %d", rr.Code)
	}
}

func TestRefreshOffer(t *testing.T) {
	h, svc, _, cleanup := setupTestHandler(t, extraction.Static{Details: models.Details{models.FieldBonusToBeReceived: "300"}})
	defer cleanup()
	r := setupRouter(h)

	doRequest(r, "POST", "/api/offers", models.CreateOfferRequest{URL: "https://bank.example.com/offer"})
	svc.Wait()

	rr := doRequest(r, "POST", "/api/offers/1/refresh", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var offer models.Offer
	json.NewDecoder(rr.Body).Decode(&offer)
	if offer.Status != models.StatusProcessing {
		t.Errorf("Expected processing after refresh, got %s", offer.Status)
	}
	svc.Wait()

	rr = doRequest(r, "POST", "/api/offers/1/refresh", models.RefreshOfferRequest{Field: models.FieldBonusToBeReceived})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rr.Code)
	}
	var ack models.RefreshFieldResponse
	json.NewDecoder(rr.Body).Decode(&ack)
	if ack.Status != "refreshing" || ack.Field != models.FieldBonusToBeReceived {
		t.Errorf("Unexpected acknowledgement %+v", ack)
	}
	svc.Wait()

	rr = doRequest(r, "POST", "/api/offers/1/refresh", models.RefreshOfferRequest{Field: "nope"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown field, got %d", rr.Code)
	}

	rr = doRequest(r, "POST", "/api/offers/42/refresh", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestGeneratePlan_Success(t *testing.T) {
	h, _, db, cleanup := setupTestHandler(t, nil)
	defer cleanup()
	r := setupRouter(h)

	seedCompleted(t, db, "300", "1000")
	seedCompleted(t, db, "500", "2000")

	rr := doRequest(r, "POST", "/api/planning/generate", map[string]int{"pay_cycle_days": 14, "accounts_per_paycycle": 1})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var plan models.Plan
	if err := json.NewDecoder(rr.Body).Decode(&plan); err != nil {
		t.Fatalf("Failed to decode plan: %v", err)
	}
	if plan.TotalBonus != 800 || len(plan.Timeline) != 2 {
		t.Errorf("Expected 800 across 2 accounts, got %v across %d", plan.TotalBonus, len(plan.Timeline))
	}
	if plan.Timeline[0].StartDate.String() != "2026-10-17" {
		t.Errorf("Expected first start today, got %s", plan.Timeline[0].StartDate)
	}
}

func TestGeneratePlan_NothingToPlan(t *testing.T) {
	h, _, _, cleanup := setupTestHandler(t, nil)
	defer cleanup()

	rr := doRequest(setupRouter(h), "POST", "/api/planning/generate", map[string]int{})

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestGeneratePlan_InvalidParams(t *testing.T) {
	h, _, _, cleanup := setupTestHandler(t, nil)
	defer cleanup()
	r := setupRouter(h)

	tests := []struct {
		name string
		body interface{}
	}{
		{"pay cycle too short", map[string]int{"pay_cycle_days": 3}},
		{"paycheck too small", map[string]float64{"average_paycheck": 50}},
		{"too many accounts", map[string]int{"accounts_per_paycycle": 11}},
		{"wrong type", `{"pay_cycle_days": "two weeks"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(r, "POST", "/api/planning/generate", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", rr.Code)
			}
		})
	}
}

func TestStorageEndpoints(t *testing.T) {
	h, _, db, cleanup := setupTestHandler(t, nil)
	defer cleanup()
	r := setupRouter(h)

	seedCompleted(t, db, "300", "1000")

	rr := doRequest(r, "GET", "/api/storage/stats", nil)
	var stats models.StorageStats
	json.NewDecoder(rr.Body).Decode(&stats)
	if rr.Code != http.StatusOK || stats.TotalOffers != 1 || stats.CompletedOffers != 1 {
		t.Errorf("Unexpected stats %d %+v", rr.Code, stats)
	}

	rr = doRequest(r, "POST", "/api/storage/backup", nil)
	var backup models.BackupResponse
	json.NewDecoder(rr.Body).Decode(&backup)
	if rr.Code != http.StatusOK || backup.BackupFile == "" {
		t.Errorf("Unexpected backup response %d %+v", rr.Code, backup)
	}
}

func TestFeatureEndpoints(t *testing.T) {
	h, svc, _, cleanup := setupTestHandler(t, nil)
	defer cleanup()
	r := setupRouter(h)

	rr := doRequest(r, "PUT", "/api/features/plan_cache", map[string]bool{"enabled": false})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if svc.Features().IsEnabled("plan_cache") {
		t.Error("Expected plan_cache to be disabled")
	}

	rr = doRequest(r, "PUT", "/api/features/unknown", map[string]bool{"enabled": true})
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}

	rr = doRequest(r, "PUT", "/api/features/plan_cache", map[string]string{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}

	rr = doRequest(r, "GET", "/api/features", nil)
	var flags []map[string]interface{}
	json.NewDecoder(rr.Body).Decode(&flags)
	if len(flags) != 4 {
		t.Errorf("Expected 4 flags, got %d", len(flags))
	}
}
