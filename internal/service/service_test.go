package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"bonus-planner-api/internal/cache"
	"bonus-planner-api/internal/database"
	"bonus-planner-api/internal/events"
	"bonus-planner-api/internal/extraction"
	"bonus-planner-api/internal/features"
	"bonus-planner-api/internal/models"
	"bonus-planner-api/internal/planner"
	"bonus-planner-api/internal/validation"
)

// extractorFunc adapts a function to extraction.Extractor.
type extractorFunc func(ctx context.Context, req extraction.Request) (models.Details, error)

func (f extractorFunc) Extract(ctx context.Context, req extraction.Request) (models.Details, error) {
	return f(ctx, req)
}

func offerDetails(bonus, deposit string) models.Details {
	return models.Details{
		models.FieldAccountTitle:         "Checking",
		models.FieldBankName:             "Test Bank",
		models.FieldBonusToBeReceived:    bonus,
		models.FieldMinimumDepositAmount: deposit,
		models.FieldNumRequiredDeposits:  "1",
		models.FieldDaysForDeposit:       "60",
		models.FieldMustBeOpenFor:        "90",
		models.FieldDealExpirationDate:   "N/A",
		models.FieldMinimumMonthlyFee:    "0",
	}
}

type testEnv struct {
	svc      *Service
	db       *database.DB
	events   *events.Manager
	features *features.Manager
	dir      string
}

func setupTestService(t *testing.T, extractor extraction.Extractor, flags map[string]bool) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := database.NewDB(filepath.Join(dir, "offers.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	now := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	logger := zap.NewNop()
	env := &testEnv{
		db:       db,
		events:   events.NewManager(true, logger),
		features: features.NewManager(flags, logger),
		dir:      dir,
	}
	env.svc = NewService(Dependencies{
		DB:                 db,
		Planner:            planner.New(planner.DefaultOptions(), planner.WithClock(func() time.Time { return now })),
		Extractor:          extractor,
		PlanCache:          cache.NewPlanCache(cache.NewInMemoryCache(), time.Hour),
		Events:             env.events,
		Features:           env.features,
		Logger:             logger,
		BackupDir:          filepath.Join(dir, "backups"),
		MaxConcurrentPlans: 1,
	})

	t.Cleanup(func() {
		env.svc.Close()
		env.events.Shutdown()
		db.Close()
	})
	return env
}

func TestCreateOffer_ExtractsInBackground(t *testing.T) {
	env := setupTestService(t, extraction.Static{Details: offerDetails("300", "1000")}, nil)
	ctx := context.Background()

	offer, err := env.svc.CreateOffer(ctx, models.CreateOfferRequest{URL: "https://bank.example.com/offer"})
	if err != nil {
		t.Fatalf("Failed to create offer: %v", err)
	}
	if offer.Status != models.StatusProcessing || offer.ProcessingStep != StepScraping {
		t.Errorf("Expected processing offer, got %s / %s", offer.Status, offer.ProcessingStep)
	}
	if offer.Details.Get(models.FieldBankName) != models.ProcessingPlaceholder {
		t.Errorf("Expected placeholder details, got %q", offer.Details.Get(models.FieldBankName))
	}

	env.svc.Wait()

	got, err := env.svc.GetOffer(ctx, offer.ID)
	if err != nil {
		t.Fatalf("Failed to get offer: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("Expected completed, got %s", got.Status)
	}
	if got.Details.Get(models.FieldBonusToBeReceived) != "300" {
		t.Errorf("Expected extracted bonus, got %q", got.Details.Get(models.FieldBonusToBeReceived))
	}
	if got.Details.Get(models.FieldBonusTiers) != extraction.NotAvailable {
		t.Errorf("Expected missing field to be N/A, got %q", got.Details.Get(models.FieldBonusTiers))
	}
}

func TestCreateOffer_Duplicate(t *testing.T) {
	env := setupTestService(t, nil, nil)
	ctx := context.Background()

	first, err := env.svc.CreateOffer(ctx, models.CreateOfferRequest{URL: "https://www.Bank.com/offer/"})
	if err != nil {
		t.Fatalf("Failed to create offer: %v", err)
	}

	_, err = env.svc.CreateOffer(ctx, models.CreateOfferRequest{URL: "https://bank.com/offer?utm=x"})
	var dup *DuplicateOfferError
	if !errors.As(err, &dup) {
		t.Fatalf("Expected DuplicateOfferError, got %v", err)
	}
	if dup.Existing.ID != first.ID {
		t.Errorf("Expected duplicate of %d, got %d", first.ID, dup.Existing.ID)
	}
}

func TestCreateOffer_ManualContent(t *testing.T) {
	var gotReq extraction.Request
	ext := extractorFunc(func(ctx context.Context, req extraction.Request) (models.Details, error) {
		gotReq = req
		return offerDetails("200", "500"), nil
	})
	env := setupTestService(t, ext, nil)
	ctx := context.Background()

	offer, err := env.svc.CreateOffer(ctx, models.CreateOfferRequest{
		Content:     "Open a checking account and get $200",
		OriginalURL: "https://bank.example.com/promo",
	})
	if err != nil {
		t.Fatalf("Failed to create offer: %v", err)
	}
	if offer.URL != "https://bank.example.com/promo" {
		t.Errorf("Expected original url, got %s", offer.URL)
	}
	if !offer.IsManual() || offer.ProcessingStep != StepValidating {
		t.Errorf("Expected manual offer validating content, got %+v", offer)
	}

	env.svc.Wait()
	if gotReq.Content == "" || gotReq.URL != "" {
		t.Errorf("Expected content request, got %+v", gotReq)
	}

	plain, err := env.svc.CreateOffer(ctx, models.CreateOfferRequest{Content: "Another offer"})
	if err != nil {
		t.Fatalf("Failed to create offer: %v", err)
	}
	if !strings.HasPrefix(plain.URL, "manual-content-") {
		t.Errorf("Expected placeholder url, got %s", plain.URL)
	}
}

func TestCreateOffer_Invalid(t *testing.T) {
	env := setupTestService(t, nil, nil)

	_, err := env.svc.CreateOffer(context.Background(), models.CreateOfferRequest{URL: "not a url"})
	var verr *validation.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Expected ValidationError, got %v", err)
	}
}

func TestProcessOffer_FailureMarksOffer(t *testing.T) {
	env := setupTestService(t, extraction.Static{Err: errors.New("page unreachable")}, nil)
	ctx := context.Background()

	offer, err := env.svc.CreateOffer(ctx, models.CreateOfferRequest{URL: "https://bank.example.com/offer"})
	if err != nil {
		t.Fatalf("Failed to create offer: %v", err)
	}
	env.svc.Wait()

	got, _ := env.svc.GetOffer(ctx, offer.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("Expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.ProcessingStep, "page unreachable") {
		t.Errorf("Expected failure reason in step, got %q", got.ProcessingStep)
	}
}

func TestProcessPending(t *testing.T) {
	env := setupTestService(t, extraction.Static{Details: offerDetails("300", "1000")},
		map[string]bool{features.BackgroundExtraction: false})
	ctx := context.Background()

	for _, u := range []string{"https://a.example.com/x", "https://b.example.com/y", "https://c.example.com/z"} {
		if _, err := env.svc.CreateOffer(ctx, models.CreateOfferRequest{URL: u}); err != nil {
			t.Fatalf("Failed to create offer: %v", err)
		}
	}
	env.svc.Wait()

	stats, _ := env.svc.Stats(ctx)
	if stats.ProcessingOffers != 3 {
		t.Fatalf("Expected 3 processing offers without background extraction, got %d", stats.ProcessingOffers)
	}

	n, err := env.svc.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("Failed to process pending: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 processed, got %d", n)
	}

	stats, _ = env.svc.Stats(ctx)
	if stats.CompletedOffers != 3 || stats.ProcessingOffers != 0 {
		t.Errorf("Expected 3 completed, got %+v", stats)
	}
}

func TestProcessPending_NoExtractor(t *testing.T) {
	env := setupTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := env.svc.CreateOffer(ctx, models.CreateOfferRequest{URL: "https://a.example.com/x"}); err != nil {
		t.Fatalf("Failed to create offer: %v", err)
	}
	if _, err := env.svc.ProcessPending(ctx); !errors.Is(err, ErrNoExtractor) {
		t.Errorf("Expected ErrNoExtractor, got %v", err)
	}
}

func TestUpdateOffer(t *testing.T) {
	env := setupTestService(t, nil, nil)
	ctx := context.Background()

	offer, _ := env.svc.CreateOffer(ctx, models.CreateOfferRequest{URL: "https://bank.example.com/offer"})

	updated, err := env.svc.UpdateOffer(ctx, offer.ID, models.UpdateOfferRequest{Field: "opened", Value: true})
	if err != nil {
		t.Fatalf("Failed to update offer: %v", err)
	}
	if !updated.UserControlled.Opened {
		t.Error("Expected opened flag to be set")
	}

	updated, err = env.svc.UpdateOffer(ctx, offer.ID, models.UpdateOfferRequest{Field: "url", Value: "https://bank.example.com/new"})
	if err != nil {
		t.Fatalf("Failed to update url: %v", err)
	}
	if updated.URL != "https://bank.example.com/new" || !updated.UserControlled.Opened {
		t.Errorf("Unexpected offer after url update: %+v", updated)
	}

	if _, err := env.svc.UpdateOffer(ctx, 999, models.UpdateOfferRequest{Field: "opened", Value: true}); !errors.Is(err, ErrOfferNotFound) {
		t.Errorf("Expected ErrOfferNotFound, got %v", err)
	}

	var verr *validation.ValidationError
	if _, err := env.svc.UpdateOffer(ctx, offer.ID, models.UpdateOfferRequest{Field: "status", Value: "completed"}); !errors.As(err, &verr) {
		t.Errorf("Expected ValidationError, got %v", err)
	}
}

func TestDeleteOffer(t *testing.T) {
	env := setupTestService(t, nil, nil)
	ctx := context.Background()

	var deleted int32
	env.events.Subscribe(events.EventOfferDeleted, func(ctx context.Context, e events.Event) error {
		atomic.AddInt32(&deleted, 1)
		return nil
	})

	offer, _ := env.svc.CreateOffer(ctx, models.CreateOfferRequest{URL: "https://bank.example.com/offer"})
	if err := env.svc.DeleteOffer(ctx, offer.ID); err != nil {
		t.Fatalf("Failed to delete offer: %v", err)
	}
	if err := env.svc.DeleteOffer(ctx, offer.ID); !errors.Is(err, ErrOfferNotFound) {
		t.Errorf("Expected ErrOfferNotFound, got %v", err)
	}

	env.events.Wait()
	if atomic.LoadInt32(&deleted) != 1 {
		t.Errorf("Expected 1 delete event, got %d", deleted)
	}
}

func TestRefreshOffer(t *testing.T) {
	var calls int32
	ext := extractorFunc(func(ctx context.Context, req extraction.Request) (models.Details, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return offerDetails("300", "1000"), nil
		}
		return offerDetails("450", "1000"), nil
	})
	env := setupTestService(t, ext, nil)
	ctx := context.Background()

	offer, _ := env.svc.CreateOffer(ctx, models.CreateOfferRequest{URL: "https://bank.example.com/offer"})
	env.svc.Wait()

	refreshed, err := env.svc.RefreshOffer(ctx, offer.ID, "https://bank.example.com/offer-v2")
	if err != nil {
		t.Fatalf("Failed to refresh offer: %v", err)
	}
	if refreshed.Status != models.StatusProcessing || refreshed.URL != "https://bank.example.com/offer-v2" {
		t.Errorf("Expected processing offer with new url, got %+v", refreshed)
	}
	env.svc.Wait()

	got, _ := env.svc.GetOffer(ctx, offer.ID)
	if got.Details.Get(models.FieldBonusToBeReceived) != "450" {
		t.Errorf("Expected refreshed bonus 450, got %q", got.Details.Get(models.FieldBonusToBeReceived))
	}

	if _, err := env.svc.RefreshOffer(ctx, 999, ""); !errors.Is(err, ErrOfferNotFound) {
		t.Errorf("Expected ErrOfferNotFound, got %v", err)
	}
}

func TestRefreshField(t *testing.T) {
	ext := extractorFunc(func(ctx context.Context, req extraction.Request) (models.Details, error) {
		if len(req.Fields) == 1 {
			return models.Details{req.Fields[0]: "2027-01-31"}, nil
		}
		return offerDetails("300", "1000"), nil
	})
	env := setupTestService(t, ext, nil)
	ctx := context.Background()

	offer, _ := env.svc.CreateOffer(ctx, models.CreateOfferRequest{URL: "https://bank.example.com/offer"})
	env.svc.Wait()

	if err := env.svc.RefreshField(ctx, offer.ID, models.FieldDealExpirationDate); err != nil {
		t.Fatalf("Failed to refresh field: %v", err)
	}
	env.svc.Wait()

	got, _ := env.svc.GetOffer(ctx, offer.ID)
	if got.Details.Get(models.FieldDealExpirationDate) != "2027-01-31" {
		t.Errorf("Expected refreshed expiration, got %q", got.Details.Get(models.FieldDealExpirationDate))
	}
	if got.Details.Get(models.FieldBonusToBeReceived) != "300" {
		t.Errorf("Expected other fields untouched, got %q", got.Details.Get(models.FieldBonusToBeReceived))
	}

	var verr *validation.ValidationError
	if err := env.svc.RefreshField(ctx, offer.ID, "favourite_colour"); !errors.As(err, &verr) {
		t.Errorf("Expected ValidationError, got %v", err)
	}
}

func TestGeneratePlan(t *testing.T) {
	env := setupTestService(t, nil, nil)
	ctx := context.Background()

	var planEvents int32
	env.events.Subscribe(events.EventPlanGenerated, func(ctx context.Context, e events.Event) error {
		atomic.AddInt32(&planEvents, 1)
		return nil
	})

	for _, d := range []models.Details{offerDetails("300", "1000"), offerDetails("500", "2000")} {
		if _, err := env.db.CreateOffer(ctx, models.Offer{Status: models.StatusCompleted, Details: d}); err != nil {
			t.Fatalf("Failed to seed offer: %v", err)
		}
	}

	params := models.PlanParams{PayCycleDays: 14, AveragePaycheck: 2000, AccountsPerPayCycle: 1}
	plan, err := env.svc.GeneratePlan(ctx, params)
	if err != nil {
		t.Fatalf("Failed to generate plan: %v", err)
	}
	if plan.TotalBonus != 800 {
		t.Errorf("Expected total bonus 800, got %v", plan.TotalBonus)
	}

	again, err := env.svc.GeneratePlan(ctx, params)
	if err != nil {
		t.Fatalf("Failed to generate plan: %v", err)
	}
	if again.ID != plan.ID {
		t.Errorf("Expected cached plan %s, got %s", plan.ID, again.ID)
	}

	env.features.Disable(features.PlanCache)
	fresh, err := env.svc.GeneratePlan(ctx, params)
	if err != nil {
		t.Fatalf("Failed to generate plan: %v", err)
	}
	if fresh.ID == plan.ID {
		t.Error("Expected a new plan with the cache disabled")
	}

	env.events.Wait()
	if atomic.LoadInt32(&planEvents) != 3 {
		t.Errorf("Expected 3 plan events, got %d", planEvents)
	}
}

func TestGeneratePlan_CacheFollowsOfferChanges(t *testing.T) {
	env := setupTestService(t, nil, nil)
	ctx := context.Background()

	offer, _ := env.db.CreateOffer(ctx, models.Offer{Status: models.StatusCompleted, Details: offerDetails("300", "1000")})
	env.db.CreateOffer(ctx, models.Offer{Status: models.StatusCompleted, Details: offerDetails("500", "2000")})

	params := models.DefaultPlanParams()
	first, err := env.svc.GeneratePlan(ctx, params)
	if err != nil {
		t.Fatalf("Failed to generate plan: %v", err)
	}

	if _, err := env.svc.UpdateOffer(ctx, offer.ID, models.UpdateOfferRequest{Field: "opened", Value: true}); err != nil {
		t.Fatalf("Failed to update offer: %v", err)
	}
	second, err := env.svc.GeneratePlan(ctx, params)
	if err != nil {
		t.Fatalf("Failed to generate plan: %v", err)
	}
	if second.ID == first.ID || second.TotalBonus != 500 {
		t.Errorf("Expected a fresh plan without the opened offer, got %+v", second)
	}
}

func TestGeneratePlan_Errors(t *testing.T) {
	env := setupTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := env.svc.GeneratePlan(ctx, models.DefaultPlanParams()); !errors.Is(err, ErrNoPlan) {
		t.Errorf("Expected ErrNoPlan, got %v", err)
	}

	var verr *validation.ValidationError
	_, err := env.svc.GeneratePlan(ctx, models.PlanParams{PayCycleDays: 3, AveragePaycheck: 2000, AccountsPerPayCycle: 1})
	if !errors.As(err, &verr) || verr.Field != "pay_cycle_days" {
		t.Errorf("Expected pay_cycle_days ValidationError, got %v", err)
	}
}

func TestStatsAndBackup(t *testing.T) {
	env := setupTestService(t, nil, nil)
	ctx := context.Background()

	env.svc.CreateOffer(ctx, models.CreateOfferRequest{URL: "https://bank.example.com/offer"})

	stats, err := env.svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.TotalOffers != 1 || stats.NextOfferID != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	resp, err := env.svc.Backup(ctx)
	if err != nil {
		t.Fatalf("Failed to back up: %v", err)
	}
	if _, err := os.Stat(resp.BackupFile); err != nil {
		t.Errorf("Expected backup file to exist: %v", err)
	}
	if filepath.Dir(resp.BackupFile) != filepath.Join(env.dir, "backups") {
		t.Errorf("Expected backup in backup dir, got %s", resp.BackupFile)
	}
}
