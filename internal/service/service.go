package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bonus-planner-api/internal/cache"
	"bonus-planner-api/internal/database"
	"bonus-planner-api/internal/events"
	"bonus-planner-api/internal/extraction"
	"bonus-planner-api/internal/features"
	"bonus-planner-api/internal/models"
	"bonus-planner-api/internal/observability"
	"bonus-planner-api/internal/planner"
	"bonus-planner-api/internal/resilience"
	"bonus-planner-api/internal/tracing"
	"bonus-planner-api/internal/validation"
)

// Processing step labels shown while an offer moves through extraction.
const (
	StepScraping   = "Scraping Website"
	StepValidating = "Validating Content"
	StepComplete   = "Complete"
)

var (
	// ErrOfferNotFound is returned for unknown offer ids.
	ErrOfferNotFound = database.ErrOfferNotFound
	// ErrNoPlan means no offer could be scheduled.
	ErrNoPlan = errors.New("no unopened offers available for planning")
	// ErrNoExtractor means no extraction collaborator is configured.
	ErrNoExtractor = errors.New("no extraction service configured")
)

// DuplicateOfferError reports that a URL is already tracked.
type DuplicateOfferError struct {
	Existing models.Offer
}

func (e *DuplicateOfferError) Error() string {
	return fmt.Sprintf("offer already tracked as %d", e.Existing.ID)
}

// Dependencies are the collaborators of a Service. DB and Planner are
// required; everything else has a usable default.
type Dependencies struct {
	DB        *database.DB
	Planner   *planner.Planner
	Extractor extraction.Extractor
	PlanCache *cache.PlanCache
	Events    *events.Manager
	Features  *features.Manager
	Metrics   *observability.Metrics
	Tracer    *tracing.Tracer
	Logger    *zap.Logger

	BackupDir string
	// ExtractionConcurrency bounds ProcessPending.
	ExtractionConcurrency int
	// MaxConcurrentPlans bounds simultaneous plan searches.
	MaxConcurrentPlans int
	// ExtractionTimeout bounds one background extraction.
	ExtractionTimeout time.Duration
}

// Service provides the business logic of the bonus planner API.
type Service struct {
	db        *database.DB
	planner   *planner.Planner
	extractor extraction.Extractor
	plans     *cache.PlanCache
	events    *events.Manager
	features  *features.Manager
	metrics   *observability.Metrics
	tracer    *tracing.Tracer
	logger    *zap.Logger

	planSlots          *resilience.Bulkhead
	backupDir          string
	extractConcurrency int
	extractTimeout     time.Duration

	// background work is tied to baseCtx and tracked by wg
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a new service instance.
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics()
	}
	if deps.Events == nil {
		deps.Events = events.NewManager(true, deps.Logger)
	}
	if deps.Features == nil {
		deps.Features = features.NewManager(nil, deps.Logger)
	}
	if deps.Tracer == nil {
		deps.Tracer = tracing.Noop()
	}
	if deps.BackupDir == "" {
		deps.BackupDir = "./backups"
	}
	if deps.ExtractionConcurrency < 1 {
		deps.ExtractionConcurrency = 4
	}
	if deps.ExtractionTimeout <= 0 {
		deps.ExtractionTimeout = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		db:                 deps.DB,
		planner:            deps.Planner,
		extractor:          deps.Extractor,
		plans:              deps.PlanCache,
		events:             deps.Events,
		features:           deps.Features,
		metrics:            deps.Metrics,
		tracer:             deps.Tracer,
		logger:             deps.Logger,
		planSlots:          resilience.NewBulkhead(deps.MaxConcurrentPlans),
		backupDir:          deps.BackupDir,
		extractConcurrency: deps.ExtractionConcurrency,
		extractTimeout:     deps.ExtractionTimeout,
		baseCtx:            ctx,
		cancel:             cancel,
	}
}

// Features exposes the flag manager.
func (s *Service) Features() *features.Manager {
	return s.features
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close cancels background extractions and waits for them to return.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until in-flight background extractions finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// CreateOffer starts tracking an offer from a URL or pasted content. URL
// offers whose normalized URL is already tracked fail with
// *DuplicateOfferError.
func (s *Service) CreateOffer(ctx context.Context, req models.CreateOfferRequest) (models.Offer, error) {
	ctx, span := s.tracer.StartSpan(ctx, "service.CreateOffer")
	defer span.End()

	if err := validation.ValidateCreateOffer(req); err != nil {
		return models.Offer{}, err
	}

	offer := models.Offer{
		Status:  models.StatusProcessing,
		Details: models.PlaceholderDetails(),
	}

	if url := validation.SanitizeString(req.URL); url != "" {
		existing, err := s.db.FindByURL(ctx, url)
		if err == nil {
			return models.Offer{}, &DuplicateOfferError{Existing: existing}
		}
		if !errors.Is(err, database.ErrOfferNotFound) {
			return models.Offer{}, fmt.Errorf("failed to check for duplicates: %w", err)
		}
		offer.URL = url
		offer.ProcessingStep = StepScraping
	} else {
		offer.URL = validation.SanitizeString(req.OriginalURL)
		offer.OriginalContent = req.Content
		offer.ProcessingStep = StepValidating
	}

	created, err := s.db.CreateOffer(ctx, offer)
	if err != nil {
		return models.Offer{}, fmt.Errorf("failed to create offer: %w", err)
	}
	span.SetAttributes(attribute.Int("offer.id", created.ID))

	s.logger.Info("offer created",
		zap.Int("offer_id", created.ID),
		zap.Bool("manual", created.IsManual()),
	)
	s.publish(func() { s.events.PublishOfferCreated(ctx, created) })
	s.extractAsync(created.ID)

	return created, nil
}

// ListOffers returns every tracked offer.
func (s *Service) ListOffers(ctx context.Context) ([]models.Offer, error) {
	offers, err := s.db.ListOffers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	if offers == nil {
		offers = []models.Offer{}
	}
	return offers, nil
}

// GetOffer returns one offer.
func (s *Service) GetOffer(ctx context.Context, id int) (models.Offer, error) {
	return s.db.GetOffer(ctx, id)
}

// UpdateOffer changes the URL or one of the user progress flags.
func (s *Service) UpdateOffer(ctx context.Context, id int, req models.UpdateOfferRequest) (models.Offer, error) {
	if err := validation.ValidateUserField(req); err != nil {
		return models.Offer{}, err
	}

	offer, err := s.db.GetOffer(ctx, id)
	if err != nil {
		return models.Offer{}, err
	}

	switch req.Field {
	case "url":
		offer.URL = validation.SanitizeString(req.Value.(string))
	case "opened":
		offer.UserControlled.Opened = req.Value.(bool)
	case "deposited":
		offer.UserControlled.Deposited = req.Value.(bool)
	case "received":
		offer.UserControlled.Received = req.Value.(bool)
	}

	updated, err := s.db.UpdateOffer(ctx, offer)
	if err != nil {
		return models.Offer{}, err
	}

	s.logger.Info("offer updated", zap.Int("offer_id", id), zap.String("field", req.Field))
	s.publish(func() { s.events.PublishOfferUpdated(ctx, updated) })
	return updated, nil
}

// DeleteOffer stops tracking an offer.
func (s *Service) DeleteOffer(ctx context.Context, id int) error {
	if err := s.db.DeleteOffer(ctx, id); err != nil {
		return err
	}
	s.logger.Info("offer deleted", zap.Int("offer_id", id))
	s.publish(func() { s.events.PublishOfferDeleted(ctx, id) })
	return nil
}

// RefreshOffer resets an offer to processing and extracts it again. Manual
// offers reuse their stored content; URL offers use url when given.
func (s *Service) RefreshOffer(ctx context.Context, id int, url string) (models.Offer, error) {
	offer, err := s.db.GetOffer(ctx, id)
	if err != nil {
		return models.Offer{}, err
	}

	if !offer.IsManual() {
		if url = validation.SanitizeString(url); url != "" {
			if err := validation.ValidateURL(url, "url"); err != nil {
				return models.Offer{}, err
			}
			offer.URL = url
		}
		offer.ProcessingStep = StepScraping
	} else {
		offer.ProcessingStep = StepValidating
	}
	offer.Status = models.StatusProcessing
	offer.Details = models.PlaceholderDetails()

	updated, err := s.db.UpdateOffer(ctx, offer)
	if err != nil {
		return models.Offer{}, err
	}

	s.logger.Info("offer refresh started", zap.Int("offer_id", id))
	s.publish(func() { s.events.PublishOfferUpdated(ctx, updated) })
	s.extractAsync(id)
	return updated, nil
}

// RefreshField re-extracts a single detail field in the background.
func (s *Service) RefreshField(ctx context.Context, id int, field string) error {
	if !isExtractionField(field) {
		return &validation.ValidationError{Field: "field", Message: fmt.Sprintf("unknown field %q", field)}
	}
	if _, err := s.db.GetOffer(ctx, id); err != nil {
		return err
	}
	if s.extractor == nil {
		return ErrNoExtractor
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, s.extractTimeout)
		defer cancel()
		if err := s.refreshField(ctx, id, field); err != nil {
			s.logger.Warn("field refresh failed",
				zap.Int("offer_id", id),
				zap.String("field", field),
				zap.Error(err),
			)
		}
	}()
	return nil
}

func (s *Service) refreshField(ctx context.Context, id int, field string) error {
	offer, err := s.db.GetOffer(ctx, id)
	if err != nil {
		return err
	}

	details, err := s.extractor.Extract(ctx, extractionRequest(offer, []string{field}))
	if err != nil {
		return err
	}

	// re-read so concurrent flag changes are kept
	offer, err = s.db.GetOffer(ctx, id)
	if err != nil {
		return err
	}
	offer.Details = offer.Details.Clone()
	offer.Details[field] = details.Get(field)
	updated, err := s.db.UpdateOffer(ctx, offer)
	if err != nil {
		return err
	}
	s.publish(func() { s.events.PublishOfferUpdated(ctx, updated) })
	return nil
}

// ProcessOffer extracts the details of one processing offer. Success marks the
// offer completed; an extraction error marks it failed and is returned.
func (s *Service) ProcessOffer(ctx context.Context, id int) error {
	ctx, span := s.tracer.StartSpan(ctx, "service.ProcessOffer")
	defer span.End()
	span.SetAttributes(attribute.Int("offer.id", id))

	if s.extractor == nil {
		return ErrNoExtractor
	}

	offer, err := s.db.GetOffer(ctx, id)
	if err != nil {
		return err
	}
	if offer.Status != models.StatusProcessing {
		return nil
	}

	started := time.Now()
	details, extractErr := s.extractor.Extract(ctx, extractionRequest(offer, models.ExtractionFields))
	if extractErr != nil && ctx.Err() != nil {
		// shutdown, leave it for the next sweep
		return ctx.Err()
	}

	offer, err = s.db.GetOffer(ctx, id)
	if err != nil {
		return err
	}
	if extractErr != nil {
		offer.Status = models.StatusFailed
		offer.ProcessingStep = "Failed: " + extractErr.Error()
		span.RecordError(extractErr)
		span.SetStatus(codes.Error, "extraction failed")
	} else {
		offer.Status = models.StatusCompleted
		offer.ProcessingStep = StepComplete
		offer.Details = details
	}

	updated, err := s.db.UpdateOffer(ctx, offer)
	if err != nil {
		return fmt.Errorf("failed to store extraction result: %w", err)
	}
	s.metrics.IncrExtraction(string(updated.Status))

	fields := []zap.Field{
		zap.Int("offer_id", id),
		zap.String("status", string(updated.Status)),
		zap.Duration("elapsed", time.Since(started)),
	}
	if extractErr != nil {
		s.logger.Warn("offer extraction failed", append(fields, zap.Error(extractErr))...)
	} else {
		s.logger.Info("offer extracted", fields...)
	}
	s.publish(func() { s.events.PublishOfferProcessed(ctx, updated) })

	return extractErr
}

// ProcessPending extracts every offer still in processing, a few at a time.
// It returns the number of offers attempted.
func (s *Service) ProcessPending(ctx context.Context) (int, error) {
	pending, err := s.db.ListByStatus(ctx, models.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending offers: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if s.extractor == nil {
		return 0, ErrNoExtractor
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.extractConcurrency)
	for _, offer := range pending {
		id := offer.ID
		g.Go(func() error {
			// a failed extraction is recorded on the offer, not fatal to the sweep
			if err := s.ProcessOffer(gctx, id); err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	err = g.Wait()

	s.logger.Info("pending offers processed", zap.Int("count", len(pending)))
	s.refreshOfferGauge(ctx)
	return len(pending), err
}

// GeneratePlan validates params and returns the best plan for the current
// offers, or ErrNoPlan when nothing can be scheduled.
func (s *Service) GeneratePlan(ctx context.Context, params models.PlanParams) (*models.Plan, error) {
	ctx, span := s.tracer.StartSpan(ctx, "service.GeneratePlan")
	defer span.End()

	if err := validation.ValidatePlanParams(params); err != nil {
		return nil, err
	}

	if err := s.planSlots.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire planning slot: %w", err)
	}
	defer s.planSlots.Release()

	offers, err := s.db.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot offers: %w", err)
	}

	useCache := s.plans != nil && s.features.IsEnabled(features.PlanCache)
	var key string
	if useCache {
		key = cache.PlanKey(offers, params, s.planner.Today())
		plan, found, err := s.plans.Get(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("plan cache read failed", zap.Error(err))
		case found:
			s.metrics.IncrCacheHit()
			s.metrics.RecordPlan(observability.PlanResultCached, 0, 0)
			span.SetAttributes(attribute.Bool("plan.cached", true))
			s.publish(func() { s.events.PublishPlanGenerated(ctx, plan, params, true) })
			return plan, nil
		default:
			s.metrics.IncrCacheMiss()
		}
	}

	started := time.Now()
	plan := s.planner.GeneratePlan(ctx, offers, params)
	elapsed := time.Since(started)

	if plan == nil {
		s.metrics.RecordPlan(observability.PlanResultEmpty, 0, elapsed)
		s.logger.Info("no plan generated", zap.Int("offers", len(offers)))
		return nil, ErrNoPlan
	}

	result := observability.PlanResultGenerated
	if !plan.Exhaustive {
		result = observability.PlanResultPartial
	}
	s.metrics.RecordPlan(result, plan.Evaluations, elapsed)
	span.SetAttributes(
		attribute.String("plan.id", plan.ID),
		attribute.Int64("plan.evaluations", plan.Evaluations),
		attribute.Bool("plan.exhaustive", plan.Exhaustive),
	)

	s.logger.Info("plan generated",
		zap.String("plan_id", plan.ID),
		zap.Float64("total_bonus", plan.TotalBonus),
		zap.Int("offers", len(plan.Offers)),
		zap.Int64("evaluations", plan.Evaluations),
		zap.Bool("exhaustive", plan.Exhaustive),
		zap.Duration("elapsed", elapsed),
	)

	// a partial plan depends on how far the search got, so it is not reused
	if useCache && plan.Exhaustive {
		if err := s.plans.Put(ctx, key, plan); err != nil {
			s.logger.Warn("plan cache write failed", zap.Error(err))
		}
	}

	s.publish(func() { s.events.PublishPlanGenerated(ctx, plan, params, false) })
	return plan, nil
}

// Stats summarises the offer store.
func (s *Service) Stats(ctx context.Context) (models.StorageStats, error) {
	stats, err := s.db.Stats(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to read storage stats: %w", err)
	}
	s.metrics.SetOfferCounts(stats.CompletedOffers, stats.FailedOffers, stats.ProcessingOffers)
	return stats, nil
}

// Backup writes a copy of the store into the backup directory.
func (s *Service) Backup(ctx context.Context) (models.BackupResponse, error) {
	path, err := s.db.Backup(ctx, s.backupDir)
	if err != nil {
		return models.BackupResponse{}, err
	}
	s.logger.Info("backup created", zap.String("file", path))
	return models.BackupResponse{
		Message:    "Backup created successfully",
		BackupFile: path,
	}, nil
}

func (s *Service) extractAsync(id int) {
	if s.extractor == nil || !s.features.IsEnabled(features.BackgroundExtraction) {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, s.extractTimeout)
		defer cancel()
		// failures are already recorded on the offer and logged
		_ = s.ProcessOffer(ctx, id)
	}()
}

func (s *Service) publish(fn func()) {
	if s.features.IsEnabled(features.EventHooks) {
		fn()
	}
}

func (s *Service) refreshOfferGauge(ctx context.Context) {
	if _, err := s.Stats(ctx); err != nil {
		s.logger.Debug("failed to refresh offer gauge", zap.Error(err))
	}
}

func extractionRequest(offer models.Offer, fields []string) extraction.Request {
	req := extraction.Request{Fields: fields}
	if offer.IsManual() {
		req.Content = offer.OriginalContent
	} else {
		req.URL = offer.URL
	}
	return req
}

func isExtractionField(field string) bool {
	for _, f := range models.ExtractionFields {
		if f == field {
			return true
		}
	}
	return false
}
