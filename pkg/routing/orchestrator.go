// Package routing sequences extraction, eligibility, matching and disposition for one
// notification and records the terminal Routed or Failed outcome.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JiscPER/jper-sub000/pkg/eligibility"
	"github.com/JiscPER/jper-sub000/pkg/matching"
	"github.com/JiscPER/jper-sub000/pkg/merging"
	"github.com/JiscPER/jper-sub000/pkg/metrics"
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

// Stage labels the step a routing run was in when it reached its disposition
type Stage string

const (
	StageCreated     Stage = "created"
	StageExtraction  Stage = "extracting"
	StageEligibility Stage = "eligibility_checked"
	StageMatching    Stage = "matching"
	StageDisposition Stage = "disposition"
)

var stageOrder = map[Stage]int{
	StageCreated:     0,
	StageExtraction:  1,
	StageEligibility: 2,
	StageMatching:    3,
	StageDisposition: 4,
}

// provenanceNamespace seeds the deterministic provenance ids
var provenanceNamespace = uuid.MustParse("6f1c8a52-3b1e-4f0d-9d8e-2a7c5e4b9f10")

// ProvenanceID returns the id of the provenance record for a (notification, repository) pair.
// Re-routing the same notification therefore upserts instead of duplicating.
func ProvenanceID(notificationID, repositoryID string) string {
	return uuid.NewSHA1(provenanceNamespace, []byte(notificationID+"|"+repositoryID)).String()
}

// Outcome is the result of one routing run
type Outcome struct {
	// Notification is the terminal Routed or Failed record
	Notification *models.Notification
	Provenance   []models.MatchProvenance
	Candidates   int
	Stage        Stage
	// Err is the classified cause of a Failed outcome
	Err error
}

// IsRouted reports whether the run matched at least one subscriber
func (o *Outcome) IsRouted() bool {
	return o.Notification != nil && o.Notification.Status == models.NotificationStatusRouted
}

// Orchestrator routes notifications
type Orchestrator struct {
	logger      ectologger.Logger
	extractor   Extractor
	register    LicenseRegister
	subscribers SubscriberStore
	store       Store
	repackager  Repackager
	sink        OutcomeSink
	policy      PolicySource
	engine      *matching.Engine
	now         func() time.Time
}

// Option configures optional collaborators
type Option func(*Orchestrator)

// WithRepackager requests additional package formats for routed notifications
func WithRepackager(r Repackager) Option {
	return func(o *Orchestrator) { o.repackager = r }
}

// WithOutcomeSink forwards every disposition to sink
func WithOutcomeSink(sink OutcomeSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithClock overrides the clock used for analysis timestamps
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates a new routing orchestrator. extractor may be nil, in which
// case only the notification's declared metadata is used.
func NewOrchestrator(
	logger ectologger.Logger,
	extractor Extractor,
	register LicenseRegister,
	subscribers SubscriberStore,
	store Store,
	policy PolicySource,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		logger:      logger,
		extractor:   extractor,
		register:    register,
		subscribers: subscribers,
		store:       store,
		policy:      policy,
		engine:      matching.NewEngine(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run carries the state of one routing invocation
type run struct {
	source     *models.Notification
	policy     Policy
	stage      Stage
	stageStart time.Time
	start      time.Time
	log        ectologger.Logger
}

// advance moves the run forward. Stages never move backwards.
func (r *run) advance(next Stage, now time.Time) error {
	if stageOrder[next] <= stageOrder[r.stage] {
		return fmt.Errorf("%w: %s cannot follow %s", ErrStageOrder, next, r.stage)
	}
	if r.stage != StageCreated {
		metrics.RecordStage(string(r.stage), now.Sub(r.stageStart).Seconds())
	}
	r.stage = next
	r.stageStart = now
	return nil
}

// Route drives an Unrouted notification to its terminal disposition. Extraction,
// eligibility and matching failures are recorded as Failed outcomes, not returned.
// An error is returned only for terminal input or when the disposition itself
// cannot be persisted. ErrStageOrder marks a run that tried to revisit a stage.
func (o *Orchestrator) Route(ctx context.Context, n *models.Notification) (*Outcome, error) {
	if n == nil {
		return nil, errors.New("notification is required")
	}
	if n.IsTerminal() {
		return nil, ErrTerminal
	}

	ctx, span := tracing.StartSpan(ctx, "routing.Orchestrator.Route")
	defer span.End()

	now := o.now()
	r := &run{
		source:     n,
		policy:     o.policy.Policy(),
		stage:      StageCreated,
		stageStart: now,
		start:      now,
		log: o.logger.WithContext(ctx).WithFields(map[string]any{
			"notification_id":  n.ID,
			"provider_id":      n.ProviderID,
			"packaging_format": n.PackagingFormat,
			"routing_attempt":  n.RoutingAttempts + 1,
		}),
	}

	// Extracting
	if err := r.advance(StageExtraction, o.now()); err != nil {
		return nil, err
	}
	extracted, fragment, err := o.extract(ctx, r)
	if err != nil {
		return o.fail(ctx, r, err, 0)
	}

	merged := merging.MergeMetadata(n.Metadata, extracted)
	if len(merged.Conflicts) > 0 {
		r.log.WithFields(map[string]any{"conflicts": merged.Conflicts}).Debug("Extracted metadata disagrees with declared metadata")
	}
	data := matching.BuildMatchData(n.Metadata).Merge(fragment)

	// Eligibility
	if err := r.advance(StageEligibility, o.now()); err != nil {
		return nil, err
	}
	candidates, err := o.resolve(ctx, r, merged.Metadata)
	if err != nil {
		return o.fail(ctx, r, err, 0)
	}
	metrics.CandidatesPerNotification.Observe(float64(len(candidates)))

	// Matching
	if err := r.advance(StageMatching, o.now()); err != nil {
		return nil, err
	}
	results, err := o.sweep(ctx, r, data, candidates)
	if err != nil {
		return o.fail(ctx, r, err, len(candidates))
	}

	provenance, err := o.recordProvenance(ctx, r, results)
	if err != nil {
		return o.fail(ctx, r, err, len(candidates))
	}

	// Disposition
	if err := r.advance(StageDisposition, o.now()); err != nil {
		return nil, err
	}
	if len(provenance) == 0 {
		return o.fail(ctx, r, ErrNoQualifiedSubscribers, len(candidates))
	}
	return o.route(ctx, r, merged.Metadata, provenance, len(candidates))
}

// =============================================================================
// STAGES
// =============================================================================

func (o *Orchestrator) extract(ctx context.Context, r *run) (md models.Metadata, fragment models.MatchData, err error) {
	if o.extractor == nil || r.source.PackagingFormat == "" {
		return models.Metadata{}, models.MatchData{}, nil
	}

	ctx, span := tracing.StartSpan(ctx, "routing.Orchestrator.extract")
	defer span.End()

	ctx, cancel := r.callContext(ctx)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{stage: StageExtraction, value: rec}
		}
	}()

	md, fragment, err = o.extractor.Extract(ctx, r.source.ID, r.source.PackagingFormat)
	if err != nil {
		return models.Metadata{}, models.MatchData{}, &ExtractionError{
			NotificationID: r.source.ID,
			Format:         r.source.PackagingFormat,
			Err:            err,
		}
	}
	return md, fragment, nil
}

func (o *Orchestrator) resolve(ctx context.Context, r *run, md models.Metadata) (candidates []eligibility.Candidate, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{stage: StageEligibility, value: rec}
		}
	}()

	year := md.PublicationYear()
	if year == 0 && !r.source.CreatedAt.IsZero() {
		year = r.source.CreatedAt.Year()
	}

	snapshot := eligibility.NewSnapshot(o.register, o.subscribers)
	resolver := eligibility.NewResolver(snapshot, snapshot, o.logger)

	candidates, err = resolver.Resolve(ctx, eligibility.Query{
		NotificationID:   r.source.ID,
		ISSNs:            md.Journal.ISSNs(),
		PublicationYear:  year,
		DeclaredLicenses: md.Licenses,
		GoldAllowList:    r.policy.GoldAllowList(r.source.ProviderID),
	})
	if err != nil {
		return nil, &EligibilityLookupError{NotificationID: r.source.ID, Err: err}
	}
	return candidates, nil
}

// sweep matches every candidate concurrently. Results keep candidate order.
func (o *Orchestrator) sweep(ctx context.Context, r *run, data models.MatchData, candidates []eligibility.Candidate) ([]matching.Result, error) {
	_, span := tracing.StartSpan(ctx, "routing.Orchestrator.sweep")
	defer span.End()

	results := make([]matching.Result, len(candidates))
	var g errgroup.Group
	if r.policy.MaxConcurrency > 0 {
		g.SetLimit(r.policy.MaxConcurrency)
	}

	cfg := r.policy.Matching
	for i := range candidates {
		g.Go(func() (err error) {
			metrics.MatchesInFlight.Inc()
			defer metrics.MatchesInFlight.Dec()
			defer func() {
				if rec := recover(); rec != nil {
					err = &panicError{stage: StageMatching, value: fmt.Sprintf("subscriber %s: %v", candidates[i].Subscriber.ID, rec)}
				}
			}()

			profile := candidates[i].Subscriber
			results[i] = o.engine.Match(data, &profile, candidates[i].PreferredLicense(), cfg)
			metrics.RecordMatch(results[i].Matched)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// recordProvenance persists one provenance record per matched subscriber
func (o *Orchestrator) recordProvenance(ctx context.Context, r *run, results []matching.Result) ([]models.MatchProvenance, error) {
	seen := make(map[string]struct{}, len(results))
	var out []models.MatchProvenance

	for _, res := range results {
		if !res.Matched {
			r.log.WithFields(map[string]any{
				"repository_id": res.RepositoryID,
				"reason":        res.RejectReason,
			}).Debug("Subscriber did not match")
			continue
		}
		if _, dup := seen[res.RepositoryID]; dup {
			continue
		}
		seen[res.RepositoryID] = struct{}{}

		p := models.MatchProvenance{
			ID:             ProvenanceID(r.source.ID, res.RepositoryID),
			NotificationID: r.source.ID,
			RepositoryID:   res.RepositoryID,
			Entries:        res.Entries,
			License:        res.License,
			EmbargoMonths:  res.EmbargoMonths,
			CreatedAt:      o.now(),
		}
		if err := o.withTimeout(ctx, r, func(ctx context.Context) error { return o.store.SaveProvenance(ctx, &p) }); err != nil {
			return nil, &PersistenceError{NotificationID: r.source.ID, Stage: StageMatching, Err: err}
		}
		out = append(out, p)
	}
	return out, nil
}

// =============================================================================
// DISPOSITION
// =============================================================================

func (o *Orchestrator) route(ctx context.Context, r *run, md models.Metadata, provenance []models.MatchProvenance, candidates int) (*Outcome, error) {
	now := o.now()
	routed := cloneNotification(r.source)
	routed.Status = models.NotificationStatusRouted
	routed.Metadata = md
	routed.RoutingAttempts = r.source.RoutingAttempts + 1
	routed.UpdatedAt = now
	routed.Failed = nil

	ids := ectolinq.Map(provenance, func(p models.MatchProvenance) string { return p.RepositoryID })
	if routed.Metadata.EmbargoMonths == 0 {
		for _, p := range provenance {
			if p.EmbargoMonths > 0 {
				routed.Metadata.EmbargoMonths = p.EmbargoMonths
				break
			}
		}
	}

	added := o.repackage(ctx, r)
	routed.Links = append(routed.Links, added...)
	routed.Routed = &models.RoutedPayload{
		RepositoryIDs: ids,
		Reason:        fmt.Sprintf("matched %d of %d license-eligible repositories", len(ids), candidates),
		AnalysedAt:    now,
		AddedLinks:    added,
	}

	if err := o.withTimeout(ctx, r, func(ctx context.Context) error { return o.store.SaveNotification(ctx, routed) }); err != nil {
		r.log.WithError(err).Error("Failed to save routed notification")
		return nil, &PersistenceError{NotificationID: r.source.ID, Stage: StageDisposition, Err: err}
	}
	if r.source.RoutingAttempts > 0 {
		o.clearStalled(ctx, r)
	}
	o.retire(ctx, r)
	o.publish(ctx, r, routed)

	r.log.WithFields(map[string]any{
		"repository_ids": ids,
		"candidates":     candidates,
	}).Info("Notification routed")
	metrics.RecordRoutingOutcome("routed", string(StageDisposition), o.now().Sub(r.start).Seconds())

	return &Outcome{
		Notification: routed,
		Provenance:   provenance,
		Candidates:   candidates,
		Stage:        StageDisposition,
	}, nil
}

// fail records a Failed disposition for cause
func (o *Orchestrator) fail(ctx context.Context, r *run, cause error, candidates int) (*Outcome, error) {
	now := o.now()
	stalled := IsStalled(cause)
	stage := r.stage
	var persist *PersistenceError
	if errors.As(cause, &persist) {
		stage = persist.Stage
	}

	failed := cloneNotification(r.source)
	failed.Status = models.NotificationStatusFailed
	failed.RoutingAttempts = r.source.RoutingAttempts + 1
	failed.UpdatedAt = now
	failed.Routed = nil
	failed.Failed = &models.FailedPayload{
		Reason:     cause.Error(),
		Stage:      string(stage),
		Stalled:    stalled,
		AnalysedAt: now,
	}

	log := r.log.WithFields(map[string]any{
		"stage":   stage,
		"stalled": stalled,
	})

	if stalled || r.policy.KeepFailed {
		if err := o.withTimeout(ctx, r, func(ctx context.Context) error { return o.store.SaveNotification(ctx, failed) }); err != nil {
			log.WithError(err).Error("Failed to save failed notification")
			return nil, &PersistenceError{NotificationID: r.source.ID, Stage: StageDisposition, Err: err}
		}
	} else if r.source.RoutingAttempts > 0 {
		o.clearStalled(ctx, r)
	}

	outcome := "no_match"
	switch {
	case stalled:
		outcome = "stalled"
		if failed.RoutingAttempts < r.policy.MaxStalledAttempts {
			o.keepForRetry(ctx, r, failed.RoutingAttempts)
		} else {
			log.Warn("Giving up on stalled notification")
			o.retire(ctx, r)
		}
		log.WithError(cause).Warn("Routing stalled")
	case errors.Is(cause, ErrNoQualifiedSubscribers):
		o.retire(ctx, r)
		log.WithFields(map[string]any{"candidates": candidates}).Info("Notification matched no subscribers")
	default:
		outcome = "failed"
		o.retire(ctx, r)
		log.WithError(cause).Warn("Routing failed")
	}
	o.publish(ctx, r, failed)
	metrics.RecordRoutingOutcome(outcome, string(stage), o.now().Sub(r.start).Seconds())

	return &Outcome{
		Notification: failed,
		Candidates:   candidates,
		Stage:        stage,
		Err:          cause,
	}, nil
}

// repackage requests additional formats. Failures leave the notification routed without them.
func (o *Orchestrator) repackage(ctx context.Context, r *run) []models.Link {
	if o.repackager == nil || r.source.PackagingFormat == "" || len(r.policy.RepackageFormats) == 0 {
		return nil
	}

	var links []models.Link
	err := o.withTimeout(ctx, r, func(ctx context.Context) error {
		var err error
		links, err = o.repackager.Convert(ctx, r.source.ID, r.source.PackagingFormat, r.policy.RepackageFormats)
		return err
	})
	if err != nil {
		metrics.RepackagingTotal.WithLabelValues("failed").Inc()
		r.log.WithError(err).Warn("Failed to repackage routed notification")
		return nil
	}
	metrics.RepackagingTotal.WithLabelValues("success").Inc()
	return links
}

// keepForRetry saves the source record with its attempt count so the scheduler retries it
func (o *Orchestrator) keepForRetry(ctx context.Context, r *run, attempts int) {
	retry := cloneNotification(r.source)
	retry.RoutingAttempts = attempts
	retry.UpdatedAt = o.now()
	if err := o.withTimeout(ctx, r, func(ctx context.Context) error { return o.store.SaveNotification(ctx, retry) }); err != nil {
		r.log.WithError(err).Warn("Failed to update attempts on stalled notification")
	}
}

// retire removes the source record unless the policy retains it
func (o *Orchestrator) retire(ctx context.Context, r *run) {
	if r.policy.RetainUnrouted {
		retained := cloneNotification(r.source)
		retained.RoutingAttempts = r.source.RoutingAttempts + 1
		retained.UpdatedAt = o.now()
		if err := o.withTimeout(ctx, r, func(ctx context.Context) error { return o.store.SaveNotification(ctx, retained) }); err != nil {
			r.log.WithError(err).Warn("Failed to update retained unrouted notification")
		}
		return
	}
	if err := o.withTimeout(ctx, r, func(ctx context.Context) error {
		return o.store.DeleteNotification(ctx, r.source.ID, models.NotificationStatusUnrouted)
	}); err != nil {
		r.log.WithError(err).Warn("Failed to delete unrouted notification")
	}
}

// clearStalled removes the Failed record left by an earlier stalled attempt
func (o *Orchestrator) clearStalled(ctx context.Context, r *run) {
	if err := o.withTimeout(ctx, r, func(ctx context.Context) error {
		return o.store.DeleteNotification(ctx, r.source.ID, models.NotificationStatusFailed)
	}); err != nil {
		r.log.WithError(err).Warn("Failed to clear stalled notification")
	}
}

func (o *Orchestrator) publish(ctx context.Context, r *run, n *models.Notification) {
	if o.sink == nil {
		return
	}
	if err := o.sink.RecordOutcome(ctx, n); err != nil {
		r.log.WithError(err).Warn("Failed to record routing outcome")
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *run) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.policy.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.policy.CallTimeout)
}

func (o *Orchestrator) withTimeout(ctx context.Context, r *run, fn func(context.Context) error) error {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return fn(ctx)
}

func cloneNotification(n *models.Notification) *models.Notification {
	out := *n
	if n.Links != nil {
		out.Links = make([]models.Link, len(n.Links))
		copy(out.Links, n.Links)
	}
	return &out
}
