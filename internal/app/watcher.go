package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"

	"github.com/samvad-hq/fetchstate/internal/config"
	"github.com/samvad-hq/fetchstate/internal/domain"
	"github.com/samvad-hq/fetchstate/internal/logger"
	"github.com/samvad-hq/fetchstate/internal/storage"
	"github.com/samvad-hq/fetchstate/pkg/fetchstate"
	"github.com/samvad-hq/fetchstate/pkg/httpclient"
	"github.com/samvad-hq/fetchstate/pkg/publishers"
	"github.com/samvad-hq/fetchstate/pkg/reactive"
	"github.com/samvad-hq/fetchstate/pkg/targets"
)

// Watcher keeps every enabled target fetched on its schedule. Each target is
// backed by one FetchState; settled attempts are recorded to storage and fanned
// out to publishers from a single event loop.
type Watcher struct {
	cfg     *config.Config
	targets []targets.Target
	fanout  *publishers.Fanout
	store   storage.Store
	client  httpclient.Client
	log     logger.Logger

	// owned by the loop goroutine
	lastAttempt map[string]uint64
}

// NewWatcher builds a watcher runtime from config files.
func NewWatcher(ctx context.Context, cfg *config.Config, log logger.Logger) (*Watcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	targetReg, err := targets.LoadRegistry(cfg.TargetsFile, cfg.DefaultSchedule)
	if err != nil {
		return nil, fmt.Errorf("load targets registry: %w", err)
	}
	enabled := targetReg.Enabled()
	targetIDs := make([]string, 0, len(enabled))
	for _, t := range enabled {
		targetIDs = append(targetIDs, t.ID)
	}
	log.InfoObj("targets registry loaded", "targets_meta", map[string]any{
		"count":   len(targetReg.All()),
		"enabled": targetIDs,
	})

	fanout, err := buildFanout(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storage.Options{
		RecordTTL:       cfg.StorageTTL,
		CleanupInterval: cfg.StorageCleanupInterval,
	})
	if err != nil {
		_ = fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.BBoltPath,
		"record_ttl_seconds":       int(cfg.StorageTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.StorageCleanupInterval.Seconds()),
	})

	client := httpclient.NewRestyClient(cfg.RequestTimeout,
		httpclient.WithUserAgent(cfg.UserAgent),
		httpclient.WithTracerProvider(otel.GetTracerProvider()),
	)

	return &Watcher{
		cfg:         cfg,
		targets:     enabled,
		fanout:      fanout,
		store:       store,
		client:      client,
		log:         log,
		lastAttempt: make(map[string]uint64, len(enabled)),
	}, nil
}

func buildFanout(ctx context.Context, cfg *config.Config, log logger.Logger) (*publishers.Fanout, error) {
	if cfg.PublishersFile == "" {
		log.WarnObj("no publishers file configured; settlements are only recorded", "publishers_file", "")
		return publishers.NewFanout(nil), nil
	}

	publisherReg, err := publishers.LoadRegistry(cfg.PublishersFile)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	enabledPublishers := publisherReg.Enabled()
	pubClients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabledPublishers, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabledPublishers))
	for _, pubCfg := range enabledPublishers {
		summaries = append(summaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(pubClients), nil
}

// Run fetches every target, reloads them on their schedules and blocks until
// ctx is cancelled. All fetch states are closed before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	if w == nil || w.store == nil {
		return fmt.Errorf("watcher is not initialized")
	}
	defer w.closeResources()

	if len(w.targets) == 0 {
		w.log.WarnObj("no enabled targets; watcher idle", "targets_file", w.cfg.TargetsFile)
		<-ctx.Done()
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	loop := reactive.NewLoop()
	var loopDone sync.WaitGroup
	loopDone.Add(1)
	go func() {
		defer loopDone.Done()
		_ = loop.Run(ctx)
	}()

	scheduler := cron.New(cron.WithParser(targets.ScheduleParser))
	states := make([]*fetchstate.FetchState[any], 0, len(w.targets))
	defer func() {
		<-scheduler.Stop().Done()
		for _, fs := range states {
			fs.Close()
		}
		cancel()
		loopDone.Wait()
	}()

	for _, t := range w.targets {
		fs, err := w.watch(ctx, loop, t)
		if err != nil {
			return err
		}
		states = append(states, fs)
		if _, err := scheduler.AddFunc(t.Schedule, fs.Reload); err != nil {
			return fmt.Errorf("schedule target %s: %w", t.ID, err)
		}
	}

	w.log.InfoObj("watcher loop starting", "watcher_state", map[string]any{
		"targets_count":    len(states),
		"publishers_count": w.fanout.Size(),
	})
	scheduler.Start()

	<-ctx.Done()
	w.log.InfoObj("watcher loop exiting", "reason", context.Cause(ctx).Error())
	return nil
}

// watch starts the FetchState for t and routes its settlements onto loop.
func (w *Watcher) watch(ctx context.Context, loop *reactive.Loop, t targets.Target) (*fetchstate.FetchState[any], error) {
	decode, err := t.PayloadDecoder()
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", t.ID, err)
	}

	fs := fetchstate.New(t.URL, t.FetchConfig(), decode,
		fetchstate.WithContext(ctx),
		fetchstate.WithClient(w.client),
		fetchstate.WithLogger(w.log),
	)
	fs.SubscribeWithScheduler(loop, func(s fetchstate.State[any]) {
		w.observe(ctx, t, s)
	})
	// the first attempt may already have settled before the subscription existed
	loop.Schedule(func() { w.observe(ctx, t, fs.Snapshot()) })
	return fs, nil
}

// observe runs on the loop goroutine only.
func (w *Watcher) observe(ctx context.Context, t targets.Target, s fetchstate.State[any]) {
	if s.Pending || s.Attempt == 0 || s.Attempt <= w.lastAttempt[t.ID] {
		return
	}
	w.lastAttempt[t.ID] = s.Attempt

	settlement, err := newSettlement(t, s)
	if err != nil {
		w.log.ErrorObj("encode settlement payload failed", "settlement_error", map[string]any{
			"target_id": t.ID,
			"error":     err.Error(),
		})
		return
	}

	if err := w.store.Record(settlement); err != nil {
		w.log.ErrorObj("record settlement failed", "settlement_error", map[string]any{
			"target_id": t.ID,
			"error":     err.Error(),
		})
	}

	start := time.Now()
	delivered, err := w.fanout.Publish(ctx, publishers.NewEvent(t.Name, settlement))
	if err != nil {
		w.log.ErrorObj("publish settlement failed", "settlement_error", map[string]any{
			"target_id": t.ID,
			"error":     err.Error(),
		})
	}
	w.log.InfoObj("target settled", "settlement_meta", map[string]any{
		"target_id":  t.ID,
		"attempt":    s.Attempt,
		"status":     settlement.Status,
		"delivered":  delivered,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
}

func newSettlement(t targets.Target, s fetchstate.State[any]) (domain.Settlement, error) {
	out := domain.NewSettlement(t.ID, t.URL, t.Method, s.Attempt)
	out.Status = s.Status().String()
	out.Failure = s.Failure
	if s.Failed() || !s.HasPayload {
		return out, nil
	}

	payload := s.Payload
	if meta, ok := payload.(targets.PageMeta); ok {
		payload = meta.ResolveImage(t.URL)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("marshal payload: %w", err)
	}
	out.Payload = raw
	return out, nil
}

// closeResources releases publishers and the storage backend, logging any errors encountered.
func (w *Watcher) closeResources() {
	err := errors.Join(w.fanout.Close(), w.store.Close())
	if err != nil {
		w.log.ErrorObj("watcher shutdown failed", "error", err.Error())
	}
}
