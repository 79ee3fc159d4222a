// Package jobs schedules transcription jobs: a FIFO queue, a single active job,
// cancel/retry/remove, engine resolution with one on-device fallback attempt, and
// snapshot streams for observers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/audio"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/resolver"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultProgressCap  = 0.95
	progressEventStep   = 0.05
)

type Config struct {
	// DataDir holds staged sources under DataDir/sources.
	DataDir      string
	PollInterval time.Duration
	// ProgressCap bounds engine-reported progress until the job completes.
	ProgressCap float64
	// Settings returns the transcription settings for the next dispatch.
	Settings func() model.Settings
	// Resolver returns the engine selection state for the next dispatch.
	Resolver func() resolver.Config
}

type Manager struct {
	cfg      Config
	store    Store
	preparer audio.Preparer
	engines  map[model.Provider]model.Engine
	indexer  Indexer
	events   *EventBus

	mu       sync.Mutex
	jobs     map[string]*model.Job
	queue    []string
	activeID string
	running  bool
	closed   bool
	subs     map[int]chan []model.Job
	nextSub  int
	lastProg map[string]float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewManager(
	cfg Config,
	store Store,
	preparer audio.Preparer,
	engines []model.Engine,
	indexer Indexer,
) (*Manager, error) {
	if store == nil {
		return nil, utils.WrapIfNotNil(errors.New("job store is required"))
	}
	if preparer == nil {
		return nil, utils.WrapIfNotNil(errors.New("audio preparer is required"))
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, utils.WrapIfNotNil(errors.New("data dir is required"))
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ProgressCap <= 0 || cfg.ProgressCap > 1 {
		cfg.ProgressCap = DefaultProgressCap
	}
	if cfg.Settings == nil {
		cfg.Settings = func() model.Settings { return model.ResolveSettings() }
	}
	if cfg.Resolver == nil {
		cfg.Resolver = func() resolver.Config { return resolver.Config{OfflineMode: true} }
	}
	if indexer == nil {
		indexer = nopIndexer{}
	}

	byProvider := make(map[model.Provider]model.Engine, len(engines))
	for _, engine := range engines {
		if engine != nil {
			byProvider[engine.Provider()] = engine
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		store:    store,
		preparer: preparer,
		engines:  byProvider,
		indexer:  indexer,
		events:   NewEventBus(0),
		jobs:     make(map[string]*model.Job),
		subs:     make(map[int]chan []model.Job),
		lastProg: make(map[string]float64),
		ctx:      ctx,
		cancel:   cancel,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Events exposes the observability bus.
func (m *Manager) Events() *EventBus {
	return m.events
}

// AddJob stages and prepares sourcePath, then enqueues a queued job. On failure no
// job exists and nothing staged is left behind.
func (m *Manager) AddJob(ctx context.Context, sourcePath string, filename string) (*model.Job, error) {
	log := logging.NewComponentLogger(ctx, "jobs")

	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, utils.WrapIfNotNil(fmt.Errorf("%w: %s", model.ErrMissingSourceFile, sourcePath))
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, utils.WrapIfNotNil(fmt.Errorf("%w: source is empty: %s", model.ErrAudioPreparation, sourcePath))
	}
	if strings.TrimSpace(filename) == "" {
		filename = filepath.Base(sourcePath)
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, utils.WrapIfNotNil(ErrManagerClosed)
	}

	id := uuid.NewString()
	staged := filepath.Join(m.cfg.DataDir, "sources", id+strings.ToLower(filepath.Ext(sourcePath)))
	if err := copyFile(sourcePath, staged); err != nil {
		_ = os.Remove(staged)
		return nil, utils.WrapIfNotNil(fmt.Errorf("%w: staging failed: %w", model.ErrAudioPreparation, err))
	}

	prepared, err := m.preparer.Prepare(ctx, staged)
	if err != nil {
		_ = os.Remove(staged)
		log.Errorf("job_prepare_failed filename=%q error=%v", filename, err)
		return nil, utils.WrapIfNotNil(err)
	}

	now := m.now()
	job := model.Job{
		ID:          id,
		Filename:    filename,
		SourceRef:   staged,
		PreparedRef: prepared.Path,
		Status:      model.JobStatusQueued,
		Stage:       model.StageQueued,
		Duration:    prepared.Duration,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	if err := m.store.Add(ctx, job); err != nil {
		m.mu.Unlock()
		removeFiles(staged, prepared.Path)
		return nil, utils.WrapIfNotNil(err)
	}
	stored := job
	m.jobs[id] = &stored
	m.queue = append(m.queue, id)
	m.publishStatusLocked(&stored, "")
	m.mu.Unlock()

	log.Infof("job_added id=%s filename=%q duration=%.2f", id, filename, prepared.Duration)
	m.EnsureProcessing()

	out := job.Clone()
	return &out, nil
}

// CancelJob marks a queued or transcribing job cancelled. An in-flight engine call is not interrupted.
func (m *Manager) CancelJob(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return utils.WrapIfNotNil(fmt.Errorf("%w: %s", ErrJobNotFound, id))
	}
	if job.Status.IsTerminal() {
		return nil
	}

	job.Status = model.JobStatusCancelled
	job.Stage = model.StageCancelled
	job.Error = model.CancelledByUserMessage
	job.UpdatedAt = m.now()
	m.removeFromQueueLocked(id)
	m.persistLocked(job)
	m.publishStatusLocked(job, job.Error)
	return nil
}

// RetryJob requeues a failed or cancelled job. A job whose staged source is gone is marked failed instead.
func (m *Manager) RetryJob(id string) error {
	m.mu.Lock()

	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return utils.WrapIfNotNil(fmt.Errorf("%w: %s", ErrJobNotFound, id))
	}
	if job.Status.IsActive() || job.Status == model.JobStatusCompleted {
		m.mu.Unlock()
		return utils.WrapIfNotNil(fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status))
	}

	if !fileExists(job.SourceRef) {
		job.Status = model.JobStatusFailed
		job.Stage = model.StageFailed
		job.Error = model.ErrMissingSourceFile.Error()
		job.UpdatedAt = m.now()
		m.persistLocked(job)
		m.publishStatusLocked(job, job.Error)
		m.mu.Unlock()
		return utils.WrapIfNotNil(fmt.Errorf("%w: %s", model.ErrMissingSourceFile, job.SourceRef))
	}

	job.Status = model.JobStatusQueued
	job.Stage = model.StageQueued
	job.Progress = 0
	job.Error = ""
	job.Result = nil
	job.UpdatedAt = m.now()
	delete(m.lastProg, id)

	m.removeFromQueueLocked(id)
	if id == m.activeID {
		m.queue = append(m.queue, id)
	} else {
		m.queue = append([]string{id}, m.queue...)
	}
	m.persistLocked(job)
	m.publishStatusLocked(job, "retry")
	m.mu.Unlock()

	m.EnsureProcessing()
	return nil
}

// RemoveJob deletes the job everywhere, including its staged and prepared audio.
func (m *Manager) RemoveJob(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return utils.WrapIfNotNil(fmt.Errorf("%w: %s", ErrJobNotFound, id))
	}

	delete(m.jobs, id)
	delete(m.lastProg, id)
	m.removeFromQueueLocked(id)
	if err := m.store.Remove(m.ctx, id); err != nil {
		logging.NewComponentLogger(m.ctx, "jobs").Errorf("job_store_remove_failed id=%s error=%v", id, err)
	}
	removeFiles(job.SourceRef, job.PreparedRef)
	m.publishLocked()
	return nil
}

// EnsureProcessing starts the scheduler loop when queued work exists and no loop runs.
func (m *Manager) EnsureProcessing() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || m.closed || !m.hasQueuedLocked() {
		return
	}
	m.running = true
	m.wg.Add(1)
	go m.loop()
}

// Restore loads the store and resumes queued work.
func (m *Manager) Restore(ctx context.Context) error {
	if err := m.Load(ctx); err != nil {
		return err
	}
	m.EnsureProcessing()
	return nil
}

// Load rebuilds manager state from the store without starting the loop: jobs whose
// source is gone are purged and jobs interrupted mid-transcription are requeued.
func (m *Manager) Load(ctx context.Context) error {
	log := logging.NewComponentLogger(ctx, "jobs")

	stored, err := m.store.List(ctx)
	if err != nil {
		return utils.WrapIfNotNil(err)
	}
	sort.SliceStable(stored, func(i, j int) bool {
		return stored[i].CreatedAt.Before(stored[j].CreatedAt)
	})

	m.mu.Lock()
	for i := range stored {
		job := stored[i]
		if !fileExists(job.SourceRef) {
			log.Warnf("job_purged id=%s reason=missing_source source=%q", job.ID, job.SourceRef)
			if err := m.store.Remove(ctx, job.ID); err != nil {
				log.Errorf("job_store_remove_failed id=%s error=%v", job.ID, err)
			}
			removeFiles(job.PreparedRef)
			continue
		}
		if job.Status == model.JobStatusTranscribing {
			job.Status = model.JobStatusQueued
			job.Stage = model.StageQueued
			job.Progress = 0
			job.UpdatedAt = m.now()
			if err := m.store.Update(ctx, job); err != nil {
				log.Errorf("job_store_update_failed id=%s error=%v", job.ID, err)
			}
			log.Infof("job_requeued id=%s reason=interrupted", job.ID)
		}

		restored := job
		m.jobs[job.ID] = &restored
		if restored.Status == model.JobStatusQueued && !m.inQueueLocked(job.ID) {
			m.queue = append(m.queue, job.ID)
		}
	}
	m.publishLocked()
	m.mu.Unlock()
	return nil
}

// Jobs returns a snapshot of every job ordered by creation time.
func (m *Manager) Jobs() []model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Job returns a snapshot of one job.
func (m *Manager) Job(id string) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return model.Job{}, utils.WrapIfNotNil(fmt.Errorf("%w: %s", ErrJobNotFound, id))
	}
	return job.Clone(), nil
}

// Subscribe returns a latest-value stream of job snapshots. Slow readers only ever
// see the newest snapshot. The current state is delivered immediately.
func (m *Manager) Subscribe() (<-chan []model.Job, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan []model.Job, 1)
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
		})
	}
}

// WaitForJob blocks until the job reaches a terminal status, the timeout passes or ctx ends.
func (m *Manager) WaitForJob(ctx context.Context, id string, timeout time.Duration) (model.Job, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	snapshots, unsubscribe := m.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return model.Job{}, utils.WrapIfNotNil(fmt.Errorf("%w: %s", ErrWaitTimeout, id))
			}
			return model.Job{}, utils.WrapIfNotNil(ctx.Err())
		case snapshot, ok := <-snapshots:
			if !ok {
				return model.Job{}, utils.WrapIfNotNil(ErrManagerClosed)
			}
			found := false
			for _, job := range snapshot {
				if job.ID != id {
					continue
				}
				found = true
				if job.Status.IsTerminal() {
					return job, nil
				}
			}
			if !found {
				return model.Job{}, utils.WrapIfNotNil(fmt.Errorf("%w: %s", ErrJobNotFound, id))
			}
		}
	}
}

// Close stops the loop after the in-flight job returns and closes every subscription.
// Jobs interrupted by Close stay transcribing in the store and are requeued by Restore.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.mu.Unlock()
}

func (m *Manager) loop() {
	defer m.wg.Done()

	for {
		id, ok := m.dispatchNext()
		if !ok {
			return
		}
		m.process(id)

		select {
		case <-m.ctx.Done():
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

// dispatchNext marks the first queued job transcribing, or stops the loop when none is left.
func (m *Manager) dispatchNext() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.running = false
		return "", false
	}

	for len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]
		job, ok := m.jobs[id]
		if !ok || job.Status != model.JobStatusQueued {
			continue
		}

		job.Status = model.JobStatusTranscribing
		job.Stage = model.StageTranscribing
		job.UpdatedAt = m.now()
		m.activeID = id
		m.persistLocked(job)
		m.publishStatusLocked(job, "")
		return id, true
	}

	m.running = false
	return "", false
}

type dispatch struct {
	job       model.Job
	settings  model.Settings
	engineCtx model.EngineContext
	res       resolver.Resolution
}

func (m *Manager) process(id string) {
	ctx := m.ctx
	log := logging.NewComponentLogger(ctx, "jobs").WithField("job_id", id)

	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.activeID = ""
		m.mu.Unlock()
		return
	}
	d := dispatch{job: job.Clone()}
	m.mu.Unlock()

	d.res = resolver.Resolve(ctx, m.cfg.Resolver())
	d.settings = m.cfg.Settings()
	d.settings.DurationEstimate = d.job.Duration
	d.engineCtx = engineContextFor(d.res, d.settings)

	audioPath, err := m.ensurePrepared(ctx, &d.job)
	if err != nil {
		m.finish(ctx, id, model.Result{}, err)
		return
	}

	log.Infof("job_dispatch provider=%s allow_fallback=%v downgraded=%v", d.res.Provider, d.res.AllowFallback, d.res.Downgraded)
	result, err := m.runEngine(ctx, d.res.Provider, audioPath, d.settings, d.engineCtx, id)

	canFallback := err != nil && d.res.Provider.IsRemote() && d.res.AllowFallback && ctx.Err() == nil
	if canFallback && !m.stillTranscribing(id) {
		log.Infof("job_fallback_skipped from=%s reason=no_longer_transcribing", d.res.Provider)
		canFallback = false
	}
	if canFallback {
		log.Warnf("job_fallback from=%s error=%v", d.res.Provider, err)
		m.markFallback(id, d.res.Provider, err)

		localCtx := engineContextFor(resolver.Resolution{Provider: model.ProviderLocal}, d.settings)
		fallbackResult, fallbackErr := m.runEngine(ctx, model.ProviderLocal, audioPath, d.settings, localCtx, id)
		if fallbackErr == nil {
			if fallbackResult.Metadata == nil {
				fallbackResult.Metadata = model.ResultMetadata{}
			}
			fallbackResult.Metadata[model.MetadataKeyFallbackFrom] = string(d.res.Provider)
			fallbackResult.Metadata[model.MetadataKeyFallbackError] = model.UserMessage(err)
		}
		result, err = fallbackResult, fallbackErr
	}

	m.finish(ctx, id, result, err)
}

// runEngine calls the engine for provider, turning a panic into an inference failure.
func (m *Manager) runEngine(
	ctx context.Context,
	provider model.Provider,
	audioPath string,
	settings model.Settings,
	engineCtx model.EngineContext,
	jobID string,
) (result model.Result, err error) {
	engine, ok := m.engines[provider]
	if !ok {
		return model.Result{}, utils.WrapIfNotNil(fmt.Errorf("%w: no engine registered for %s", model.ErrModelUnavailable, provider))
	}

	defer func() {
		if r := recover(); r != nil {
			log := logging.NewComponentLogger(ctx, "jobs").WithField("job_id", jobID)
			log.Errorf("engine_panic provider=%s panic=%v", provider, r)
			utils.PrintStack("engine panic", log)
			result = model.Result{}
			err = utils.PanicError(r, model.ErrInferenceFailure)
		}
	}()

	return engine.Transcribe(ctx, audioPath, settings, engineCtx, func(p float64) {
		m.applyProgress(jobID, p)
	})
}

// ensurePrepared re-runs audio preparation when the prepared file has gone missing.
func (m *Manager) ensurePrepared(ctx context.Context, job *model.Job) (string, error) {
	if fileExists(job.PreparedRef) {
		return job.PreparedRef, nil
	}
	if !fileExists(job.SourceRef) {
		return "", utils.WrapIfNotNil(fmt.Errorf("%w: %s", model.ErrMissingSourceFile, job.SourceRef))
	}

	prepared, err := m.preparer.Prepare(ctx, job.SourceRef)
	if err != nil {
		return "", utils.WrapIfNotNil(err)
	}

	m.mu.Lock()
	if live, ok := m.jobs[job.ID]; ok {
		live.PreparedRef = prepared.Path
		live.Duration = prepared.Duration
		m.persistLocked(live)
	}
	m.mu.Unlock()

	job.PreparedRef = prepared.Path
	job.Duration = prepared.Duration
	return prepared.Path, nil
}

func (m *Manager) applyProgress(id string, progress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || id != m.activeID || job.Status != model.JobStatusTranscribing {
		return
	}
	if progress > m.cfg.ProgressCap {
		progress = m.cfg.ProgressCap
	}
	if progress <= job.Progress {
		return
	}

	job.Progress = progress
	job.UpdatedAt = m.now()
	if progress-m.lastProg[id] >= progressEventStep {
		m.lastProg[id] = progress
		m.events.Publish(Event{JobID: id, Type: EventTypeProgress, Status: job.Status, Progress: progress})
	}
	m.publishLocked()
}

// stillTranscribing reports whether the job was neither cancelled, retried nor removed
// while its engine call ran.
func (m *Manager) stillTranscribing(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	return ok && job.Status == model.JobStatusTranscribing
}

func (m *Manager) markFallback(id string, from model.Provider, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events.Publish(Event{
		JobID:    id,
		Type:     EventTypeFallback,
		Provider: from,
		Message:  model.UserMessage(cause),
	})

	job, ok := m.jobs[id]
	if !ok || job.Status != model.JobStatusTranscribing {
		return
	}
	job.Stage = model.StageFallback
	job.UpdatedAt = m.now()
	m.publishLocked()
}

// finish records the outcome of the engine call. The outcome wins over a cancellation
// that arrived mid-flight, but is discarded when the job was retried or removed meanwhile.
func (m *Manager) finish(ctx context.Context, id string, result model.Result, runErr error) {
	log := logging.NewComponentLogger(ctx, "jobs").WithField("job_id", id)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID == id {
		m.activeID = ""
	}
	delete(m.lastProg, id)

	job, ok := m.jobs[id]
	if !ok {
		log.Infof("job_result_discarded reason=removed")
		return
	}
	if job.Status == model.JobStatusQueued {
		log.Infof("job_result_discarded reason=retried")
		return
	}
	if m.closed && ctx.Err() != nil {
		log.Infof("job_interrupted reason=shutdown")
		return
	}

	job.UpdatedAt = m.now()
	if runErr != nil {
		job.Status = model.JobStatusFailed
		job.Stage = model.StageFailed
		job.Error = model.UserMessage(runErr)
		job.Result = nil
		log.Errorf("job_failed error=%v", runErr)
		m.events.Publish(Event{JobID: id, Type: EventTypeError, Status: job.Status, Message: job.Error})
		m.persistLocked(job)
		m.publishStatusLocked(job, job.Error)
		return
	}

	stored := result.Clone()
	job.Status = model.JobStatusCompleted
	job.Stage = model.StageDone
	job.Progress = 1
	job.Error = ""
	job.Result = &stored
	log.Infof("job_completed provider=%s segments=%d", stored.Provider, len(stored.Segments))
	m.persistLocked(job)
	m.publishStatusLocked(job, "")

	m.wg.Add(1)
	go m.index(id, job.Filename, stored.Clone())
}

func (m *Manager) index(id string, filename string, result model.Result) {
	defer m.wg.Done()

	ctx := context.WithoutCancel(m.ctx)
	metadata := map[string]string{
		"job_id":   id,
		"filename": filename,
		"provider": string(result.Provider),
		"language": result.Language,
	}
	if err := m.indexer.Index(ctx, result, metadata); err != nil {
		logging.NewComponentLogger(ctx, "jobs").Errorf("job_index_failed job_id=%s error=%v", id, err)
		m.events.Publish(Event{JobID: id, Type: EventTypeIndexError, Message: err.Error()})
	}
}

func engineContextFor(res resolver.Resolution, settings model.Settings) model.EngineContext {
	engineCtx := model.EngineContext{
		PreferredTask: settings.EffectiveTask(),
		Credential:    res.Credential,
	}
	// Settings.ModelRef names the on-device model; remote engines use their configured model.
	if res.Provider == model.ProviderLocal {
		engineCtx.ModelRef = settings.ModelRef
	}
	return engineCtx
}

func (m *Manager) persistLocked(job *model.Job) {
	if err := m.store.Update(m.ctx, job.Clone()); err != nil {
		logging.NewComponentLogger(m.ctx, "jobs").Errorf("job_store_update_failed id=%s error=%v", job.ID, err)
	}
}

func (m *Manager) publishStatusLocked(job *model.Job, message string) {
	m.events.Publish(Event{JobID: job.ID, Type: EventTypeStatus, Status: job.Status, Message: message})
	m.publishLocked()
}

func (m *Manager) publishLocked() {
	if len(m.subs) == 0 {
		return
	}
	snapshot := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- cloneJobs(snapshot)
	}
}

func (m *Manager) snapshotLocked() []model.Job {
	out := make([]model.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) hasQueuedLocked() bool {
	for _, id := range m.queue {
		if job, ok := m.jobs[id]; ok && job.Status == model.JobStatusQueued {
			return true
		}
	}
	return false
}

func (m *Manager) inQueueLocked(id string) bool {
	for _, queued := range m.queue {
		if queued == id {
			return true
		}
	}
	return false
}

func (m *Manager) removeFromQueueLocked(id string) {
	out := m.queue[:0]
	for _, queued := range m.queue {
		if queued != id {
			out = append(out, queued)
		}
	}
	m.queue = out
}

func cloneJobs(jobs []model.Job) []model.Job {
	out := make([]model.Job, len(jobs))
	for i, job := range jobs {
		out[i] = job.Clone()
	}
	return out
}

func copyFile(src string, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func fileExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func removeFiles(paths ...string) {
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		_ = os.Remove(path)
	}
}
