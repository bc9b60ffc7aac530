package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jo-hoe/reelforge/internal/batch"
	"github.com/jo-hoe/reelforge/internal/common"
	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/jobs"
	"github.com/jo-hoe/reelforge/internal/lock"
	"github.com/jo-hoe/reelforge/internal/narration"
	"github.com/jo-hoe/reelforge/internal/observability"
	"github.com/jo-hoe/reelforge/internal/provider"
	"github.com/jo-hoe/reelforge/internal/storage"
)

const (
	defaultPrompt    = "Create a viral short-form business video"
	defaultVoiceText = "Here is your high-retention short-form script draft ready for your own footage."
	defaultSeconds   = 10

	releaseTimeout = 5 * time.Second
)

// Result summarizes one dispatch pass.
type Result struct {
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`
	Skipped   bool     `json:"skipped"`
}

// Dispatcher claims eligible items and drives each one step through its lifecycle.
type Dispatcher struct {
	Log    *slog.Logger
	Store  jobs.Store
	Locker lock.Locker
	Videos *provider.Registry
	// Narrator is optional; without it mode A items get no voiceover.
	Narrator narration.Synthesizer
	Blobs    storage.Blob

	LockName        string
	BatchSize       int
	DefaultProvider string

	NewID func() string
}

// New builds a Dispatcher that locks through the store. Set Locker to use
// another backend.
func New(log *slog.Logger, cfg *config.Config, store jobs.Store, videos *provider.Registry, narrator narration.Synthesizer, blobs storage.Blob) *Dispatcher {
	d := &Dispatcher{
		Log:             log,
		Store:           store,
		Locker:          lock.StoreLocker{Store: store},
		Videos:          videos,
		Narrator:        narrator,
		Blobs:           blobs,
		LockName:        common.DefaultLockName,
		BatchSize:       common.DefaultClaimLimit,
		DefaultProvider: provider.Auto,
		NewID:           uuid.NewString,
	}
	if cfg != nil {
		if cfg.Worker.LockName != "" {
			d.LockName = cfg.Worker.LockName
		}
		if cfg.Worker.BatchSize > 0 {
			d.BatchSize = cfg.Worker.BatchSize
		}
		if cfg.Video.DefaultProvider != "" {
			d.DefaultProvider = cfg.Video.DefaultProvider
		}
	}
	if d.Blobs == nil {
		d.Blobs = storage.Inline{}
	}
	return d
}

// RunPass performs one dispatch pass. If another pass holds the lock it returns
// immediately with Skipped set. Item failures are reported in Result.Errors; the
// returned error is only set when the pass itself could not run.
func (d *Dispatcher) RunPass(ctx context.Context) (Result, error) {
	ctx, span := observability.StartSpan(ctx, "dispatch.pass", attribute.String("lock", d.LockName))
	defer span.End()

	res := Result{Errors: []string{}}
	ok, err := d.Locker.TryAcquire(ctx, d.LockName)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		d.Log.Debug("dispatch pass skipped, lock held elsewhere", "lock", d.LockName)
		res.Skipped = true
		res.Errors = append(res.Errors, common.MsgWorkerBusy)
		return res, nil
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := d.Locker.Release(rctx, d.LockName); err != nil {
			d.Log.Error("release lock failed", "lock", d.LockName, "err", err)
		}
	}()

	items, err := d.Store.ClaimJobItems(ctx, d.BatchSize)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("claim items: %w", err)
	}
	span.SetAttributes(attribute.Int("claimed", len(items)))

	for i, item := range items {
		if ctx.Err() != nil {
			d.requeue(ctx, items[i:])
			res.Errors = append(res.Errors, fmt.Sprintf("pass interrupted: %v", ctx.Err()))
			break
		}
		warns, err := d.processItem(ctx, item)
		res.Errors = append(res.Errors, warns...)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.Processed++
	}
	d.Log.Info("dispatch pass finished", "claimed", len(items), "processed", res.Processed, "errors", len(res.Errors))
	return res, nil
}

// taskFailure is a failure reported by a video provider on task creation.
type taskFailure struct{ msg string }

func (e *taskFailure) Error() string { return e.msg }

// processItem is the per-item boundary. Returned errors and panics mark the item
// failed; the job status is recomputed on every path.
func (d *Dispatcher) processItem(ctx context.Context, item *jobs.Item) (warns []string, err error) {
	ctx, span := observability.StartSpan(ctx, "dispatch.item",
		attribute.String("job_id", item.JobID),
		attribute.String("item_id", item.ID),
		attribute.String("mode", string(item.Mode)),
	)
	defer span.End()
	log := d.Log.With("job_id", item.JobID, "item_id", item.ID, "mode", item.Mode)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		// Writes below must land even when the pass context was cancelled.
		wctx := context.WithoutCancel(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				d.requeue(wctx, []*jobs.Item{item})
				err = fmt.Errorf("processing interrupted for %s: %w", item.ID, err)
			} else {
				msg := err.Error()
				var tf *taskFailure
				if errors.As(err, &tf) {
					err = fmt.Errorf("B task create failed for %s: %s", item.ID, msg)
				} else {
					err = fmt.Errorf("processing failed for %s: %w", item.ID, err)
				}
				log.Error("item failed", "err", msg)
				if serr := d.Store.SetJobItemStatus(wctx, item.ID, jobs.ItemFailed, &msg); serr != nil {
					log.Error("mark item failed", "err", serr)
				}
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if _, rerr := d.Store.RefreshJobStatus(wctx, item.JobID); rerr != nil {
			log.Error("refresh job status", "err", rerr)
		}
	}()

	switch item.Mode {
	case jobs.ModeA:
		return d.runEditPack(ctx, log, item)
	case jobs.ModeB:
		if item.RemoteTaskID == nil || *item.RemoteTaskID == "" {
			return nil, d.createVideo(ctx, log, item)
		}
		return d.pollVideo(ctx, log, item)
	default:
		return nil, fmt.Errorf("unknown mode %q", item.Mode)
	}
}

// requeue hands claimed but unprocessed items back to the queue.
func (d *Dispatcher) requeue(ctx context.Context, items []*jobs.Item) {
	ctx = context.WithoutCancel(ctx)
	for _, it := range items {
		if it.Status != jobs.ItemProcessing {
			continue
		}
		if err := d.Store.SetJobItemStatus(ctx, it.ID, jobs.ItemQueued, nil); err != nil {
			d.Log.Error("requeue item", "item_id", it.ID, "err", err)
		}
	}
}

// runEditPack stores the item's plan and, when the job has a voice profile,
// a narrated hook. Narration failures are reported but do not fail the item.
func (d *Dispatcher) runEditPack(ctx context.Context, log *slog.Logger, item *jobs.Item) ([]string, error) {
	plan, err := json.MarshalIndent(item.Concept, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode editpack: %w", err)
	}
	url, err := d.Blobs.Put(ctx, storage.Key(item.JobID, item.ID, "a-editpack.json"), common.ContentTypeJSON, plan)
	if err != nil {
		return nil, fmt.Errorf("store editpack: %w", err)
	}
	if err := d.Store.InsertOutput(ctx, &jobs.Output{
		ID:     d.NewID(),
		ItemID: item.ID,
		Type:   jobs.OutputEditPack,
		URL:    url,
		Meta: map[string]any{
			"source":           "worker",
			"qualityScore":     item.QualityScore,
			"estimatedCostUsd": item.EstimatedCostUSD,
		},
	}); err != nil {
		return nil, fmt.Errorf("insert editpack output: %w", err)
	}

	var warns []string
	if w := d.narrate(ctx, log, item); w != "" {
		warns = append(warns, w)
	}
	if err := d.Store.SetJobItemStatus(ctx, item.ID, jobs.ItemCompleted, nil); err != nil {
		return warns, fmt.Errorf("complete item: %w", err)
	}
	log.Info("editpack stored")
	return warns, nil
}

func (d *Dispatcher) narrate(ctx context.Context, log *slog.Logger, item *jobs.Item) string {
	if d.Narrator == nil {
		return ""
	}
	job, err := d.Store.GetJob(ctx, item.JobID)
	if err != nil {
		return fmt.Sprintf("voiceover failed for %s: %v", item.ID, err)
	}
	if job.VoiceProfileID == nil {
		return ""
	}
	profile, err := d.Store.GetVoiceProfile(ctx, *job.VoiceProfileID)
	if errors.Is(err, jobs.ErrNotFound) {
		log.Warn("voice profile missing; skipping voiceover", "voice_profile_id", *job.VoiceProfileID)
		return ""
	}
	if err != nil {
		return fmt.Sprintf("voiceover failed for %s: %v", item.ID, err)
	}

	text := item.Concept.Hook()
	if text == "" {
		text = defaultVoiceText
	}
	url, err := d.Narrator.Synthesize(ctx, profile.ExternalVoiceID, text, storage.Key(item.JobID, item.ID, "a-voiceover.mp3"))
	if err == nil {
		err = d.Store.InsertOutput(ctx, &jobs.Output{
			ID:     d.NewID(),
			ItemID: item.ID,
			Type:   jobs.OutputVoiceover,
			URL:    url,
			Meta: map[string]any{
				"source":           profile.Provider,
				"voiceProfileId":   profile.ID,
				"estimatedCostUsd": batch.EstimateVoiceoverCost(text),
			},
		})
	}
	if err != nil {
		log.Warn("voiceover failed", "voice_profile_id", profile.ID, "err", err)
		return fmt.Sprintf("voiceover failed for %s: %v", item.ID, err)
	}
	return ""
}

func (d *Dispatcher) createVideo(ctx context.Context, log *slog.Logger, item *jobs.Item) error {
	video, err := d.Videos.Resolve(item.Concept.VideoProvider(), d.DefaultProvider)
	if err != nil {
		return err
	}
	prompt := item.Concept.Hook()
	if prompt == "" {
		prompt = defaultPrompt
	}
	task, err := video.CreateTask(ctx, prompt, item.Concept.DurationSeconds(defaultSeconds))
	if err != nil {
		return fmt.Errorf("%s create task: %w", video.Name(), err)
	}

	switch {
	case task.Status == provider.StatusFailed:
		msg := task.Error
		if msg == "" {
			msg = "video task creation failed"
		}
		return &taskFailure{msg: msg}
	case task.Status == provider.StatusCompleted && task.OutputURL != "":
		if err := d.storeVideo(ctx, item, video.Name(), task.OutputURL, "immediate"); err != nil {
			return err
		}
		log.Info("video completed on create", "provider", video.Name())
		return nil
	case task.ID == "":
		return fmt.Errorf("%s returned no task id", video.Name())
	}

	ref := provider.TaskRef{Provider: video.Name(), RawID: task.ID}
	if err := d.Store.SetJobItemRemoteTask(ctx, item.ID, ref.String()); err != nil {
		return fmt.Errorf("record remote task: %w", err)
	}
	log.Info("remote task created", "task", ref.String())
	return nil
}

func (d *Dispatcher) pollVideo(ctx context.Context, log *slog.Logger, item *jobs.Item) ([]string, error) {
	ref, err := provider.ParseTaskRef(*item.RemoteTaskID)
	if err != nil {
		return nil, err
	}
	video, err := d.Videos.ForRef(ref)
	if err != nil {
		return nil, err
	}
	task, err := video.PollTask(ctx, ref.RawID)
	if err != nil {
		return nil, fmt.Errorf("%s poll task: %w", ref.Provider, err)
	}

	switch {
	case task.Status == provider.StatusCompleted && task.OutputURL != "":
		if err := d.storeVideo(ctx, item, ref.Provider, task.OutputURL, "polled"); err != nil {
			return nil, err
		}
		log.Info("remote task completed", "task", ref.String())
	case task.Status == provider.StatusFailed:
		msg := task.Error
		if msg == "" {
			msg = "video task failed"
		}
		if err := d.Store.SetJobItemStatus(ctx, item.ID, jobs.ItemFailed, &msg); err != nil {
			return nil, fmt.Errorf("mark item failed: %w", err)
		}
		log.Warn("remote task failed", "task", ref.String(), "err", msg)
		return []string{fmt.Sprintf("B task failed for %s: %s", item.ID, msg)}, nil
	default:
		log.Debug("remote task pending", "task", ref.String(), "status", task.Status)
	}
	return nil, nil
}

func (d *Dispatcher) storeVideo(ctx context.Context, item *jobs.Item, source provider.Tag, url, how string) error {
	if err := d.Store.InsertOutput(ctx, &jobs.Output{
		ID:     d.NewID(),
		ItemID: item.ID,
		Type:   jobs.OutputVideo,
		URL:    url,
		Meta: map[string]any{
			"source":           string(source),
			how:                true,
			"qualityScore":     item.QualityScore,
			"estimatedCostUsd": item.EstimatedCostUSD,
		},
	}); err != nil {
		return fmt.Errorf("insert video output: %w", err)
	}
	if err := d.Store.SetJobItemStatus(ctx, item.ID, jobs.ItemCompleted, nil); err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	return nil
}
