package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jo-hoe/reelforge/internal/batch"
	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/jobs"
	"github.com/jo-hoe/reelforge/internal/narration"
	"github.com/jo-hoe/reelforge/internal/provider"
	"github.com/jo-hoe/reelforge/internal/provider/mock"
	"github.com/jo-hoe/reelforge/internal/storage"
)

type fakeVideo struct {
	tag     provider.Tag
	create  func(prompt string, seconds int) (provider.Task, error)
	poll    func(rawID string) (provider.Task, error)
	creates atomic.Int32
	polls   atomic.Int32
}

func (f *fakeVideo) Name() provider.Tag { return f.tag }
func (f *fakeVideo) Configured() bool   { return true }

func (f *fakeVideo) CreateTask(_ context.Context, prompt string, seconds int) (provider.Task, error) {
	f.creates.Add(1)
	return f.create(prompt, seconds)
}

func (f *fakeVideo) PollTask(_ context.Context, rawID string) (provider.Task, error) {
	f.polls.Add(1)
	return f.poll(rawID)
}

type fakeNarrator struct {
	err   error
	calls atomic.Int32
}

func (n *fakeNarrator) Synthesize(_ context.Context, voiceID, text, key string) (string, error) {
	n.calls.Add(1)
	if n.err != nil {
		return "", n.err
	}
	return "https://cdn.test/" + key, nil
}

var _ narration.Synthesizer = (*fakeNarrator)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDispatcher(t *testing.T, videos ...provider.Video) (*Dispatcher, *jobs.SQLiteStore) {
	t.Helper()
	store, err := jobs.NewSQLiteStore(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	reg := provider.NewRegistry()
	for _, v := range videos {
		reg.Add(v)
	}
	return New(testLogger(), nil, store, reg, nil, storage.Inline{}), store
}

func seed(t *testing.T, store jobs.Store, voiceProfileID *string, items ...*jobs.Item) {
	t.Helper()
	job := &jobs.Job{ID: "job-1", VoiceProfileID: voiceProfileID}
	for i, it := range items {
		it.JobID = job.ID
		if it.ID == "" {
			it.ID = fmt.Sprintf("item-%d", i)
		}
		if it.Status == "" {
			it.Status = jobs.ItemQueued
		}
		job.RequestedCount++
		if it.Mode == jobs.ModeA {
			job.ACount++
		} else {
			job.BCount++
		}
	}
	if err := store.CreateBatch(context.Background(), job, items); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
}

func mustItem(t *testing.T, store jobs.Store, id string) *jobs.Item {
	t.Helper()
	it, err := store.GetJobItem(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJobItem(%s): %v", id, err)
	}
	return it
}

func outputsOf(t *testing.T, store jobs.Store, itemID string) []*jobs.Output {
	t.Helper()
	d, err := store.GetJobDetails(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJobDetails: %v", err)
	}
	var out []*jobs.Output
	for _, o := range d.Outputs {
		if o.ItemID == itemID {
			out = append(out, o)
		}
	}
	return out
}

func runPass(t *testing.T, d *Dispatcher) Result {
	t.Helper()
	res, err := d.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	return res
}

func TestRunPass_ModeAWithoutVoiceProfile(t *testing.T) {
	d, store := newTestDispatcher(t)
	d.Narrator = &fakeNarrator{}
	seed(t, store, nil, &jobs.Item{ID: "a1", Mode: jobs.ModeA, Concept: jobs.Concept{"hook": "Stop scrolling"}})

	res := runPass(t, d)
	if res.Processed != 1 || len(res.Errors) != 0 || res.Skipped {
		t.Fatalf("unexpected result: %+v", res)
	}
	if it := mustItem(t, store, "a1"); it.Status != jobs.ItemCompleted {
		t.Fatalf("status = %s", it.Status)
	}
	outs := outputsOf(t, store, "a1")
	if len(outs) != 1 || outs[0].Type != jobs.OutputEditPack {
		t.Fatalf("outputs = %+v", outs)
	}
	if !strings.HasPrefix(outs[0].URL, "data:application/json;base64,") {
		t.Fatalf("editpack url = %q", outs[0].URL)
	}
	job, _ := store.GetJob(context.Background(), "job-1")
	if job.Status != jobs.JobCompleted {
		t.Fatalf("job status = %s", job.Status)
	}
}

func createProfile(t *testing.T, store jobs.Store) *string {
	t.Helper()
	p := &jobs.VoiceProfile{ID: "vp-1", Name: "Narrator", ExternalVoiceID: "el-voice"}
	if err := store.CreateVoiceProfile(context.Background(), p); err != nil {
		t.Fatalf("CreateVoiceProfile: %v", err)
	}
	return &p.ID
}

func TestRunPass_ModeANarrationFailureStillCompletes(t *testing.T) {
	d, store := newTestDispatcher(t)
	n := &fakeNarrator{err: errors.New("quota exceeded")}
	d.Narrator = n
	seed(t, store, createProfile(t, store), &jobs.Item{ID: "a1", Mode: jobs.ModeA, Concept: jobs.Concept{"hook": "hi"}})

	res := runPass(t, d)
	if res.Processed != 1 {
		t.Fatalf("processed = %d", res.Processed)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "quota exceeded") {
		t.Fatalf("errors = %v", res.Errors)
	}
	if n.calls.Load() != 1 {
		t.Fatalf("narrator calls = %d", n.calls.Load())
	}
	if it := mustItem(t, store, "a1"); it.Status != jobs.ItemCompleted {
		t.Fatalf("status = %s", it.Status)
	}
	if outs := outputsOf(t, store, "a1"); len(outs) != 1 || outs[0].Type != jobs.OutputEditPack {
		t.Fatalf("outputs = %+v", outs)
	}
}

func TestRunPass_ModeAWithVoiceover(t *testing.T) {
	d, store := newTestDispatcher(t)
	d.Narrator = &fakeNarrator{}
	seed(t, store, createProfile(t, store), &jobs.Item{ID: "a1", Mode: jobs.ModeA})

	res := runPass(t, d)
	if res.Processed != 1 || len(res.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	outs := outputsOf(t, store, "a1")
	if len(outs) != 2 {
		t.Fatalf("outputs = %+v", outs)
	}
	var voice *jobs.Output
	for _, o := range outs {
		if o.Type == jobs.OutputVoiceover {
			voice = o
		}
	}
	if voice == nil {
		t.Fatalf("no voiceover output in %+v", outs)
	}
	if voice.Meta["voiceProfileId"] != "vp-1" || voice.Meta["source"] != "elevenlabs" {
		t.Fatalf("voiceover meta = %v", voice.Meta)
	}
}

func TestRunPass_ModeBCreateThenPoll(t *testing.T) {
	var done atomic.Bool
	v := &fakeVideo{
		tag: provider.Gemini,
		create: func(prompt string, seconds int) (provider.Task, error) {
			return provider.Task{ID: "operations/op-1", Status: provider.StatusProcessing}, nil
		},
		poll: func(rawID string) (provider.Task, error) {
			if rawID != "operations/op-1" {
				return provider.Task{}, fmt.Errorf("unexpected id %q", rawID)
			}
			if !done.Load() {
				return provider.Task{ID: rawID, Status: provider.StatusProcessing}, nil
			}
			return provider.Task{ID: rawID, Status: provider.StatusCompleted, OutputURL: "https://cdn.test/v.mp4"}, nil
		},
	}
	d, store := newTestDispatcher(t, v)
	seed(t, store, nil, &jobs.Item{ID: "b1", Mode: jobs.ModeB, Concept: jobs.Concept{"hook": "h", "videoProvider": "gemini"}})

	res := runPass(t, d)
	if res.Processed != 1 {
		t.Fatalf("pass 1: %+v", res)
	}
	it := mustItem(t, store, "b1")
	if it.Status != jobs.ItemAwaitingRemote || it.RemoteTaskID == nil || *it.RemoteTaskID != "gemini:operations/op-1" {
		t.Fatalf("after create: status=%s task=%v", it.Status, it.RemoteTaskID)
	}

	// still processing: nothing changes
	runPass(t, d)
	if it := mustItem(t, store, "b1"); it.Status != jobs.ItemAwaitingRemote {
		t.Fatalf("status = %s", it.Status)
	}
	job, _ := store.GetJob(context.Background(), "job-1")
	if job.Status != jobs.JobRunning {
		t.Fatalf("job status = %s", job.Status)
	}

	done.Store(true)
	runPass(t, d)
	if it := mustItem(t, store, "b1"); it.Status != jobs.ItemCompleted {
		t.Fatalf("status = %s", it.Status)
	}
	outs := outputsOf(t, store, "b1")
	if len(outs) != 1 || outs[0].Type != jobs.OutputVideo || outs[0].Meta["polled"] != true {
		t.Fatalf("outputs = %+v", outs)
	}
	if v.creates.Load() != 1 || v.polls.Load() != 2 {
		t.Fatalf("creates=%d polls=%d", v.creates.Load(), v.polls.Load())
	}

	// completed items are never claimed again
	runPass(t, d)
	if len(outputsOf(t, store, "b1")) != 1 {
		t.Fatalf("completed item produced another output")
	}
}

func TestRunPass_ModeBImmediateCompletion(t *testing.T) {
	v := &fakeVideo{
		tag: provider.OpenAI,
		create: func(string, int) (provider.Task, error) {
			return provider.Task{ID: "video_1", Status: provider.StatusCompleted, OutputURL: "https://cdn.test/1.mp4"}, nil
		},
	}
	d, store := newTestDispatcher(t, v)
	seed(t, store, nil, &jobs.Item{ID: "b1", Mode: jobs.ModeB})

	runPass(t, d)
	it := mustItem(t, store, "b1")
	if it.Status != jobs.ItemCompleted || it.RemoteTaskID != nil {
		t.Fatalf("status=%s task=%v", it.Status, it.RemoteTaskID)
	}
	outs := outputsOf(t, store, "b1")
	if len(outs) != 1 || outs[0].Meta["immediate"] != true || outs[0].Meta["source"] != "openai" {
		t.Fatalf("outputs = %+v", outs)
	}
}

func TestRunPass_ModeBFailures(t *testing.T) {
	v := &fakeVideo{
		tag: provider.OpenAI,
		create: func(prompt string, _ int) (provider.Task, error) {
			switch prompt {
			case "reject":
				return provider.Task{Status: provider.StatusFailed, Error: "prompt rejected"}, nil
			case "network":
				return provider.Task{}, errors.New("connection reset")
			case "panic":
				panic("adapter bug")
			default:
				return provider.Task{ID: "video_ok", Status: provider.StatusQueued}, nil
			}
		},
	}
	d, store := newTestDispatcher(t, v)
	seed(t, store, nil,
		&jobs.Item{ID: "b-reject", Mode: jobs.ModeB, Concept: jobs.Concept{"hook": "reject"}},
		&jobs.Item{ID: "b-network", Mode: jobs.ModeB, Concept: jobs.Concept{"hook": "network"}},
		&jobs.Item{ID: "b-panic", Mode: jobs.ModeB, Concept: jobs.Concept{"hook": "panic"}},
		&jobs.Item{ID: "b-ok", Mode: jobs.ModeB, Concept: jobs.Concept{"hook": "fine"}},
	)

	res := runPass(t, d)
	if res.Processed != 1 || len(res.Errors) != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	wantErr := map[string]string{
		"b-reject":  "prompt rejected",
		"b-network": "connection reset",
		"b-panic":   "panic: adapter bug",
	}
	for id, want := range wantErr {
		it := mustItem(t, store, id)
		if it.Status != jobs.ItemFailed || it.Error == nil || !strings.Contains(*it.Error, want) {
			t.Fatalf("%s: status=%s err=%v", id, it.Status, it.Error)
		}
	}
	if it := mustItem(t, store, "b-ok"); it.Status != jobs.ItemAwaitingRemote || *it.RemoteTaskID != "openai:video_ok" {
		t.Fatalf("b-ok: status=%s task=%v", it.Status, it.RemoteTaskID)
	}
}

func TestRunPass_PollFailureAndLegacyID(t *testing.T) {
	v := &fakeVideo{
		tag: provider.OpenAI,
		poll: func(rawID string) (provider.Task, error) {
			return provider.Task{ID: rawID, Status: provider.StatusFailed, Error: "moderation"}, nil
		},
	}
	d, store := newTestDispatcher(t, v)
	seed(t, store, nil, &jobs.Item{ID: "b1", Mode: jobs.ModeB})
	// an untagged id from before provider routing belongs to openai
	if err := store.SetJobItemRemoteTask(context.Background(), "b1", "video_legacy"); err != nil {
		t.Fatalf("SetJobItemRemoteTask: %v", err)
	}

	res := runPass(t, d)
	if res.Processed != 1 || len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "moderation") {
		t.Fatalf("unexpected result: %+v", res)
	}
	if it := mustItem(t, store, "b1"); it.Status != jobs.ItemFailed {
		t.Fatalf("status = %s", it.Status)
	}
	job, _ := store.GetJob(context.Background(), "job-1")
	if job.Status != jobs.JobFailed {
		t.Fatalf("job status = %s", job.Status)
	}
}

func TestRunPass_LockHeldSkips(t *testing.T) {
	d, store := newTestDispatcher(t)
	seed(t, store, nil, &jobs.Item{ID: "a1", Mode: jobs.ModeA})
	ctx := context.Background()

	ok, err := store.TryAcquireLock(ctx, d.LockName)
	if err != nil || !ok {
		t.Fatalf("TryAcquireLock: %v %v", ok, err)
	}
	res := runPass(t, d)
	if !res.Skipped || res.Processed != 0 || len(res.Errors) != 1 || res.Errors[0] != "worker already running" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if it := mustItem(t, store, "a1"); it.Status != jobs.ItemQueued {
		t.Fatalf("item touched while lock held: %s", it.Status)
	}

	if err := store.ReleaseLock(ctx, d.LockName); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if res := runPass(t, d); res.Skipped || res.Processed != 1 {
		t.Fatalf("unexpected result after release: %+v", res)
	}
	// the pass released its own lock
	if ok, _ := store.TryAcquireLock(ctx, d.LockName); !ok {
		t.Fatalf("lock still held after pass")
	}
}

func TestRunPass_CancelledPassRequeues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	v := &fakeVideo{
		tag: provider.OpenAI,
		create: func(string, int) (provider.Task, error) {
			cancel()
			return provider.Task{}, context.Canceled
		},
	}
	d, store := newTestDispatcher(t, v)
	seed(t, store, nil,
		&jobs.Item{ID: "b1", Mode: jobs.ModeB},
		&jobs.Item{ID: "b2", Mode: jobs.ModeB},
	)

	res, err := d.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if res.Processed != 0 {
		t.Fatalf("processed = %d", res.Processed)
	}
	for _, id := range []string{"b1", "b2"} {
		if it := mustItem(t, store, id); it.Status != jobs.ItemQueued {
			t.Fatalf("%s status = %s, want queued", id, it.Status)
		}
	}
	if ok, _ := store.TryAcquireLock(context.Background(), d.LockName); !ok {
		t.Fatalf("lock not released after cancelled pass")
	}
}

func TestEndToEnd_BatchThroughTwoPasses(t *testing.T) {
	d, store := newTestDispatcher(t, mock.New(config.MockVideoSettings{Enabled: true, PollsToFinish: 1}))
	d.DefaultProvider = "mock"
	ctx := context.Background()

	f := batch.New(testLogger(), config.BatchConfig{DefaultWorkflowMode: "autonomous", DefaultCostPreset: "balanced"}, store)
	created, err := f.Create(ctx, batch.Request{Count: 2, ACount: 1, BCount: 1, VariantCount: 1, VideoProvider: "mock"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Created != 2 {
		t.Fatalf("created = %d", created.Created)
	}

	byMode := func() map[jobs.Mode]*jobs.Item {
		det, err := store.GetJobDetails(ctx, created.JobID)
		if err != nil {
			t.Fatalf("GetJobDetails: %v", err)
		}
		m := map[jobs.Mode]*jobs.Item{}
		for _, it := range det.Items {
			m[it.Mode] = it
		}
		return m
	}
	items := byMode()
	if items[jobs.ModeA].Status != jobs.ItemQueued || items[jobs.ModeB].Status != jobs.ItemQueued {
		t.Fatalf("initial statuses A=%s B=%s", items[jobs.ModeA].Status, items[jobs.ModeB].Status)
	}

	if res := runPass(t, d); res.Processed != 2 || len(res.Errors) != 0 {
		t.Fatalf("pass 1: %+v", res)
	}
	items = byMode()
	if items[jobs.ModeA].Status != jobs.ItemCompleted || items[jobs.ModeB].Status != jobs.ItemAwaitingRemote {
		t.Fatalf("after pass 1 A=%s B=%s", items[jobs.ModeA].Status, items[jobs.ModeB].Status)
	}
	if !strings.HasPrefix(*items[jobs.ModeB].RemoteTaskID, "mock:mock_") {
		t.Fatalf("remote task = %s", *items[jobs.ModeB].RemoteTaskID)
	}

	if res := runPass(t, d); res.Processed != 1 {
		t.Fatalf("pass 2: %+v", res)
	}
	det, err := store.GetJobDetails(ctx, created.JobID)
	if err != nil {
		t.Fatalf("GetJobDetails: %v", err)
	}
	if det.Job.Status != jobs.JobCompleted {
		t.Fatalf("job status = %s", det.Job.Status)
	}
	groups := det.OutputsByType()
	if len(groups[jobs.OutputEditPack]) != 1 || len(groups[jobs.OutputVideo]) != 1 {
		t.Fatalf("outputs = %v", groups)
	}
}
