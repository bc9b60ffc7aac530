package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jo-hoe/reelforge/internal/approval"
	"github.com/jo-hoe/reelforge/internal/batch"
	"github.com/jo-hoe/reelforge/internal/common"
	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/dispatch"
	"github.com/jo-hoe/reelforge/internal/jobs"
	"github.com/jo-hoe/reelforge/internal/observability"
	"github.com/jo-hoe/reelforge/internal/publish"
)

type Service struct {
	Log        *slog.Logger
	Cfg        *config.Config
	Store      jobs.Store
	Batches    *batch.Factory
	Dispatcher dispatch.Runner
	Approvals  *approval.Gate
	// Publisher is nil when no scheduling service is configured.
	Publisher publish.Scheduler
	// Files serves stored artifacts under /files/ when the fs blob backend is used.
	Files http.Handler
	NewID func() string
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	if svc.NewID == nil {
		svc.NewID = uuid.NewString
	}
	r := mux.NewRouter()
	r.HandleFunc(common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc(common.PathBatches, svc.withCommon(svc.handleCreateBatch)).Methods(http.MethodPost)
	r.HandleFunc(common.PathDispatch, svc.withCommon(svc.handleDispatch)).Methods(http.MethodPost)
	r.HandleFunc(common.PathJob, svc.withCommon(svc.handleGetJob)).Methods(http.MethodGet)
	r.HandleFunc(common.PathJobApprovals, svc.withCommon(svc.handleApproval)).Methods(http.MethodPost)
	r.HandleFunc(common.PathVoiceProfiles, svc.withCommon(svc.handleListVoices)).Methods(http.MethodGet)
	r.HandleFunc(common.PathVoiceProfiles, svc.withCommon(svc.handleCreateVoice)).Methods(http.MethodPost)
	r.HandleFunc(common.PathVoiceProfile, svc.withCommon(svc.handleUpdateVoice)).Methods(http.MethodPatch)
	r.HandleFunc(common.PathPublish, svc.withCommon(svc.handlePublish)).Methods(http.MethodPost)
	r.HandleFunc(common.PathPublishEntry, svc.withCommon(svc.handleGetPublish)).Methods(http.MethodGet)
	r.HandleFunc(common.PathCostPresets, svc.withCommon(svc.handleCostPresets)).Methods(http.MethodGet)

	// Artifact URLs are handed to external schedulers, so they are not behind the API key.
	if svc.Files != nil {
		r.PathPrefix(common.PathFiles).Handler(http.StripPrefix(common.PathFiles, svc.Files)).Methods(http.MethodGet, http.MethodHead)
	}

	return &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(r, svc.Log), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
}

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		if max := safeInt64(svc.Cfg.Server.MaxBodySize); max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	}
}

func (svc *Service) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req batch.Request
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, span := observability.StartSpan(r.Context(), "http.create_batch")
	defer span.End()

	res, err := svc.Batches.Create(ctx, req)
	if err != nil {
		svc.fail(w, "create batch", err)
		return
	}
	svc.logger().Info("batch created", "job_id", res.JobID, "created", res.Created, "truncated", res.Truncated)
	writeJSON(w, http.StatusCreated, res)
}

func (svc *Service) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartSpan(r.Context(), "http.dispatch")
	defer span.End()

	res, err := svc.Dispatcher.RunPass(ctx)
	if err != nil {
		svc.fail(w, "dispatch", err)
		return
	}
	if res.Errors == nil {
		res.Errors = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (svc *Service) handleGetJob(w http.ResponseWriter, r *http.Request) {
	d, err := svc.Store.GetJobDetails(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		svc.fail(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, detailsToView(d))
}

// handleCostPresets lists the presets along with the configured batch defaults.
func (svc *Service) handleCostPresets(w http.ResponseWriter, r *http.Request) {
	list := batch.Presets()
	out := make([]presetView, 0, len(list))
	for _, p := range list {
		out = append(out, presetView{
			Name:            p.Name,
			MaxPerOutputUSD: p.MaxPerOutputUSD,
			MaxBatchUSD:     p.MaxBatchUSD,
			DefaultProvider: p.DefaultProvider,
		})
	}
	writeJSON(w, http.StatusOK, costPresetsView{
		DefaultPreset:       svc.Cfg.Batch.DefaultCostPreset,
		DefaultWorkflowMode: svc.Cfg.Batch.DefaultWorkflowMode,
		Presets:             out,
	})
}

type approvalRequest struct {
	ItemID string `json:"itemId"`
	Action string `json:"action"`
	Note   string `json:"note"`
}

func (svc *Service) handleApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := svc.Approvals.Decide(r.Context(), approval.Decision{
		JobID:  mux.Vars(r)["id"],
		ItemID: req.ItemID,
		Action: approval.Action(req.Action),
		Note:   req.Note,
	})
	if err != nil {
		svc.fail(w, "approval", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "jobStatus": string(status)})
}

func (svc *Service) handleListVoices(w http.ResponseWriter, r *http.Request) {
	list, err := svc.Store.ListVoiceProfiles(r.Context())
	if err != nil {
		svc.fail(w, "list voice profiles", err)
		return
	}
	out := make([]voiceProfileView, 0, len(list))
	for _, p := range list {
		out = append(out, voiceToView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"voiceProfiles": out})
}

type voiceRequest struct {
	Name            *string        `json:"name"`
	Provider        string         `json:"provider"`
	ExternalVoiceID *string        `json:"externalVoiceId"`
	IsDefault       *bool          `json:"isDefault"`
	Settings        map[string]any `json:"settings"`
}

func (svc *Service) handleCreateVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p := &jobs.VoiceProfile{
		ID:              svc.NewID(),
		Name:            deref(req.Name),
		Provider:        req.Provider,
		ExternalVoiceID: deref(req.ExternalVoiceID),
		IsDefault:       req.IsDefault != nil && *req.IsDefault,
		Settings:        req.Settings,
	}
	if err := svc.Store.CreateVoiceProfile(r.Context(), p); err != nil {
		svc.fail(w, "create voice profile", err)
		return
	}
	created, err := svc.Store.GetVoiceProfile(r.Context(), p.ID)
	if err != nil {
		svc.fail(w, "create voice profile", err)
		return
	}
	writeJSON(w, http.StatusCreated, voiceToView(created))
}

func (svc *Service) handleUpdateVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	err := svc.Store.UpdateVoiceProfile(r.Context(), id, jobs.VoiceProfileUpdate{
		Name:            req.Name,
		ExternalVoiceID: req.ExternalVoiceID,
		IsDefault:       req.IsDefault,
		Settings:        req.Settings,
	})
	if err != nil {
		svc.fail(w, "update voice profile", err)
		return
	}
	updated, err := svc.Store.GetVoiceProfile(r.Context(), id)
	if err != nil {
		svc.fail(w, "update voice profile", err)
		return
	}
	writeJSON(w, http.StatusOK, voiceToView(updated))
}

type publishRequest struct {
	OutputID     string `json:"outputId"`
	Channel      string `json:"channel"`
	Caption      string `json:"caption"`
	ScheduledFor string `json:"scheduledFor"`
}

func (svc *Service) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.OutputID) == "" || strings.TrimSpace(req.Caption) == "" {
		writeError(w, http.StatusBadRequest, "outputId and caption are required")
		return
	}
	channel, err := publish.ParseChannel(req.Channel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	when, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledFor))
	if err != nil {
		writeError(w, http.StatusBadRequest, "scheduledFor must be an RFC3339 timestamp")
		return
	}
	if svc.Publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "publishing is not configured")
		return
	}
	ctx, span := observability.StartSpan(r.Context(), "http.publish")
	defer span.End()

	out, err := svc.Store.GetOutput(ctx, req.OutputID)
	if err != nil {
		svc.fail(w, "publish", err)
		return
	}

	entry := &jobs.PublishEntry{
		ID:           svc.NewID(),
		OutputID:     out.ID,
		Channel:      string(channel),
		ScheduledFor: when.UTC(),
		Payload:      map[string]any{"caption": req.Caption, "mediaUrl": out.URL},
	}
	res, schedErr := svc.Publisher.Schedule(ctx, publish.ScheduleRequest{
		Channel:      channel,
		MediaURL:     out.URL,
		Caption:      req.Caption,
		ScheduledFor: entry.ScheduledFor,
	})
	if schedErr != nil {
		msg := schedErr.Error()
		entry.Status = common.PublishFailed
		entry.Error = &msg
		if err := svc.Store.CreatePublishEntry(ctx, entry); err != nil {
			svc.fail(w, "publish", err)
			return
		}
		svc.logger().Warn("publish failed", "output_id", out.ID, "channel", channel, "error", schedErr)
		writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": msg, "publishId": entry.ID})
		return
	}

	entry.Status = res.Status
	if entry.Status == "" {
		entry.Status = common.PublishScheduled
	}
	if res.ExternalPostID != "" {
		entry.ExternalPostID = &res.ExternalPostID
	}
	if res.Raw != nil {
		entry.Payload["response"] = res.Raw
	}
	if err := svc.Store.CreatePublishEntry(ctx, entry); err != nil {
		svc.fail(w, "publish", err)
		return
	}
	svc.logger().Info("publish scheduled", "publish_id", entry.ID, "external_post_id", res.ExternalPostID)
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "publishId": entry.ID, "externalPostId": res.ExternalPostID})
}

// handleGetPublish returns the entry, refreshing its status from the scheduler
// first when the post has an external id.
func (svc *Service) handleGetPublish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	entry, err := svc.Store.GetPublishEntry(ctx, id)
	if err != nil {
		svc.fail(w, "get publish entry", err)
		return
	}
	if svc.Publisher != nil && entry.ExternalPostID != nil && entry.Status != common.PublishFailed {
		status, err := svc.Publisher.CheckStatus(ctx, *entry.ExternalPostID)
		switch {
		case err != nil:
			svc.logger().Warn("publish status check failed", "publish_id", id, "error", err)
		case status != "" && status != entry.Status:
			if err := svc.Store.UpdatePublishStatus(ctx, id, status, nil); err != nil {
				svc.fail(w, "get publish entry", err)
				return
			}
			if entry, err = svc.Store.GetPublishEntry(ctx, id); err != nil {
				svc.fail(w, "get publish entry", err)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, publishToView(entry))
}

// fail maps domain errors onto status codes. Unexpected errors are logged and
// reported without detail.
func (svc *Service) fail(w http.ResponseWriter, op string, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case jobs.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, approval.ErrNotPending):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	default:
		svc.logger().Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (svc *Service) logger() *slog.Logger {
	if svc.Log == nil {
		return discardLogger()
	}
	return svc.Log
}

// decodeBody reads a JSON object. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
	return false
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(common.HeaderContentType, common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	if log == nil {
		log = discardLogger()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	if log == nil {
		log = discardLogger()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic in handler", "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
