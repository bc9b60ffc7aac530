package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/jo-hoe/reelforge/internal/app"
	"github.com/jo-hoe/reelforge/internal/approval"
	"github.com/jo-hoe/reelforge/internal/batch"
	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/jobs"
)

type commonFlags struct {
	config  *string
	jsonOut *bool
	verbose *bool
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(flag.CommandLine.Output())
	return fs, commonFlags{
		config:  fs.String("config", "", "config path"),
		jsonOut: fs.Bool("json", false, "print JSON output"),
		verbose: fs.Bool("v", false, "log service activity to stderr"),
	}
}

// open loads config and wires the services. The returned context is cancelled
// on SIGINT so a running dispatch pass can requeue its claimed items.
func open(cf commonFlags) (context.Context, *app.App, func(), error) {
	_ = godotenv.Load()
	cfg, err := config.Load(strings.TrimSpace(*cf.config))
	if err != nil {
		return nil, nil, nil, err
	}
	level := slog.LevelWarn
	if *cf.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a, err := app.New(ctx, log, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ctx, a, func() {
		_ = a.Close()
		cancel()
	}, nil
}

func runDispatch(args []string) error {
	fs, cf := newFlagSet("dispatch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, a, done, err := open(cf)
	if err != nil {
		return err
	}
	defer done()

	res, err := a.Dispatcher.RunPass(ctx)
	if err != nil {
		return err
	}
	if *cf.jsonOut {
		return printJSON(res)
	}
	printDispatch(res)
	return nil
}

func runBatch(args []string) error {
	fs, cf := newFlagSet("batch")
	count := fs.Int("count", 0, "total base concepts (0 = configured default split)")
	aCount := fs.Int("a", 0, "mode A (editpack) concepts")
	bCount := fs.Int("b", 0, "mode B (generated video) concepts")
	mode := fs.String("mode", "", "workflow mode: autonomous|approval")
	provider := fs.String("provider", "", "video provider: auto|openai|gemini|mock")
	variants := fs.Int("variants", 0, "variants per concept (1-6)")
	preset := fs.String("preset", "", "cost preset: cheap|balanced|max_quality")
	voice := fs.String("voice", "", "voice profile id")
	cta := fs.String("cta", "", "brand call to action")
	tone := fs.String("tone", "", "brand tone")
	banned := fs.String("banned", "", "comma separated words to redact")
	trend := fs.String("trend", "", "trend title")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := batch.Request{
		Count:          *count,
		ACount:         *aCount,
		BCount:         *bCount,
		WorkflowMode:   *mode,
		VoiceProfileID: *voice,
		VideoProvider:  *provider,
		VariantCount:   *variants,
		CostPreset:     *preset,
	}
	if req.Count == 0 && (req.ACount > 0 || req.BCount > 0) {
		req.Count = req.ACount + req.BCount
	}
	if *cta != "" || *tone != "" || *banned != "" {
		req.Brand = &batch.Brand{DefaultCTA: *cta, Tone: *tone, BannedWords: splitList(*banned)}
	}
	if *trend != "" {
		req.Trend = &batch.Trend{Title: *trend}
	}

	ctx, a, done, err := open(cf)
	if err != nil {
		return err
	}
	defer done()

	res, err := a.Batches.Create(ctx, req)
	if err != nil {
		return err
	}
	if *cf.jsonOut {
		return printJSON(res)
	}
	fmt.Fprintln(stdout, okStyle.Render("batch created"))
	fmt.Fprintf(stdout, "job_id: %s\n", res.JobID)
	fmt.Fprintf(stdout, "items: %d/%d\n", res.Created, res.Requested)
	if res.Truncated {
		fmt.Fprintln(stdout, warnStyle.Render("budget cap reached; batch was truncated"))
	}
	return nil
}

func runDecision(args []string, action string) error {
	fs, cf := newFlagSet(action)
	note := fs.String("note", "", "optional note stored on the item")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: reelctl %s <job-id> <item-id> [--note text]", action)
	}

	ctx, a, done, err := open(cf)
	if err != nil {
		return err
	}
	defer done()

	status, err := a.Approvals.Decide(ctx, approval.Decision{
		JobID:  fs.Arg(0),
		ItemID: fs.Arg(1),
		Action: approval.Action(action),
		Note:   *note,
	})
	if err != nil {
		return err
	}
	if *cf.jsonOut {
		return printJSON(map[string]any{"ok": true, "jobStatus": status})
	}
	fmt.Fprintf(stdout, "%s %s (job now %s)\n", okStyle.Render(action+"d"), fs.Arg(1), statusStyle(string(status)))
	return nil
}

func runJob(args []string) error {
	fs, cf := newFlagSet("job")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: reelctl job <job-id>")
	}

	ctx, a, done, err := open(cf)
	if err != nil {
		return err
	}
	defer done()

	d, err := a.Store.GetJobDetails(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if *cf.jsonOut {
		return printJSON(map[string]any{"job": d.Job, "items": d.Items, "groups": d.OutputsByType()})
	}
	fmt.Fprintln(stdout, renderJob(d))
	return nil
}

func runVoices(args []string) error {
	if len(args) > 0 && args[0] == "add" {
		return runVoiceAdd(args[1:])
	}
	fs, cf := newFlagSet("voices")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, a, done, err := open(cf)
	if err != nil {
		return err
	}
	defer done()

	list, err := a.Store.ListVoiceProfiles(ctx)
	if err != nil {
		return err
	}
	if *cf.jsonOut {
		return printJSON(list)
	}
	fmt.Fprintln(stdout, renderVoices(list))
	return nil
}

func runVoiceAdd(args []string) error {
	fs, cf := newFlagSet("voices add")
	name := fs.String("name", "", "display name")
	voiceID := fs.String("voice-id", "", "external voice id")
	provider := fs.String("provider", "elevenlabs", "narration provider")
	makeDefault := fs.Bool("default", false, "make this the default profile")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, a, done, err := open(cf)
	if err != nil {
		return err
	}
	defer done()

	p := &jobs.VoiceProfile{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(*name),
		Provider:        strings.TrimSpace(*provider),
		ExternalVoiceID: strings.TrimSpace(*voiceID),
		IsDefault:       *makeDefault,
	}
	if err := a.Store.CreateVoiceProfile(ctx, p); err != nil {
		return err
	}
	if *cf.jsonOut {
		return printJSON(p)
	}
	fmt.Fprintf(stdout, "%s %s (%s)\n", okStyle.Render("voice profile added"), p.ID, p.Name)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
