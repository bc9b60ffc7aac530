package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Tag names a video generation backend.
type Tag string

const (
	OpenAI Tag = "openai"
	Gemini Tag = "gemini"
	Mock   Tag = "mock"
)

// Auto selects gemini when it is configured and openai otherwise.
const Auto = "auto"

// Status is the normalized state of a remote task.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task is the result of creating or polling a remote task. Error is set when the
// provider reported a failure.
type Task struct {
	ID        string
	Status    Status
	OutputURL string
	Error     string
}

// Video creates and polls asynchronous video generation tasks. Transport failures
// are returned as errors; failures reported by the provider come back as a Task
// with StatusFailed.
type Video interface {
	Name() Tag
	// Configured reports whether credentials are present.
	Configured() bool
	CreateTask(ctx context.Context, prompt string, seconds int) (Task, error)
	PollTask(ctx context.Context, rawID string) (Task, error)
}

// TaskRef identifies a remote task together with the provider that owns it.
type TaskRef struct {
	Provider Tag
	RawID    string
}

// String serializes the ref as "{provider}:{rawId}" for storage.
func (r TaskRef) String() string {
	return string(r.Provider) + ":" + r.RawID
}

// ParseTaskRef reads a stored task id. Ids without a known provider prefix are
// treated as openai ids.
func ParseTaskRef(s string) (TaskRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TaskRef{}, errors.New("empty task id")
	}
	if prefix, raw, ok := strings.Cut(s, ":"); ok {
		switch Tag(prefix) {
		case OpenAI, Gemini, Mock:
			if raw == "" {
				return TaskRef{}, fmt.Errorf("task id %q has no raw id", s)
			}
			return TaskRef{Provider: Tag(prefix), RawID: raw}, nil
		}
	}
	return TaskRef{Provider: OpenAI, RawID: s}, nil
}

// ErrNoProvider is returned when no registered adapter can serve a request.
var ErrNoProvider = errors.New("no video provider available")

// Registry holds initialized video adapters by tag.
type Registry struct {
	byTag map[Tag]Video
}

func NewRegistry() *Registry {
	return &Registry{byTag: make(map[Tag]Video)}
}

func (r *Registry) Add(v Video) {
	r.byTag[v.Name()] = v
}

func (r *Registry) Get(tag Tag) (Video, bool) {
	v, ok := r.byTag[tag]
	return v, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byTag))
	for k := range r.byTag {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

// Resolve picks the adapter for a new task. The item's own preference wins when it
// names a provider explicitly; otherwise fallback applies. Unknown values and
// "auto" prefer a configured gemini, then openai.
func (r *Registry) Resolve(itemPref, fallback string) (Video, error) {
	for _, pref := range []string{itemPref, fallback} {
		pref = strings.ToLower(strings.TrimSpace(pref))
		switch Tag(pref) {
		case OpenAI, Gemini, Mock:
			if v, ok := r.byTag[Tag(pref)]; ok {
				return v, nil
			}
			return nil, fmt.Errorf("%w: %s is not registered", ErrNoProvider, pref)
		}
	}
	if v, ok := r.byTag[Gemini]; ok && v.Configured() {
		return v, nil
	}
	if v, ok := r.byTag[OpenAI]; ok {
		return v, nil
	}
	if v, ok := r.byTag[Mock]; ok {
		return v, nil
	}
	return nil, ErrNoProvider
}

// ForRef returns the adapter that owns ref.
func (r *Registry) ForRef(ref TaskRef) (Video, error) {
	v, ok := r.byTag[ref.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not registered", ErrNoProvider, ref.Provider)
	}
	return v, nil
}

// Truncate shortens s for inclusion in error messages.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
