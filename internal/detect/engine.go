package detect

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/peerlens/peerlens/internal/metrics"
)

// Options configures an Engine.
type Options struct {
	// ModelDir is the directory holding model artifact files.
	ModelDir string
	// DefaultModel is used when a request does not name a model.
	DefaultModel string
	// Threshold is the process-default confidence threshold.
	Threshold float64
	// MaxDetections is the process-default result cap.
	MaxDetections int
}

// Engine loads models on demand, caches them, and runs the detection
// pipeline. Loads are single-flight: concurrent requests for the same model
// share one load attempt.
type Engine struct {
	registry *Registry
	backends map[BackendKind]Backend
	opts     Options
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	loaded  map[string]*loadedModel
	pending map[string]*loadCall
}

type loadedModel struct {
	model Model
	desc  Descriptor
	// simulated is set when the artifact was missing and the simulated
	// fallback was substituted. Simulated output is always SSD-shaped.
	simulated bool
	loadedAt  time.Time
}

type loadCall struct {
	done  chan struct{}
	entry *loadedModel
	err   error
}

// NewEngine builds an engine over the given registry and runtime backends.
// Backends is keyed by artifact kind; models whose kind has no registered
// backend fail to load unless their artifact is missing, in which case the
// simulated fallback applies regardless.
func NewEngine(registry *Registry, backends map[BackendKind]Backend, opts Options, log *slog.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		registry: registry,
		backends: backends,
		opts:     opts,
		log:      log.With(slog.String("component", "detect")),
		metrics:  m,
		loaded:   make(map[string]*loadedModel),
		pending:  make(map[string]*loadCall),
	}
}

// DefaultModel returns the model ID used when requests do not name one.
func (e *Engine) DefaultModel() string { return e.opts.DefaultModel }

// Registry exposes the model registry for listing endpoints.
func (e *Engine) Registry() *Registry { return e.registry }

// Detect runs the full pipeline on a base64 image payload. A zero threshold
// or non-positive maxDetections selects the process defaults.
func (e *Engine) Detect(imageBase64, modelID string, threshold float64, maxDetections int) ([]Detection, error) {
	raw, err := DecodeImagePayload(imageBase64)
	if err != nil {
		e.incr(metrics.DetectRequestFailed)
		return nil, err
	}

	if modelID == "" {
		modelID = e.opts.DefaultModel
	}
	if threshold <= 0 {
		threshold = e.opts.Threshold
	}
	if maxDetections <= 0 {
		maxDetections = e.opts.MaxDetections
	}

	entry, err := e.loadModel(modelID)
	if err != nil {
		e.incr(metrics.DetectRequestFailed)
		return nil, err
	}

	start := time.Now()
	tensor, err := entry.model.Prepare(raw)
	if err != nil {
		e.incr(metrics.DetectRequestFailed)
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	defer tensor.Close()

	out, err := entry.model.Run(tensor)
	if err != nil {
		e.incr(metrics.DetectRequestFailed)
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	desc := entry.desc
	if entry.simulated {
		desc.Family = FamilySSD
	}
	detections := postprocess(out, desc, threshold, maxDetections)

	e.incr(metrics.DetectionsComputed)
	e.log.Debug("detection complete",
		slog.String("model", modelID),
		slog.Int("detections", len(detections)),
		slog.Duration("elapsed", time.Since(start)))
	return detections, nil
}

// loadModel returns the cached model for id, loading it if necessary. A
// failed load is not cached, so later requests retry.
func (e *Engine) loadModel(id string) (*loadedModel, error) {
	e.mu.Lock()
	if entry, ok := e.loaded[id]; ok {
		e.mu.Unlock()
		return entry, nil
	}
	if call, ok := e.pending[id]; ok {
		e.mu.Unlock()
		<-call.done
		return call.entry, call.err
	}

	desc, ok := e.registry.Lookup(id)
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}

	call := &loadCall{done: make(chan struct{})}
	e.pending[id] = call
	e.mu.Unlock()

	call.entry, call.err = e.load(desc)

	e.mu.Lock()
	delete(e.pending, id)
	if call.err == nil {
		e.loaded[id] = call.entry
	}
	e.mu.Unlock()
	close(call.done)

	return call.entry, call.err
}

func (e *Engine) load(desc Descriptor) (*loadedModel, error) {
	artifactPath := filepath.Join(e.opts.ModelDir, desc.Path)

	backend, simulated := e.backends[desc.Backend], false
	if _, err := os.Stat(artifactPath); err != nil {
		e.log.Warn("model artifact missing, using simulated detections",
			slog.String("model", desc.ID),
			slog.String("path", artifactPath))
		backend, simulated = NewSimulatedBackend(), true
	} else if backend == nil {
		e.incr(metrics.ModelLoadFailures)
		return nil, fmt.Errorf("%w: no runtime for backend %q", ErrInference, desc.Backend)
	}

	model, err := backend.Load(desc, artifactPath)
	if err != nil {
		e.incr(metrics.ModelLoadFailures)
		return nil, fmt.Errorf("%w: load %s: %v", ErrInference, desc.ID, err)
	}

	e.incr(metrics.ModelLoads)
	e.log.Info("model loaded",
		slog.String("model", desc.ID),
		slog.Bool("simulated", simulated))
	return &loadedModel{
		model:     model,
		desc:      desc,
		simulated: simulated,
		loadedAt:  time.Now(),
	}, nil
}

// LoadedModelStatus reports one cached model for health output.
type LoadedModelStatus struct {
	ID        string    `json:"id"`
	Simulated bool      `json:"simulated"`
	LoadedAt  time.Time `json:"loadedAt"`
}

// LoadedModels returns the currently cached models, sorted by ID.
func (e *Engine) LoadedModels() []LoadedModelStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]LoadedModelStatus, 0, len(e.loaded))
	for id, entry := range e.loaded {
		out = append(out, LoadedModelStatus{
			ID:        id,
			Simulated: entry.simulated,
			LoadedAt:  entry.loadedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close releases all cached models.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, entry := range e.loaded {
		if err := entry.model.Close(); err != nil {
			e.log.Warn("closing model", slog.String("model", id), slog.Any("error", err))
		}
		delete(e.loaded, id)
	}
}

func (e *Engine) incr(event string) {
	if e.metrics != nil {
		e.metrics.Inc(event)
	}
}
