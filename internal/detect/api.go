package detect

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/peerlens/peerlens/internal/httpserver"
)

// Stable error codes returned by the detection HTTP API.
const (
	codeMissingImage       = "MISSING_IMAGE"
	codeInvalidImageFormat = "INVALID_IMAGE_FORMAT"
	codeModelNotFound      = "MODEL_NOT_FOUND"
	codeDetectionFailed    = "DETECTION_FAILED"
)

// API exposes the detection engine over HTTP.
type API struct {
	engine *Engine
	log    *slog.Logger
	// sanitizeErrors hides inference error details from responses
	// (production mode).
	sanitizeErrors bool
}

func NewAPI(engine *Engine, log *slog.Logger, sanitizeErrors bool) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{
		engine:         engine,
		log:            log.With(slog.String("component", "detect_api")),
		sanitizeErrors: sanitizeErrors,
	}
}

// RegisterRoutes attaches the detection endpoints to mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /detect", a.handleDetect)
	mux.HandleFunc("GET /models", a.handleListModels)
	mux.HandleFunc("GET /models/{modelType}", a.handleGetModel)
	mux.HandleFunc("GET /health", a.handleHealth)
}

type detectRequest struct {
	Image         string  `json:"image"`
	ModelType     string  `json:"modelType"`
	Threshold     float64 `json:"threshold"`
	MaxDetections int     `json:"maxDetections"`
}

type detectMetadata struct {
	ModelType string    `json:"modelType"`
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
}

type detectResponse struct {
	Success    bool           `json:"success"`
	Detections []Detection    `json:"detections"`
	Metadata   detectMetadata `json:"metadata"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func (a *API) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := decodeStrictJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidImageFormat, "malformed request body")
		return
	}
	if req.Image == "" {
		writeError(w, http.StatusBadRequest, codeMissingImage, "no image data provided")
		return
	}

	modelType := req.ModelType
	if modelType == "" {
		modelType = a.engine.DefaultModel()
	}

	detections, err := a.engine.Detect(req.Image, modelType, req.Threshold, req.MaxDetections)
	if err != nil {
		a.writeDetectError(w, modelType, err)
		return
	}
	if detections == nil {
		detections = []Detection{}
	}

	httpserver.WriteJSON(w, http.StatusOK, detectResponse{
		Success:    true,
		Detections: detections,
		Metadata: detectMetadata{
			ModelType: modelType,
			Timestamp: time.Now().UTC(),
			Count:     len(detections),
		},
	})
}

func (a *API) writeDetectError(w http.ResponseWriter, modelType string, err error) {
	switch {
	case errors.Is(err, ErrInvalidImage):
		writeError(w, http.StatusBadRequest, codeInvalidImageFormat, err.Error())
	case errors.Is(err, ErrUnknownModel):
		writeError(w, http.StatusNotFound, codeModelNotFound, err.Error())
	default:
		a.log.Error("detection failed", slog.String("model", modelType), slog.Any("error", err))
		msg := err.Error()
		if a.sanitizeErrors {
			msg = "object detection failed"
		}
		writeError(w, http.StatusInternalServerError, codeDetectionFailed, msg)
	}
}

type modelSummary struct {
	Descriptor
	LabelCount int `json:"labelCount"`
}

func (a *API) handleListModels(w http.ResponseWriter, r *http.Request) {
	descs := a.engine.Registry().List()
	models := make([]modelSummary, 0, len(descs))
	for _, desc := range descs {
		models = append(models, modelSummary{Descriptor: desc, LabelCount: len(desc.Labels)})
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"models":       models,
		"defaultModel": a.engine.DefaultModel(),
	})
}

func (a *API) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("modelType")
	desc, ok := a.engine.Registry().Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, codeModelNotFound, "unknown model: "+id)
		return
	}

	loaded := false
	simulated := false
	for _, status := range a.engine.LoadedModels() {
		if status.ID == id {
			loaded = true
			simulated = status.Simulated
			break
		}
	}

	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"model":     modelSummary{Descriptor: desc, LabelCount: len(desc.Labels)},
		"loaded":    loaded,
		"simulated": simulated,
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"loadedModels":    a.engine.LoadedModels(),
		"availableModels": a.engine.Registry().IDs(),
		"timestamp":       time.Now().UTC(),
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	httpserver.WriteJSON(w, status, errorResponse{Success: false, Error: message, Code: code})
}

// decodeStrictJSON decodes a single JSON value, rejecting unknown fields and
// trailing data.
func decodeStrictJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("trailing data after JSON value")
	}
	return nil
}
