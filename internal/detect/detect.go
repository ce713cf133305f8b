// Package detect implements the object-detection engine: a model registry,
// a single-flight loader/cache, backend dispatch behind a capability
// interface, and SSD postprocessing with confidence/count filtering.
//
// Real DNN runtimes live in the cv subpackage; this package only knows the
// Backend/Model interfaces, so the engine (and its tests) do not depend on
// OpenCV.
package detect

import "errors"

// BackendKind selects the runtime used to load and execute a model artifact.
type BackendKind string

const (
	// BackendONNX runs ONNX artifacts on the native tensor runtime.
	BackendONNX BackendKind = "onnx"
	// BackendTensorFlow runs frozen TensorFlow graphs on the graph runtime.
	BackendTensorFlow BackendKind = "tensorflow"
	// BackendSimulated is the deterministic fallback used when a model's
	// artifact file is missing. It keeps the pipeline demoable without real
	// model files.
	BackendSimulated BackendKind = "simulated"
)

// Output families understood by the postprocessor.
const (
	FamilySSD  = "ssd"
	FamilyYOLO = "yolo"
)

var (
	ErrUnknownModel = errors.New("unknown model")
	ErrInvalidImage = errors.New("invalid image")
	ErrInference    = errors.New("inference failure")
)

// Descriptor describes one registered model.
type Descriptor struct {
	ID          string      `yaml:"id" json:"id"`
	Backend     BackendKind `yaml:"backend" json:"backend"`
	Family      string      `yaml:"family" json:"family"`
	InputWidth  int         `yaml:"input_width" json:"inputWidth"`
	InputHeight int         `yaml:"input_height" json:"inputHeight"`
	// Path is the artifact file name, resolved relative to the model
	// directory.
	Path        string `yaml:"path" json:"path"`
	Description string `yaml:"description" json:"description"`
	// Threshold is the model's own internal confidence floor; detections must
	// clear it in addition to the caller-provided threshold.
	Threshold float32 `yaml:"threshold" json:"threshold"`
	// Labels maps class indexes to names. Out-of-range indexes are reported
	// as class_<index>.
	Labels []string `yaml:"labels" json:"-"`
}

// Detection is one scored bounding box. Coordinates are normalized [0,1]
// corner coordinates [x1, y1, x2, y2]; converting to pixel space is the
// consumer's job.
type Detection struct {
	Box   [4]float64 `json:"bbox"`
	Label string     `json:"class"`
	Score float64    `json:"score"`
}

// RawOutput is a backend-native inference result: a flat numeric buffer plus
// shape metadata.
type RawOutput struct {
	Data []float32
	Dims []int
}

// Tensor is a backend-prepared input. Implementations own any native memory.
type Tensor interface {
	Close()
}

// Model is a loaded model handle.
type Model interface {
	// Prepare decodes raw image bytes and arranges them into the tensor
	// layout this model expects (resized to the declared input dimensions,
	// channel values normalized to [0,1]).
	Prepare(raw []byte) (Tensor, error)
	// Run executes inference on a prepared tensor.
	Run(t Tensor) (RawOutput, error)
	Close() error
}

// Backend loads model artifacts for one runtime kind.
type Backend interface {
	Load(desc Descriptor, artifactPath string) (Model, error)
}
