package detect

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Registry maps model IDs to descriptors. It is built once at startup and
// read-only afterwards.
type Registry struct {
	byID  map[string]Descriptor
	order []string
}

// BuiltinRegistry returns the registry of models the server knows out of the
// box.
func BuiltinRegistry() *Registry {
	r := &Registry{byID: make(map[string]Descriptor)}
	r.add(Descriptor{
		ID:          "mobilenet-ssd",
		Backend:     BackendONNX,
		Family:      FamilySSD,
		InputWidth:  300,
		InputHeight: 300,
		Path:        "mobilenet-ssd.onnx",
		Description: "MobileNet-SSD object detector (PASCAL VOC classes)",
		Threshold:   0.5,
		Labels:      vocLabels,
	})
	r.add(Descriptor{
		ID:          "yolov5s",
		Backend:     BackendONNX,
		Family:      FamilyYOLO,
		InputWidth:  640,
		InputHeight: 640,
		Path:        "yolov5s.onnx",
		Description: "YOLOv5s object detector (COCO classes)",
		Threshold:   0.5,
		Labels:      cocoLabels,
	})
	r.add(Descriptor{
		ID:          "coco-ssd",
		Backend:     BackendTensorFlow,
		Family:      FamilySSD,
		InputWidth:  300,
		InputHeight: 300,
		Path:        "frozen_inference_graph.pb",
		Description: "SSD MobileNet frozen TensorFlow graph (COCO classes)",
		Threshold:   0.5,
		Labels:      cocoLabels,
	})
	return r
}

func (r *Registry) add(desc Descriptor) {
	if _, exists := r.byID[desc.ID]; !exists {
		r.order = append(r.order, desc.ID)
	}
	r.byID[desc.ID] = desc
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	desc, ok := r.byID[id]
	return desc, ok
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// IDs returns all model IDs, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	sort.Strings(ids)
	return ids
}

type manifest struct {
	Models []manifestModel `yaml:"models"`
}

type manifestModel struct {
	ID          string      `yaml:"id"`
	Backend     BackendKind `yaml:"backend"`
	Family      string      `yaml:"family"`
	InputWidth  int         `yaml:"input_width"`
	InputHeight int         `yaml:"input_height"`
	Path        string      `yaml:"path"`
	Description string      `yaml:"description"`
	Threshold   float32     `yaml:"threshold"`
	LabelSet    string      `yaml:"label_set"`
	Labels      []string    `yaml:"labels"`
}

// ApplyManifest overlays model definitions from a YAML manifest file onto the
// registry. Entries with an ID already present replace the built-in
// definition.
func (r *Registry) ApplyManifest(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parse model manifest: %w", err)
	}

	for i, mm := range m.Models {
		desc, err := descriptorFromManifest(mm)
		if err != nil {
			return fmt.Errorf("model manifest entry %d: %w", i, err)
		}
		r.add(desc)
	}
	return nil
}

func descriptorFromManifest(mm manifestModel) (Descriptor, error) {
	if mm.ID == "" {
		return Descriptor{}, fmt.Errorf("missing id")
	}
	switch mm.Backend {
	case BackendONNX, BackendTensorFlow:
	case "":
		return Descriptor{}, fmt.Errorf("%s: missing backend", mm.ID)
	default:
		return Descriptor{}, fmt.Errorf("%s: unknown backend %q", mm.ID, mm.Backend)
	}
	if mm.Path == "" {
		return Descriptor{}, fmt.Errorf("%s: missing path", mm.ID)
	}
	if mm.InputWidth <= 0 || mm.InputHeight <= 0 {
		return Descriptor{}, fmt.Errorf("%s: input dimensions must be positive", mm.ID)
	}

	family := mm.Family
	if family == "" {
		family = FamilySSD
	}
	switch family {
	case FamilySSD, FamilyYOLO:
	default:
		return Descriptor{}, fmt.Errorf("%s: unknown family %q", mm.ID, family)
	}

	labels := mm.Labels
	if len(labels) == 0 {
		switch mm.LabelSet {
		case "", "coco":
			labels = cocoLabels
		case "voc":
			labels = vocLabels
		default:
			return Descriptor{}, fmt.Errorf("%s: unknown label_set %q", mm.ID, mm.LabelSet)
		}
	}

	threshold := mm.Threshold
	if threshold < 0 || threshold > 1 {
		return Descriptor{}, fmt.Errorf("%s: threshold must be within [0, 1]", mm.ID)
	}
	if threshold == 0 {
		threshold = 0.5
	}

	return Descriptor{
		ID:          mm.ID,
		Backend:     mm.Backend,
		Family:      family,
		InputWidth:  mm.InputWidth,
		InputHeight: mm.InputHeight,
		Path:        mm.Path,
		Description: mm.Description,
		Threshold:   threshold,
		Labels:      labels,
	}, nil
}
