package detect

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinRegistry(t *testing.T) {
	r := BuiltinRegistry()

	desc, ok := r.Lookup("mobilenet-ssd")
	if !ok {
		t.Fatal("mobilenet-ssd not registered")
	}
	if desc.Backend != BackendONNX || desc.Family != FamilySSD {
		t.Errorf("mobilenet-ssd = %+v", desc)
	}
	if desc.InputWidth != 300 || desc.InputHeight != 300 {
		t.Errorf("input dims = %dx%d", desc.InputWidth, desc.InputHeight)
	}
	if len(desc.Labels) != 21 || desc.Labels[15] != "person" {
		t.Errorf("voc labels = %d entries", len(desc.Labels))
	}

	desc, ok = r.Lookup("coco-ssd")
	if !ok || desc.Backend != BackendTensorFlow {
		t.Errorf("coco-ssd = %+v (ok=%v)", desc, ok)
	}
	if len(desc.Labels) != 80 {
		t.Errorf("coco labels = %d entries", len(desc.Labels))
	}

	if _, ok := r.Lookup("nope"); ok {
		t.Error("Lookup(nope) succeeded")
	}
	if got := len(r.List()); got != 3 {
		t.Errorf("List() = %d models", got)
	}
}

func TestApplyManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	manifest := `models:
  - id: custom-ssd
    backend: tensorflow
    input_width: 320
    input_height: 320
    path: custom.pb
    description: custom detector
    label_set: voc
  - id: mobilenet-ssd
    backend: onnx
    input_width: 512
    input_height: 512
    path: mobilenet-large.onnx
    threshold: 0.4
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	r := BuiltinRegistry()
	if err := r.ApplyManifest(path); err != nil {
		t.Fatalf("ApplyManifest: %v", err)
	}

	desc, ok := r.Lookup("custom-ssd")
	if !ok {
		t.Fatal("custom-ssd not registered")
	}
	if desc.Family != FamilySSD || len(desc.Labels) != 21 {
		t.Errorf("custom-ssd = %+v", desc)
	}
	if desc.Threshold != 0.5 {
		t.Errorf("default threshold = %v", desc.Threshold)
	}

	// Manifest entries override built-ins with the same ID.
	desc, _ = r.Lookup("mobilenet-ssd")
	if desc.InputWidth != 512 || desc.Path != "mobilenet-large.onnx" || desc.Threshold != 0.4 {
		t.Errorf("overridden mobilenet-ssd = %+v", desc)
	}
	if got := len(r.List()); got != 4 {
		t.Errorf("List() = %d models", got)
	}
}

func TestApplyManifest_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing id":      "models:\n  - backend: onnx\n    input_width: 1\n    input_height: 1\n    path: x.onnx\n",
		"missing backend": "models:\n  - id: m\n    input_width: 1\n    input_height: 1\n    path: x.onnx\n",
		"bad backend":     "models:\n  - id: m\n    backend: caffe\n    input_width: 1\n    input_height: 1\n    path: x.onnx\n",
		"missing path":    "models:\n  - id: m\n    backend: onnx\n    input_width: 1\n    input_height: 1\n",
		"bad dims":        "models:\n  - id: m\n    backend: onnx\n    input_width: 0\n    input_height: 1\n    path: x.onnx\n",
		"bad label set":   "models:\n  - id: m\n    backend: onnx\n    input_width: 1\n    input_height: 1\n    path: x.onnx\n    label_set: imagenet\n",
		"bad threshold":   "models:\n  - id: m\n    backend: onnx\n    input_width: 1\n    input_height: 1\n    path: x.onnx\n    threshold: 1.5\n",
		"not yaml":        "models: [",
	}

	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "models.yaml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := BuiltinRegistry().ApplyManifest(path); err == nil {
			t.Errorf("%s: ApplyManifest succeeded, want error", name)
		}
	}
}

func TestApplyManifest_MissingFile(t *testing.T) {
	if err := BuiltinRegistry().ApplyManifest(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("ApplyManifest succeeded for missing file")
	}
}
