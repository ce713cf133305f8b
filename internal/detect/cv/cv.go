// Package cv provides OpenCV-DNN backed runtimes for the detection engine.
// It is the only package that links against gocv; the engine itself stays
// free of cgo so it can be tested without an OpenCV install.
package cv

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/peerlens/peerlens/internal/detect"
)

// Backends returns the runtime map to hand to detect.NewEngine.
func Backends() map[detect.BackendKind]detect.Backend {
	return map[detect.BackendKind]detect.Backend{
		detect.BackendONNX:       onnxBackend{},
		detect.BackendTensorFlow: tensorflowBackend{},
	}
}

type onnxBackend struct{}

func (onnxBackend) Load(desc detect.Descriptor, artifactPath string) (detect.Model, error) {
	net := gocv.ReadNetFromONNX(artifactPath)
	if net.Empty() {
		return nil, fmt.Errorf("read onnx network from %s", artifactPath)
	}
	return newNetModel(net, desc), nil
}

type tensorflowBackend struct{}

func (tensorflowBackend) Load(desc detect.Descriptor, artifactPath string) (detect.Model, error) {
	net := gocv.ReadNetFromTensorflow(artifactPath)
	if net.Empty() {
		return nil, fmt.Errorf("read tensorflow graph from %s", artifactPath)
	}
	return newNetModel(net, desc), nil
}

// netModel wraps a gocv.Net. OpenCV networks are not safe for concurrent
// Forward calls, so inference is serialized per model.
type netModel struct {
	mu   sync.Mutex
	net  gocv.Net
	desc detect.Descriptor
}

func newNetModel(net gocv.Net, desc detect.Descriptor) *netModel {
	return &netModel{net: net, desc: desc}
}

type blobTensor struct {
	blob gocv.Mat
}

func (t *blobTensor) Close() {
	_ = t.blob.Close()
}

// Prepare decodes the encoded image and builds an NCHW float blob resized to
// the model's input dimensions with channel values scaled to [0, 1].
func (m *netModel) Prepare(raw []byte) (detect.Tensor, error) {
	img, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, errors.New("decode image: empty result")
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0,
		image.Pt(m.desc.InputWidth, m.desc.InputHeight),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	return &blobTensor{blob: blob}, nil
}

func (m *netModel) Run(t detect.Tensor) (detect.RawOutput, error) {
	bt, ok := t.(*blobTensor)
	if !ok {
		return detect.RawOutput{}, errors.New("tensor was not prepared by this runtime")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.net.SetInput(bt.blob, "")
	out := m.net.Forward("")
	defer out.Close()

	dims := out.Size()
	data, err := out.DataPtrFloat32()
	if err != nil {
		return detect.RawOutput{}, fmt.Errorf("read network output: %w", err)
	}

	copied := make([]float32, len(data))
	copy(copied, data)
	return detect.RawOutput{Data: copied, Dims: append([]int(nil), dims...)}, nil
}

func (m *netModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}
