package detect

// The simulated backend stands in when a model's artifact file is missing.
// It emits a fixed high-confidence detection through the regular SSD
// postprocessing path so the rest of the pipeline behaves exactly as it
// would with a real network.

type simulatedBackend struct{}

// NewSimulatedBackend returns a backend that fabricates one deterministic
// detection per frame.
func NewSimulatedBackend() Backend {
	return simulatedBackend{}
}

func (simulatedBackend) Load(desc Descriptor, artifactPath string) (Model, error) {
	classIdx := 0
	for i, label := range desc.Labels {
		if label == "person" {
			classIdx = i
			break
		}
	}
	return &simulatedModel{classIdx: classIdx}, nil
}

type simulatedModel struct {
	classIdx int
}

type noopTensor struct{}

func (noopTensor) Close() {}

func (m *simulatedModel) Prepare(raw []byte) (Tensor, error) {
	return noopTensor{}, nil
}

func (m *simulatedModel) Run(t Tensor) (RawOutput, error) {
	return RawOutput{
		Data: []float32{0, float32(m.classIdx), 0.95, 0.1, 0.1, 0.9, 0.9},
		Dims: []int{1, 7},
	}, nil
}

func (m *simulatedModel) Close() error { return nil }
