package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

var ortEnv struct {
	once sync.Once
	err  error
}

// initRuntime initializes the process-wide ONNX Runtime environment once.
func initRuntime(libPath string) error {
	ortEnv.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// Model is a loaded ONNX model handle. It is read-only after Open and safe
// for concurrent Predict calls.
type Model struct {
	name       string
	kind       Kind
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	sequence   bool
	scaler     *RobustScaler
	dec        decoder
}

// Open creates an inference session for a local model file.
func Open(name string, kind Kind, modelPath string, scaler *RobustScaler, labels []string, threshold float64) (*Model, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("onnx: unknown model kind %q", kind)
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: read model info %s: %w", modelPath, err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("onnx: %s expects exactly one input, has %d", modelPath, len(inputs))
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: %s has no outputs", modelPath)
	}
	if inputs[0].DataType != ort.TensorElementDataTypeFloat {
		return nil, fmt.Errorf("onnx: %s input %q must be float32", modelPath, inputs[0].Name)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session %s: %w", modelPath, err)
	}

	return &Model{
		name:       name,
		kind:       kind,
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		sequence:   len(inputs[0].Dimensions) == 3,
		scaler:     scaler,
		dec:        decoder{kind: kind, labels: labels, threshold: threshold},
	}, nil
}

func (m *Model) Name() string { return m.name }

func (m *Model) Predict(ctx context.Context, in domain.ModelInput) (domain.ModelOutput, error) {
	if err := ctx.Err(); err != nil {
		return domain.ModelOutput{}, err
	}

	data := flatten(in, m.kind, m.scaler)
	shape := ort.NewShape(1, int64(len(data)))
	if m.kind == KindForecaster && m.sequence {
		shape = ort.NewShape(1, int64(len(in.Window)), domain.FeatureCount)
	}

	input, err := ort.NewTensor(shape, data)
	if err != nil {
		return domain.ModelOutput{}, fmt.Errorf("onnx: input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{input}, outputs); err != nil {
		return domain.ModelOutput{}, fmt.Errorf("onnx: %s inference: %w", m.name, err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	out, err := readOutput(outputs[0])
	if err != nil {
		return domain.ModelOutput{}, fmt.Errorf("onnx: %s output %q: %w", m.name, m.outputName, err)
	}
	return m.dec.decode(out)
}

func (m *Model) Close() error {
	return m.session.Destroy()
}

func readOutput(v ort.Value) (tensorOutput, error) {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		src := t.GetData()
		out := make([]float64, len(src))
		for i, x := range src {
			out[i] = float64(x)
		}
		return tensorOutput{values: out}, nil
	case *ort.Tensor[float64]:
		src := t.GetData()
		out := make([]float64, len(src))
		copy(out, src)
		return tensorOutput{values: out}, nil
	case *ort.Tensor[int64]:
		src := t.GetData()
		out := make([]float64, len(src))
		for i, x := range src {
			out[i] = float64(x)
		}
		return tensorOutput{values: out, integral: true}, nil
	case *ort.Tensor[int32]:
		src := t.GetData()
		out := make([]float64, len(src))
		for i, x := range src {
			out[i] = float64(x)
		}
		return tensorOutput{values: out, integral: true}, nil
	default:
		return tensorOutput{}, fmt.Errorf("unsupported output value %T", v)
	}
}

var _ ports.Model = (*Model)(nil)
