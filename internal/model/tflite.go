package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/tphakala/go-tflite"
	"go.uber.org/zap"

	"github.com/example/dermascan/internal/diagnosis"
)

// TFLiteLoader loads a TensorFlow Lite model artifact from disk.
type TFLiteLoader struct {
	Path    string
	Threads int
	Logger  *zap.Logger
}

// Location implements Loader.
func (l *TFLiteLoader) Location() string {
	return l.Path
}

// Load implements Loader.
func (l *TFLiteLoader) Load(_ context.Context) (Model, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, &diagnosis.ModelLoadError{Location: l.Path, Err: err}
	}

	m := tflite.NewModel(data)
	if m == nil {
		return nil, &diagnosis.ModelLoadError{Location: l.Path, Err: errors.New("cannot load TensorFlow Lite model")}
	}

	threads := l.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ interface{}) {
		logger.Error("tflite error", zap.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(m, options)
	if interpreter == nil {
		return nil, &diagnosis.ModelLoadError{Location: l.Path, Err: errors.New("cannot create interpreter")}
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		return nil, &diagnosis.ModelLoadError{Location: l.Path, Err: fmt.Errorf("tensor allocation failed: %v", status)}
	}

	tm := &tfliteModel{interpreter: interpreter}
	if err := tm.validate(); err != nil {
		interpreter.Delete()
		return nil, &diagnosis.ModelLoadError{Location: l.Path, Err: err}
	}
	return tm, nil
}

type tfliteModel struct {
	// the interpreter keeps per-invocation state in its tensors
	mu          sync.Mutex
	interpreter *tflite.Interpreter
}

func (m *tfliteModel) validate() error {
	input := m.interpreter.GetInputTensor(0)
	if input == nil {
		return errors.New("model has no input tensor")
	}
	if n := input.NumDims(); n != 4 || input.Dim(1) != InputHeight || input.Dim(2) != InputWidth || input.Dim(3) != InputChannels {
		return fmt.Errorf("unexpected input shape with %d dims", n)
	}

	output := m.interpreter.GetOutputTensor(0)
	if output == nil {
		return errors.New("model has no output tensor")
	}
	if width := output.Dim(output.NumDims() - 1); width != diagnosis.NumLabels {
		return fmt.Errorf("model output width %d does not match %d labels", width, diagnosis.NumLabels)
	}
	return nil
}

// Predict implements Model.
func (m *tfliteModel) Predict(_ context.Context, input *Tensor) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inputTensor := m.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, errors.New("cannot get input tensor")
	}
	buf := inputTensor.Float32s()
	if len(buf) != len(input.Data) {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(input.Data), len(buf))
	}
	copy(buf, input.Data)

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	outputTensor := m.interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return nil, errors.New("cannot get output tensor")
	}
	predictions := make([]float32, outputTensor.Dim(outputTensor.NumDims()-1))
	copy(predictions, outputTensor.Float32s())
	return predictions, nil
}

// Close implements Model.
func (m *tfliteModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	return nil
}
