package detections

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/Tutortoise/traffic-signal-service/logger"
	ort "github.com/yalue/onnxruntime_go"
)

type runner interface {
	Run() error
	Destroy() error
}

type tensor interface {
	GetData() []float32
	Destroy() error
}

// ModelSession is one ONNX session together with its bound input and
// output tensors. A session is used by one request at a time.
type ModelSession struct {
	Session runner
	Input   tensor
	Output  tensor
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

// SessionFactory builds a fresh session for the pool.
type SessionFactory func() (*ModelSession, error)

// newSessionOptions configures threading and, unless device is cpu, the
// CUDA execution provider. accelerated reports whether CUDA was attached.
func newSessionOptions(device string) (options *ort.SessionOptions, accelerated bool, err error) {
	options, err = ort.NewSessionOptions()
	if err != nil {
		return nil, false, fmt.Errorf("error creating session options: %w", err)
	}

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	if device == DeviceCPU {
		return options, false, nil
	}

	cudaErr := appendCUDA(options)
	if cudaErr == nil {
		return options, true, nil
	}
	if device == DeviceCUDA {
		options.Destroy()
		return nil, false, fmt.Errorf("cuda execution provider unavailable: %w", cudaErr)
	}

	logger.WithError(cudaErr).Warn("CUDA execution provider unavailable, using CPU")
	return options, false, nil
}

func appendCUDA(options *ort.SessionOptions) error {
	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOptions.Destroy()
	return options.AppendExecutionProviderCUDA(cudaOptions)
}

// NewSessionFactory returns a factory creating sessions for the model at
// modelPath on device, and whether those sessions are accelerated.
func NewSessionFactory(modelPath, device string) (SessionFactory, bool, error) {
	trial, accelerated, err := newSessionOptions(device)
	if err != nil {
		return nil, false, err
	}
	trial.Destroy()

	effective := DeviceCPU
	if accelerated {
		effective = DeviceCUDA
	}

	factory := func() (*ModelSession, error) {
		return initSession(modelPath, effective)
	}
	return factory, accelerated, nil
}

func initSession(modelPath, device string) (*ModelSession, error) {
	options, _, err := newSessionOptions(device)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	inputShape := ort.NewShape(1, 3, InputHeight, InputWidth)
	outputShape := ort.NewShape(1, OutputChannel, NumAnchors)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{InputName},
		[]string{OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}

var errRuntimeNotInitialized = errors.New("onnx runtime environment is not initialized")

// InitRuntime loads the shared ONNX Runtime library once per process.
func InitRuntime(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// ShutdownRuntime releases the ONNX Runtime environment.
func ShutdownRuntime() error {
	if !ort.IsInitialized() {
		return errRuntimeNotInitialized
	}
	return ort.DestroyEnvironment()
}
