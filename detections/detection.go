package detections

import (
	"context"
	"fmt"
	"image"
	"runtime/debug"
	"time"

	"github.com/Tutortoise/traffic-signal-service/logger"
	"github.com/Tutortoise/traffic-signal-service/models"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// Detector runs the YOLO model over a pool of ONNX sessions.
type Detector struct {
	pool         *ModelSessionPool
	preprocessor *Preprocessor
	device       string
	accelerated  bool
}

type Config struct {
	ModelPath string
	Device    string
	PoolSize  int
}

// NewDetector creates the session pool for cfg. The ONNX runtime must
// already be initialized with InitRuntime.
func NewDetector(cfg Config) (*Detector, error) {
	factory, accelerated, err := NewSessionFactory(cfg.ModelPath, cfg.Device)
	if err != nil {
		return nil, err
	}

	pool, err := NewModelSessionPool(factory, cfg.PoolSize)
	if err != nil && accelerated && cfg.Device == DeviceAuto {
		logger.WithError(err).Warn("Accelerated session pool failed, retrying on CPU")
		factory = func() (*ModelSession, error) { return initSession(cfg.ModelPath, DeviceCPU) }
		accelerated = false
		pool, err = NewModelSessionPool(factory, cfg.PoolSize)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model session pool: %w", err)
	}

	return newDetector(pool, accelerated), nil
}

func newDetector(pool *ModelSessionPool, accelerated bool) *Detector {
	device := DeviceCPU
	if accelerated {
		device = DeviceCUDA
	}
	return &Detector{
		pool:         pool,
		preprocessor: NewPreprocessor(InputWidth, InputHeight),
		device:       device,
		accelerated:  accelerated,
	}
}

// Infer returns every box whose best class score reaches confidenceFloor,
// after per-class suppression, highest confidence first.
func (d *Detector) Infer(ctx context.Context, img image.Image, confidenceFloor float32) ([]models.RawDetection, error) {
	timings := &models.ProcessingTimings{}
	start := time.Now()

	session, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}

	resizeStart := time.Now()
	resized := imaging.Resize(img, InputWidth, InputHeight, imaging.Linear)
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	d.preprocessor.Process(resized, session.Input.GetData())
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	if err := session.Session.Run(); err != nil {
		d.pool.Discard(session, err)
		return nil, fmt.Errorf("model inference: %w", err)
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	output := session.Output.GetData()
	bounds := img.Bounds()
	raw, err := processPredictions(output, len(output)/OutputChannel, confidenceFloor, bounds.Dx(), bounds.Dy())
	d.pool.Release(session)
	if err != nil {
		return nil, fmt.Errorf("process predictions: %w", err)
	}
	timings.Postprocess = time.Since(postStart)

	nmsStart := time.Now()
	kept := suppress(raw, IouThreshold, MaxDetections)
	timings.Suppression = time.Since(nmsStart)
	timings.Total = time.Since(start)

	logTimings(timings, len(raw), len(kept))
	return kept, nil
}

func (d *Detector) ClassName(classID int) string {
	return ClassName(classID)
}

func (d *Detector) Device() string {
	return d.device
}

func (d *Detector) AcceleratorAvailable() bool {
	return d.accelerated
}

// Release returns transient inference memory to the OS on accelerated
// hosts, where host-side staging buffers are large.
func (d *Detector) Release() {
	if d.accelerated {
		debug.FreeOSMemory()
	}
}

func (d *Detector) Metrics() PoolStats {
	return d.pool.GetMetrics()
}

func (d *Detector) Close() {
	d.pool.Destroy()
}

func logTimings(t *models.ProcessingTimings, candidates, kept int) {
	logger.WithFields(logrus.Fields{
		"resize":      t.Resize.String(),
		"preprocess":  t.Preprocess.String(),
		"inference":   t.Inference.String(),
		"postprocess": t.Postprocess.String(),
		"suppression": t.Suppression.String(),
		"total":       t.Total.String(),
		"candidates":  candidates,
		"kept":        kept,
	}).Debug("Inference timings")
}
