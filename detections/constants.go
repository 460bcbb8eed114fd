package detections

import "time"

const (
	InputWidth  = 640
	InputHeight = 640

	// YOLOv8 COCO head: 4 box coordinates followed by one score per class,
	// for each of 8400 anchors.
	NumClasses    = 80
	NumAnchors    = 8400
	OutputChannel = 4 + NumClasses

	IouThreshold  = 0.45
	MaxDetections = 300

	InputName  = "images"
	OutputName = "output0"
)

const (
	DefaultPoolSize   = 4
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)
