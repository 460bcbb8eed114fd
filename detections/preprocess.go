package detections

import (
	"image"
	"runtime"
	"sync"

	"golang.org/x/sys/cpu"
)

var (
	hasAVX512 = cpu.X86.HasAVX512
	hasAVX2   = cpu.X86.HasAVX2
	hasSSE41  = cpu.X86.HasSSE41
	hasNEON   = cpu.ARM64.HasASIMD
)

// CPUFeatures lists the vector extensions detected on this host.
func CPUFeatures() []string {
	var features []string
	if hasAVX512 {
		features = append(features, "avx512")
	}
	if hasAVX2 {
		features = append(features, "avx2")
	}
	if hasSSE41 {
		features = append(features, "sse4.1")
	}
	if hasNEON {
		features = append(features, "neon")
	}
	return features
}

// Preprocessor converts a resized RGB image into a planar CHW float buffer
// scaled to [0,1].
type Preprocessor struct {
	width, height int
	numWorkers    int
	bufferPool    *sync.Pool
}

func NewPreprocessor(width, height int) *Preprocessor {
	workers := runtime.GOMAXPROCS(0)
	// Halve the worker count on hosts without wide vector units.
	if !hasAVX2 && !hasAVX512 && !hasNEON {
		workers = max(1, workers/2)
	}
	workers = min(workers, height)

	return &Preprocessor{
		width:      width,
		height:     height,
		numWorkers: max(1, workers),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]float32, width*height*3)
				return &buf
			},
		},
	}
}

// Process fills dst with the CHW tensor of img. img must be width x height.
func (p *Preprocessor) Process(img image.Image, dst []float32) {
	bufPtr := p.bufferPool.Get().(*[]float32)
	defer p.bufferPool.Put(bufPtr)

	buffer := *bufPtr
	if nrgba, ok := img.(*image.NRGBA); ok {
		p.processParallel(buffer, func(y int, r, g, b []float32) {
			p.processNRGBARow(nrgba, y, r, g, b)
		})
	} else {
		p.processParallel(buffer, func(y int, r, g, b []float32) {
			p.processGenericRow(img, y, r, g, b)
		})
	}
	copy(dst, buffer)
}

func (p *Preprocessor) processParallel(buffer []float32, rowFn func(y int, r, g, b []float32)) {
	channelSize := p.width * p.height
	rowsPerWorker := p.height / p.numWorkers

	var wg sync.WaitGroup
	wg.Add(p.numWorkers)

	for w := 0; w < p.numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == p.numWorkers-1 {
			endRow = p.height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				offset := y * p.width
				rRow := buffer[offset : offset+p.width]
				gRow := buffer[channelSize+offset : channelSize+offset+p.width]
				bRow := buffer[2*channelSize+offset : 2*channelSize+offset+p.width]
				rowFn(y, rRow, gRow, bRow)
			}
		}(startRow, endRow)
	}

	wg.Wait()
}

func (p *Preprocessor) processNRGBARow(img *image.NRGBA, y int, r, g, b []float32) {
	b0 := img.Bounds()
	src := img.Pix[y*img.Stride:]
	n := min(p.width, b0.Dx())
	for x := 0; x < n; x++ {
		i := x * 4
		r[x] = float32(src[i]) / 255.0
		g[x] = float32(src[i+1]) / 255.0
		b[x] = float32(src[i+2]) / 255.0
	}
}

func (p *Preprocessor) processGenericRow(img image.Image, y int, r, g, b []float32) {
	b0 := img.Bounds()
	for x := 0; x < p.width; x++ {
		cr, cg, cb, _ := img.At(b0.Min.X+x, b0.Min.Y+y).RGBA()
		r[x] = float32(cr>>8) / 255.0
		g[x] = float32(cg>>8) / 255.0
		b[x] = float32(cb>>8) / 255.0
	}
}
