//go:build opencv

package vision

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/kozaktomas/smart-attendance/internal/constants"
	"github.com/kozaktomas/smart-attendance/internal/imaging"
	"github.com/kozaktomas/smart-attendance/internal/recognition"
)

// Enabled reports whether this binary was built with OpenCV support.
const Enabled = true

// ssdStride is the number of floats per detection row: image id, class id,
// confidence, then the box as fractions of the input size.
const ssdStride = 7

// SSDDetector runs the res10 Caffe face network.
type SSDDetector struct {
	mu  sync.Mutex
	net gocv.Net
}

// NewSSDDetector loads the network. Both files must exist.
func NewSSDDetector(prototxt, weights string) (*SSDDetector, error) {
	net := gocv.ReadNetFromCaffe(prototxt, weights)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("failed to load SSD network from %s and %s", prototxt, weights)
	}
	return &SSDDetector{net: net}, nil
}

// DetectFaces returns every detection with its confidence. Filtering by
// confidence is left to the locator strategy.
func (d *SSDDetector) DetectFaces(img image.Image) ([]recognition.Candidate, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1, image.Pt(constants.SSDInputSize, constants.SSDInputSize),
		gocv.NewScalar(104, 177, 123, 0), false, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "data")
	out := d.net.Forward("detection_out")
	d.mu.Unlock()
	defer out.Close()

	flat := out.Reshape(1, 1)
	defer flat.Close()

	w, h := float32(mat.Cols()), float32(mat.Rows())
	total := flat.Total()
	var candidates []recognition.Candidate
	for i := 0; i+ssdStride <= total; i += ssdStride {
		conf := flat.GetFloatAt(0, i+2)
		if conf <= 0 {
			continue
		}
		box := image.Rect(
			int(flat.GetFloatAt(0, i+3)*w),
			int(flat.GetFloatAt(0, i+4)*h),
			int(flat.GetFloatAt(0, i+5)*w),
			int(flat.GetFloatAt(0, i+6)*h),
		)
		candidates = append(candidates, recognition.Candidate{Box: box, Confidence: float64(conf)})
	}
	return candidates, nil
}

// Close releases the network.
func (d *SSDDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// Cascade wraps a Haar cascade classifier. Frames are converted to
// grayscale before detection.
type Cascade struct {
	mu      sync.Mutex
	cc      gocv.CascadeClassifier
	minSize int
}

// NewCascade loads a cascade XML file.
func NewCascade(path string, minSize int) (*Cascade, error) {
	cc := gocv.NewCascadeClassifier()
	if !cc.Load(path) {
		cc.Close()
		return nil, fmt.Errorf("failed to load cascade classifier %s", path)
	}
	return &Cascade{cc: cc, minSize: minSize}, nil
}

func (c *Cascade) detect(img image.Image) ([]image.Rectangle, error) {
	if imaging.IsEmpty(img) {
		return nil, errors.New("empty frame")
	}
	mat, err := gocv.ImageGrayToMatGray(imaging.Grayscale(img))
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cc.DetectMultiScaleWithParams(mat, constants.CascadeScaleFactor, constants.CascadeMinNeighbors, 0,
		image.Pt(c.minSize, c.minSize), image.Pt(0, 0)), nil
}

// DetectFaces satisfies recognition.FaceDetector. Cascade hits carry no
// confidence score.
func (c *Cascade) DetectFaces(img image.Image) ([]recognition.Candidate, error) {
	boxes, err := c.detect(img)
	if err != nil {
		return nil, err
	}
	candidates := make([]recognition.Candidate, len(boxes))
	for i, b := range boxes {
		candidates[i] = recognition.Candidate{Box: b, Confidence: 1}
	}
	return candidates, nil
}

// DetectEyes satisfies liveness.EyeDetector.
func (c *Cascade) DetectEyes(img image.Image) ([]image.Rectangle, error) {
	return c.detect(img)
}

// Close releases the classifier.
func (c *Cascade) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cc.Close()
}

func loadSSD(prototxt, weights string) (ssd recognition.FaceDetector, closer func() error, err error) {
	d, err := NewSSDDetector(prototxt, weights)
	if err != nil {
		return nil, nil, err
	}
	return d, d.Close, nil
}

func loadCascade(path string, minSize int) (*Cascade, error) {
	return NewCascade(path, minSize)
}
