// Package opencv implements the analysis detector and classifier with
// OpenCV: a Haar cascade for faces and the FER+ ONNX network for
// expressions.
package opencv

import (
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"github.com/T3-Labs/emotion-capture/pkg/analysis"
	"gocv.io/x/gocv"
)

// Cascade parameters for frontal faces.
const (
	ScaleFactor  = 1.1
	MinNeighbors = 5
	MinFaceSize  = 30
)

// FER+ network input is a 64x64 grayscale face with raw 0-255 pixels.
const ferInputSize = 64

// FERPlusLabels is the output order of the FER+ network, renamed to the
// labels used for engagement scoring.
var FERPlusLabels = []string{
	"neutral",
	"happy",
	"surprise",
	"sad",
	"angry",
	"disgust",
	"fear",
	"contempt",
}

// CascadeDetector finds frontal faces with a Haar cascade.
type CascadeDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

func NewCascadeDetector(path string) (*CascadeDetector, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cascade file not found: %s", path)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load cascade from %s", path)
	}

	return &CascadeDetector{classifier: classifier}, nil
}

func (d *CascadeDetector) Detect(img image.Image) ([]image.Rectangle, error) {
	gray, err := grayMat(img)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	faces := d.classifier.DetectMultiScaleWithParams(gray, ScaleFactor, MinNeighbors, 0,
		image.Pt(MinFaceSize, MinFaceSize), image.Pt(0, 0))

	// Mat coordinates start at zero; shift back into the source bounds
	offset := img.Bounds().Min
	for i := range faces {
		faces[i] = faces[i].Add(offset)
	}
	return faces, nil
}

func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}

// FERPlusClassifier runs the FER+ emotion network.
type FERPlusClassifier struct {
	mu  sync.Mutex
	net gocv.Net
}

func NewFERPlusClassifier(modelPath string) (*FERPlusClassifier, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load emotion model from %s", modelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &FERPlusClassifier{net: net}, nil
}

func (c *FERPlusClassifier) Classify(face image.Image) (analysis.Scores, error) {
	gray, err := grayMat(face)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	blob := gocv.BlobFromImage(gray, 1.0, image.Pt(ferInputSize, ferInputSize),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.net.SetInput(blob, "")
	output := c.net.Forward("")
	defer output.Close()

	logits, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read emotion logits: %w", err)
	}
	if len(logits) < len(FERPlusLabels) {
		return nil, fmt.Errorf("emotion model returned %d outputs, want %d", len(logits), len(FERPlusLabels))
	}

	return softmax(logits[:len(FERPlusLabels)]), nil
}

func (c *FERPlusClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net.Close()
}

func softmax(logits []float32) analysis.Scores {
	peak := float64(logits[0])
	for _, l := range logits[1:] {
		peak = math.Max(peak, float64(l))
	}

	sum := 0.0
	exps := make([]float64, len(logits))
	for i, l := range logits {
		exps[i] = math.Exp(float64(l) - peak)
		sum += exps[i]
	}

	scores := make(analysis.Scores, len(logits))
	for i, e := range exps {
		scores[FERPlusLabels[i]] = e / sum
	}
	return scores
}

func grayMat(img image.Image) (gocv.Mat, error) {
	bgr, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("convert image: %w", err)
	}
	defer bgr.Close()

	if bgr.Empty() {
		return gocv.Mat{}, fmt.Errorf("empty image")
	}

	gray := gocv.NewMat()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	return gray, nil
}
