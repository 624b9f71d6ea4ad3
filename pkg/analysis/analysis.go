// Package analysis turns a submitted frame into an emotion result: find the
// first face, classify its expression, map the dominant emotion to an
// engagement score.
package analysis

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sort"
	"strings"
	"time"

	"github.com/T3-Labs/emotion-capture/pkg/metrics"
	"github.com/T3-Labs/emotion-capture/pkg/submission"
	"golang.org/x/image/draw"
)

const (
	// NoFace is reported as the emotion when no face is detected.
	NoFace = "No Face"
	// Unknown is the dominant emotion of an empty score set.
	Unknown = "unknown"
)

// ErrDecode marks frames that are not a decodable image.
var ErrDecode = errors.New("image decoding failed")

var engagementByEmotion = map[string]float64{
	"happy":    0.92,
	"excited":  0.95,
	"surprise": 0.82,
	"neutral":  0.6,
	"sad":      0.32,
	"angry":    0.18,
	"fear":     0.25,
	"disgust":  0.15,
	"unknown":  0.0,
}

// Engagement maps an emotion label to its engagement score. Matching is
// case-insensitive; unmapped labels score 0.
func Engagement(emotion string) float64 {
	return engagementByEmotion[strings.ToLower(emotion)]
}

// Detector locates faces. Rectangles are in image coordinates, best first.
type Detector interface {
	Detect(img image.Image) ([]image.Rectangle, error)
}

// Classifier scores the expression of a cropped face.
type Classifier interface {
	Classify(face image.Image) (Scores, error)
}

// Scores holds per-emotion probabilities in [0, 1].
type Scores map[string]float64

// Dominant returns the highest scoring label and its score. Ties go to the
// alphabetically first label; an empty set is Unknown with 0.
func (s Scores) Dominant() (string, float64) {
	labels := make([]string, 0, len(s))
	for label := range s {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	best, bestScore := Unknown, 0.0
	for i, label := range labels {
		if i == 0 || s[label] > bestScore {
			best, bestScore = label, s[label]
		}
	}
	return best, bestScore
}

// Pipeline combines a detector and a classifier.
type Pipeline struct {
	detector   Detector
	classifier Classifier
}

func NewPipeline(detector Detector, classifier Classifier) *Pipeline {
	return &Pipeline{detector: detector, classifier: classifier}
}

// Analyze decodes data and runs detection and classification on the first
// face. Undecodable input returns an error wrapping ErrDecode; detector and
// classifier failures are returned wrapped as they are. A frame without a
// face is a warning result, not an error.
func (p *Pipeline) Analyze(data []byte) (*submission.Result, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	start := time.Now()
	defer func() {
		metrics.AnalysisLatency.Observe(time.Since(start).Seconds())
	}()

	faces, err := p.detector.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	if len(faces) == 0 {
		return &submission.Result{
			Status:     submission.StatusWarning,
			Emotion:    NoFace,
			Confidence: 0,
			Engagement: 0,
		}, nil
	}

	scores, err := p.classifier.Classify(Crop(img, faces[0]))
	if err != nil {
		return nil, fmt.Errorf("classify face: %w", err)
	}

	emotion, confidence := scores.Dominant()
	return &submission.Result{
		Status:     submission.StatusOK,
		Emotion:    emotion,
		Confidence: confidence,
		Engagement: Engagement(emotion),
	}, nil
}

// Crop copies the part of img inside r into a new image anchored at the
// origin. r is clipped to the image bounds.
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
