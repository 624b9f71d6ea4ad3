package analysis

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/T3-Labs/emotion-capture/pkg/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	faces []image.Rectangle
	err   error
	seen  image.Rectangle
}

func (f *fakeDetector) Detect(img image.Image) ([]image.Rectangle, error) {
	f.seen = img.Bounds()
	return f.faces, f.err
}

type fakeClassifier struct {
	scores Scores
	err    error
	face   image.Rectangle
}

func (f *fakeClassifier) Classify(face image.Image) (Scores, error) {
	f.face = face.Bounds()
	return f.scores, f.err
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}))
	return buf.Bytes()
}

func TestEngagement(t *testing.T) {
	tests := map[string]float64{
		"happy":    0.92,
		"HAPPY":    0.92,
		"Excited":  0.95,
		"surprise": 0.82,
		"neutral":  0.6,
		"sad":      0.32,
		"angry":    0.18,
		"fear":     0.25,
		"disgust":  0.15,
		"unknown":  0,
		"contempt": 0,
		"":         0,
	}
	for emotion, want := range tests {
		assert.Equal(t, want, Engagement(emotion), emotion)
	}
}

func TestScoresDominant(t *testing.T) {
	label, score := Scores{"sad": 0.1, "happy": 0.7, "neutral": 0.2}.Dominant()
	assert.Equal(t, "happy", label)
	assert.Equal(t, 0.7, score)

	label, score = Scores{"sad": 0.5, "angry": 0.5}.Dominant()
	assert.Equal(t, "angry", label)
	assert.Equal(t, 0.5, score)

	label, score = Scores{}.Dominant()
	assert.Equal(t, Unknown, label)
	assert.Zero(t, score)
}

func TestAnalyzeOK(t *testing.T) {
	det := &fakeDetector{faces: []image.Rectangle{image.Rect(10, 20, 110, 140), image.Rect(0, 0, 5, 5)}}
	cls := &fakeClassifier{scores: Scores{"happy": 0.81, "neutral": 0.19}}

	res, err := NewPipeline(det, cls).Analyze(testJPEG(t, 320, 240))
	require.NoError(t, err)

	assert.Equal(t, &submission.Result{
		Status:     submission.StatusOK,
		Emotion:    "happy",
		Confidence: 0.81,
		Engagement: 0.92,
	}, res)
	assert.Equal(t, image.Rect(0, 0, 320, 240), det.seen)
	// only the first face is classified
	assert.Equal(t, image.Rect(0, 0, 100, 120), cls.face)
}

func TestAnalyzeNoFace(t *testing.T) {
	cls := &fakeClassifier{}

	res, err := NewPipeline(&fakeDetector{}, cls).Analyze(testJPEG(t, 64, 48))
	require.NoError(t, err)

	assert.Equal(t, submission.StatusWarning, res.Status)
	assert.Equal(t, NoFace, res.Emotion)
	assert.Zero(t, res.Confidence)
	assert.Zero(t, res.Engagement)
	assert.False(t, res.OK())
	assert.Equal(t, image.Rectangle{}, cls.face)
}

func TestAnalyzeUndecodable(t *testing.T) {
	_, err := NewPipeline(&fakeDetector{}, &fakeClassifier{}).Analyze([]byte("not an image"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestAnalyzeDetectorAndClassifierErrors(t *testing.T) {
	boom := errors.New("boom")
	frame := testJPEG(t, 64, 48)

	_, err := NewPipeline(&fakeDetector{err: boom}, &fakeClassifier{}).Analyze(frame)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrDecode)

	det := &fakeDetector{faces: []image.Rectangle{image.Rect(0, 0, 32, 32)}}
	_, err = NewPipeline(det, &fakeClassifier{err: boom}).Analyze(frame)
	assert.ErrorIs(t, err, boom)
}

func TestAnalyzeUnknownEmotion(t *testing.T) {
	det := &fakeDetector{faces: []image.Rectangle{image.Rect(0, 0, 32, 32)}}
	cls := &fakeClassifier{scores: Scores{"contempt": 0.9, "neutral": 0.1}}

	res, err := NewPipeline(det, cls).Analyze(testJPEG(t, 64, 48))
	require.NoError(t, err)
	assert.Equal(t, "contempt", res.Emotion)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Zero(t, res.Engagement)
}

func TestCropClipsToBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 40))
	img.Set(45, 35, color.RGBA{R: 255, A: 255})

	face := Crop(img, image.Rect(40, 30, 80, 80))
	assert.Equal(t, image.Rect(0, 0, 10, 10), face.Bounds())

	r, _, _, _ := face.At(5, 5).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}
