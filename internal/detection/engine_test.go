package detection

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aranyani/internal/pipeline"
)

type fakeRuntime struct {
	loads   atomic.Int32
	runs    atomic.Int32
	closed  atomic.Bool
	loadErr error
	delay   time.Duration
	output  []float32
	lastLen int
	mu      sync.Mutex
}

func (r *fakeRuntime) Load(ctx context.Context, artifact string) (ModelInfo, error) {
	r.loads.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.loadErr != nil {
		return ModelInfo{}, r.loadErr
	}
	return ModelInfo{Name: filepath.Base(artifact), Classes: len(DefaultClasses)}, nil
}

func (r *fakeRuntime) Run(ctx context.Context, input []float32) ([]float32, error) {
	r.runs.Add(1)
	r.mu.Lock()
	r.lastLen = len(input)
	r.mu.Unlock()
	return r.output, nil
}

func (r *fakeRuntime) Close() error {
	r.closed.Store(true)
	return nil
}

func writeArtifact(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wildlife.tflite")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// scoresWithTop returns six raw scores whose exp-normalized top class has
// the given confidence in percent
func scoresWithTop(classID int, percent float64) []float32 {
	p := percent / 100
	scores := make([]float32, 6)
	scores[classID] = float32(math.Log(p * 5 / (1 - p)))
	return scores
}

func newLoadedEngine(t *testing.T, rt *fakeRuntime) *Engine {
	t.Helper()
	e := NewEngine(rt, EngineConfig{Artifact: writeArtifact(t, []byte("model")), InputSize: 16})
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return e
}

func TestEngineInitializeErrors(t *testing.T) {
	tests := []struct {
		name     string
		artifact func(t *testing.T) string
		runtime  *fakeRuntime
	}{
		{"no artifact", func(t *testing.T) string { return "" }, &fakeRuntime{}},
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.tflite") }, &fakeRuntime{}},
		{"empty file", func(t *testing.T) string { return writeArtifact(t, nil) }, &fakeRuntime{}},
		{"runtime failure", func(t *testing.T) string { return writeArtifact(t, []byte("x")) }, &fakeRuntime{loadErr: errors.New("bad flatbuffer")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(tt.runtime, EngineConfig{Artifact: tt.artifact(t)})
			err := e.Initialize(context.Background())

			var loadErr *ModelLoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("error = %v, want *ModelLoadError", err)
			}
			if e.Ready() {
				t.Fatal("engine ready after failed load")
			}
		})
	}
}

func TestEngineInitializeIsSharedAndIdempotent(t *testing.T) {
	rt := &fakeRuntime{delay: 20 * time.Millisecond}
	e := NewEngine(rt, EngineConfig{Artifact: writeArtifact(t, []byte("model"))})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Initialize(context.Background()); err != nil {
				t.Errorf("Initialize: %v", err)
			}
		}()
	}
	wg.Wait()

	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := rt.loads.Load(); got != 1 {
		t.Fatalf("runtime loaded %d times, want 1", got)
	}
}

func TestEnginePredictDominantClass(t *testing.T) {
	rt := &fakeRuntime{}
	rt.output = buildOutput(5, map[int][]float32{3: scoresWithTop(2, 80)}, 6)
	e := newLoadedEngine(t, rt)

	preds, ok := e.Predict(context.Background(), testImage(t))
	if !ok {
		t.Fatal("expected a prediction")
	}
	top, _ := preds.Top()
	if top.ClassID != 2 || top.Label != "Cattle" {
		t.Fatalf("top = %+v, want Cattle", top)
	}
	if math.Abs(top.Confidence-80) > 1e-3 {
		t.Errorf("confidence = %v, want 80", top.Confidence)
	}
	if rt.lastLen != 16*16*3 {
		t.Errorf("tensor length = %d, want %d", rt.lastLen, 16*16*3)
	}
}

func TestEngineConfidenceFloor(t *testing.T) {
	tests := []struct {
		percent float64
		ok      bool
	}{
		{24, false},
		{26, true},
	}

	for _, tt := range tests {
		rt := &fakeRuntime{}
		rt.output = buildOutput(2, map[int][]float32{0: scoresWithTop(3, tt.percent)}, 6)
		e := newLoadedEngine(t, rt)

		_, err := e.Classify(context.Background(), testImage(t))
		if tt.ok && err != nil {
			t.Errorf("%v%%: unexpected error %v", tt.percent, err)
		}
		if !tt.ok && !errors.Is(err, ErrBelowConfidence) {
			t.Errorf("%v%%: error = %v, want ErrBelowConfidence", tt.percent, err)
		}
		if _, ok := e.Predict(context.Background(), testImage(t)); ok != tt.ok {
			t.Errorf("%v%%: Predict ok = %v, want %v", tt.percent, ok, tt.ok)
		}
	}
}

func TestEnginePredictFailuresMapToNoResult(t *testing.T) {
	rt := &fakeRuntime{output: make([]float32, 7)}
	e := newLoadedEngine(t, rt)

	if _, ok := e.Predict(context.Background(), []byte("not an image")); ok {
		t.Error("undecodable image produced a prediction")
	}
	if _, ok := e.Predict(context.Background(), testImage(t)); ok {
		t.Error("malformed output produced a prediction")
	}
}

func TestEngineNonFiniteScoresAreNoResult(t *testing.T) {
	tests := []struct {
		name   string
		anchor int
		class  int
		value  float32
	}{
		{"NaN ahead of a valid anchor", 0, 0, float32(math.NaN())},
		{"+Inf", 2, 3, float32(math.Inf(1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := buildOutput(3, map[int][]float32{2: {0, 0, 0, 5, 0, 0}}, 6)
			rt := &fakeRuntime{output: withValue(out, 3, tt.anchor, tt.class, tt.value)}
			e := newLoadedEngine(t, rt)

			_, err := e.Classify(context.Background(), testImage(t))
			if !errors.Is(err, pipeline.ErrDecodeFailure) {
				t.Errorf("error = %v, want a decode failure", err)
			}
			if preds, ok := e.Predict(context.Background(), testImage(t)); ok {
				t.Errorf("Predict returned %+v", preds)
			}
		})
	}
}

func TestMeetsConfidence(t *testing.T) {
	tests := []struct {
		confidence float64
		want       bool
	}{
		{24.9, false},
		{25, true},
		{99, true},
		{math.NaN(), false},
	}

	for _, tt := range tests {
		if got := meetsConfidence(tt.confidence, 25); got != tt.want {
			t.Errorf("meetsConfidence(%v, 25) = %v, want %v", tt.confidence, got, tt.want)
		}
	}
}

func TestEngineDispose(t *testing.T) {
	rt := &fakeRuntime{output: buildOutput(1, map[int][]float32{0: scoresWithTop(1, 90)}, 6)}
	e := newLoadedEngine(t, rt)

	if err := e.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if err := e.Dispose(); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}
	if !rt.closed.Load() {
		t.Fatal("runtime not closed")
	}

	runs := rt.runs.Load()
	if _, err := e.Classify(context.Background(), testImage(t)); !errors.Is(err, pipeline.ErrModelNotReady) {
		t.Fatalf("error = %v, want ErrModelNotReady", err)
	}
	if rt.runs.Load() != runs {
		t.Fatal("runtime invoked after Dispose")
	}
	if err := e.Initialize(context.Background()); !errors.Is(err, ErrModelDisposed) {
		t.Fatalf("Initialize after Dispose = %v, want ErrModelDisposed", err)
	}
	if !e.Disposed() {
		t.Fatal("Disposed() = false")
	}
}

func TestPreprocess(t *testing.T) {
	tensor, err := Preprocess(testImage(t), 4)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if len(tensor) != 4*4*3 {
		t.Fatalf("len = %d, want 48", len(tensor))
	}
	for i := 0; i < len(tensor); i += 3 {
		if tensor[i] < 0.98 || tensor[i+1] > 0.02 || tensor[i+2] > 0.02 {
			t.Fatalf("pixel %d = %v,%v,%v, want red", i/3, tensor[i], tensor[i+1], tensor[i+2])
		}
	}

	_, err = Preprocess([]byte{0xff, 0xd8, 0x00}, 4)
	if !errors.Is(err, pipeline.ErrDecodeFailure) {
		t.Fatalf("error = %v, want ErrDecodeFailure", err)
	}
}
