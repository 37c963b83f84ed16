package detection

import (
	"errors"
	"math"
	"testing"

	"aranyani/internal/pipeline"
)

// buildOutput lays out per-anchor class scores in channel-major order
func buildOutput(anchors int, scores map[int][]float32, numClasses int) []float32 {
	out := make([]float32, (boxChannels+numClasses)*anchors)
	for i := 0; i < anchors; i++ {
		out[0*anchors+i] = float32(10 * i)
		out[1*anchors+i] = float32(20 * i)
		out[2*anchors+i] = 5
		out[3*anchors+i] = 6
		for c := 0; c < numClasses; c++ {
			v := float32(0.0005)
			if s, ok := scores[i]; ok {
				v = s[c]
			}
			out[(boxChannels+c)*anchors+i] = v
		}
	}
	return out
}

func TestDecodeOutputSelectsDominantAnchor(t *testing.T) {
	out := buildOutput(4, map[int][]float32{
		2: {0.01, 0.02, 0.9, 0.05, 0.01, 0.01},
	}, 6)

	det, err := DecodeOutput(out, 6, DefaultExistenceFloor)
	if err != nil {
		t.Fatalf("DecodeOutput: %v", err)
	}
	if det.ClassID != 2 {
		t.Errorf("class = %d, want 2", det.ClassID)
	}
	if det.Anchor != 2 {
		t.Errorf("anchor = %d, want 2", det.Anchor)
	}
	if det.Box != [4]float32{20, 40, 5, 6} {
		t.Errorf("box = %v", det.Box)
	}

	preds := Rank(det.Scores, DefaultClasses)
	if top, _ := preds.Top(); top.ClassID != 2 || top.Label != "Cattle" {
		t.Errorf("top = %+v, want Cattle", top)
	}
}

// withValue overwrites one value; class -4..-1 addresses the box channels
func withValue(out []float32, anchors, anchor, class int, v float32) []float32 {
	out[(boxChannels+class)*anchors+anchor] = v
	return out
}

func TestDecodeOutputTieKeepsLowestAnchor(t *testing.T) {
	out := buildOutput(3, map[int][]float32{
		0: {0.5, 0, 0, 0, 0, 0},
		2: {0, 0, 0, 0.5, 0, 0},
	}, 6)

	det, err := DecodeOutput(out, 6, DefaultExistenceFloor)
	if err != nil {
		t.Fatalf("DecodeOutput: %v", err)
	}
	if det.Anchor != 0 || det.ClassID != 0 {
		t.Errorf("got anchor %d class %d, want anchor 0 class 0", det.Anchor, det.ClassID)
	}
}

func TestDecodeOutputBelowFloor(t *testing.T) {
	out := buildOutput(8, nil, 6)

	if _, err := DecodeOutput(out, 6, DefaultExistenceFloor); !errors.Is(err, ErrNoDetection) {
		t.Fatalf("error = %v, want ErrNoDetection", err)
	}
}

func TestDecodeOutputRejectsMalformedTensor(t *testing.T) {
	tests := []struct {
		name   string
		output []float32
	}{
		{"empty", nil},
		{"ragged", make([]float32, 31)},
		{"NaN score", withValue(buildOutput(3, nil, 6), 3, 0, 0, float32(math.NaN()))},
		{"+Inf score", withValue(buildOutput(3, nil, 6), 3, 2, 3, float32(math.Inf(1)))},
		{"-Inf score", withValue(buildOutput(3, nil, 6), 3, 1, 5, float32(math.Inf(-1)))},
		{"NaN box", withValue(buildOutput(3, map[int][]float32{1: scoresWithTop(3, 90)}, 6), 3, 1, -2, float32(math.NaN()))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeOutput(tt.output, 6, DefaultExistenceFloor)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error = %v, want *DecodeError", err)
			}
			if !errors.Is(err, pipeline.ErrDecodeFailure) {
				t.Fatal("DecodeError should unwrap to ErrDecodeFailure")
			}
		})
	}
}

func TestRank(t *testing.T) {
	preds := Rank([]float32{1, 3, 2, 0, 0, 0}, DefaultClasses)

	if len(preds) != 6 {
		t.Fatalf("got %d predictions, want 6", len(preds))
	}
	order := []int{1, 2}
	for i, id := range order {
		if preds[i].ClassID != id {
			t.Errorf("rank %d = class %d, want %d", i, preds[i].ClassID, id)
		}
	}

	var sum float64
	for i, p := range preds {
		sum += p.Confidence
		if i > 0 && p.Confidence > preds[i-1].Confidence {
			t.Fatalf("predictions not sorted at %d", i)
		}
	}
	if math.Abs(sum-100) > 1e-6 {
		t.Errorf("confidences sum to %v, want 100", sum)
	}

	want := math.Exp(3) / (math.Exp(1) + math.Exp(3) + math.Exp(2) + 3) * 100
	if math.Abs(preds[0].Confidence-want) > 1e-6 {
		t.Errorf("top confidence = %v, want %v", preds[0].Confidence, want)
	}
}

func TestRankLargeScoresDoNotOverflow(t *testing.T) {
	preds := Rank([]float32{1000, 999, 0}, ClassTable{"a", "b", "c"})
	if math.IsNaN(preds[0].Confidence) || preds[0].Label != "a" {
		t.Fatalf("unexpected ranking %+v", preds)
	}
}

func TestTensorRoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 0.001}
	out, err := DecodeTensor(EncodeTensor(in))
	if err != nil {
		t.Fatalf("DecodeTensor: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("value %d = %v, want %v", i, out[i], in[i])
		}
	}

	if _, err := DecodeTensor([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated tensor")
	}
}
