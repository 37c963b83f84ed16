package detection

import (
	"fmt"
	"math"
	"sort"

	"aranyani/internal/pipeline"
)

// boxChannels is the number of leading box values per anchor (cx, cy, w, h)
const boxChannels = 4

// DefaultExistenceFloor is the raw score an anchor must exceed to count
const DefaultExistenceFloor = 0.001

// AnchorDetection is the best-scoring anchor of a model output
type AnchorDetection struct {
	Anchor  int
	ClassID int
	Score   float32
	Box     [4]float32
	Scores  []float32 // Raw per-class scores of this anchor
}

// DecodeOutput selects the single anchor with the highest raw class score.
// The output is channel-major: the value for anchor i and channel c is at
// c*anchors + i, with 4 box channels followed by numClasses score channels.
func DecodeOutput(output []float32, numClasses int, floor float32) (AnchorDetection, error) {
	if numClasses <= 0 {
		return AnchorDetection{}, &DecodeError{Stage: "output", Reason: "no classes configured"}
	}

	channels := boxChannels + numClasses
	if len(output) == 0 || len(output)%channels != 0 {
		return AnchorDetection{}, &DecodeError{
			Stage:  "output",
			Reason: fmt.Sprintf("tensor length %d is not a multiple of %d channels", len(output), channels),
		}
	}
	anchors := len(output) / channels
	for i, v := range output {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return AnchorDetection{}, &DecodeError{
				Stage:  "output",
				Reason: fmt.Sprintf("non-finite value %v at channel %d anchor %d", v, i/anchors, i%anchors),
			}
		}
	}

	best := -1
	bestClass := 0
	var bestScore float32
	for i := 0; i < anchors; i++ {
		cls, score := 0, output[boxChannels*anchors+i]
		for c := 1; c < numClasses; c++ {
			if v := output[(boxChannels+c)*anchors+i]; v > score {
				cls, score = c, v
			}
		}
		if score <= floor {
			continue
		}
		if best < 0 || score > bestScore {
			best, bestClass, bestScore = i, cls, score
		}
	}

	if best < 0 {
		return AnchorDetection{}, ErrNoDetection
	}

	det := AnchorDetection{
		Anchor:  best,
		ClassID: bestClass,
		Score:   bestScore,
		Scores:  make([]float32, numClasses),
	}
	for c := 0; c < boxChannels; c++ {
		det.Box[c] = output[c*anchors+best]
	}
	for c := 0; c < numClasses; c++ {
		det.Scores[c] = output[(boxChannels+c)*anchors+best]
	}
	return det, nil
}

// Rank exp-normalizes raw class scores into percentages, highest first.
// Scores are shifted by their maximum before exponentiation; the result is
// the same distribution without overflow.
func Rank(scores []float32, classes ClassTable) pipeline.RankedPredictions {
	if len(scores) == 0 {
		return nil
	}

	peak := float64(scores[0])
	for _, s := range scores[1:] {
		if float64(s) > peak {
			peak = float64(s)
		}
	}

	exps := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		exps[i] = math.Exp(float64(s) - peak)
		sum += exps[i]
	}

	preds := make(pipeline.RankedPredictions, len(scores))
	for i := range scores {
		preds[i] = pipeline.ClassPrediction{
			ClassID:    i,
			Label:      classes.Label(i),
			Confidence: exps[i] / sum * 100,
		}
	}

	sort.SliceStable(preds, func(a, b int) bool {
		return preds[a].Confidence > preds[b].Confidence
	})
	return preds
}
