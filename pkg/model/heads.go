// Package model implements the classification heads that sit on top of the
// frozen transformer encoder, plus their training loop and weight
// persistence. The architecture: a shared Linear(768, 256) + ReLU +
// dropout(0.3) feature layer feeding two parallel Linear(256, 4)
// projections, one for threat type and one for severity. The two heads read
// the same shared feature independently - severity is not conditioned on
// the detected threat type.
package model

import (
	"math"
	"math/rand"

	"github.com/bastionsec/bastion/pkg/labels"
)

const (
	// InputDim is the pooled embedding width coming from the encoder.
	InputDim = 768
	// HiddenDim is the shared intermediate feature width.
	HiddenDim = 256
	// DropoutRate is the random-zeroing rate applied to the shared
	// feature during training only.
	DropoutRate = 0.3
)

// Mode controls whether regularization is active. The mode flag is
// explicit: inference must never see dropout noise.
type Mode int

const (
	ModeEval Mode = iota
	ModeTrain
)

// Linear is a dense layer with row-major weights [Out][In] stored flat.
type Linear struct {
	W   []float32
	B   []float32
	In  int
	Out int
}

func newLinear(in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		W:   make([]float32, in*out),
		B:   make([]float32, out),
		In:  in,
		Out: out,
	}
	// Scaled normal init, stddev 1/sqrt(fan_in); biases start at zero.
	std := 1.0 / math.Sqrt(float64(in))
	for i := range l.W {
		l.W[i] = float32(rng.NormFloat64() * std)
	}
	return l
}

// Apply computes y = Wx + b.
func (l *Linear) Apply(x []float32) []float32 {
	y := make([]float32, l.Out)
	for i := 0; i < l.Out; i++ {
		row := l.W[i*l.In : (i+1)*l.In]
		sum := l.B[i]
		for j, w := range row {
			sum += w * x[j]
		}
		y[i] = sum
	}
	return y
}

// Heads holds the trainable parameters of both classification heads.
// Safe for concurrent use in ModeEval; training mutates parameters and is
// single-threaded.
type Heads struct {
	Shared   *Linear // InputDim -> HiddenDim
	Threat   *Linear // HiddenDim -> NumThreatTypes
	Severity *Linear // HiddenDim -> NumSeverities

	mode Mode
	rng  *rand.Rand // dropout mask source, used only in ModeTrain
}

// NewHeads creates randomly initialized heads. The seed makes
// initialization and dropout reproducible.
func NewHeads(seed int64) *Heads {
	rng := rand.New(rand.NewSource(seed))
	return &Heads{
		Shared:   newLinear(InputDim, HiddenDim, rng),
		Threat:   newLinear(HiddenDim, labels.NumThreatTypes, rng),
		Severity: newLinear(HiddenDim, labels.NumSeverities, rng),
		mode:     ModeEval,
		rng:      rng,
	}
}

// SetMode switches between training (dropout on) and evaluation
// (deterministic).
func (h *Heads) SetMode(m Mode) {
	h.mode = m
}

// Mode returns the current mode.
func (h *Heads) Mode() Mode {
	return h.mode
}

// Forward computes both logit vectors for a single pooled embedding.
// In ModeEval the computation is fully deterministic.
func (h *Heads) Forward(embedding []float32) (threatLogits, severityLogits []float32) {
	t := h.forward(embedding)
	return t.threatLogits, t.severityLogits
}

// trace captures the intermediate activations of one forward pass, needed
// for backpropagation during training.
type trace struct {
	input          []float32
	preAct         []float32 // shared layer output before ReLU
	feature        []float32 // after ReLU (and dropout in ModeTrain)
	dropKept       []bool    // nil outside ModeTrain
	threatLogits   []float32
	severityLogits []float32
}

func (h *Heads) forward(embedding []float32) trace {
	preAct := h.Shared.Apply(embedding)

	feature := make([]float32, len(preAct))
	for i, z := range preAct {
		if z > 0 {
			feature[i] = z
		}
	}

	var kept []bool
	if h.mode == ModeTrain {
		// Inverted dropout: surviving units are scaled by 1/(1-p) so the
		// expected activation matches evaluation time.
		kept = make([]bool, len(feature))
		scale := float32(1.0 / (1.0 - DropoutRate))
		for i := range feature {
			if h.rng.Float64() < DropoutRate {
				feature[i] = 0
			} else {
				kept[i] = true
				feature[i] *= scale
			}
		}
	}

	return trace{
		input:          embedding,
		preAct:         preAct,
		feature:        feature,
		dropKept:       kept,
		threatLogits:   h.Threat.Apply(feature),
		severityLogits: h.Severity.Apply(feature),
	}
}

// Softmax returns the numerically stable softmax of logits. The result
// sums to 1 within floating tolerance.
func Softmax(logits []float32) []float32 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	probs := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxLogit))
		probs[i] = float32(e)
		sum += e
	}
	inv := float32(1.0 / sum)
	for i := range probs {
		probs[i] *= inv
	}
	return probs
}

// Argmax returns the index of the largest value. Ties resolve to the
// lowest index.
func Argmax(v []float32) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}
