package model

import (
	"fmt"
	"log"
	"math"

	"github.com/bastionsec/bastion/pkg/labels"
)

// Batch is one training batch of pre-encoded samples. Embeddings carries
// one pooled vector per sample; the label slices are parallel to it.
type Batch struct {
	Embeddings     [][]float32
	ThreatLabels   []int
	SeverityLabels []int
}

// Validate checks the batch is usable. A batch missing either label slice,
// or with mismatched lengths, is fatal for the training run - silently
// dropping one loss term would corrupt the objective.
func (b *Batch) Validate() error {
	n := len(b.Embeddings)
	if n == 0 {
		return fmt.Errorf("model: empty batch")
	}
	if b.ThreatLabels == nil {
		return fmt.Errorf("model: batch missing threat labels")
	}
	if b.SeverityLabels == nil {
		return fmt.Errorf("model: batch missing severity labels")
	}
	if len(b.ThreatLabels) != n || len(b.SeverityLabels) != n {
		return fmt.Errorf("model: batch size mismatch: %d embeddings, %d threat labels, %d severity labels",
			n, len(b.ThreatLabels), len(b.SeverityLabels))
	}
	for _, y := range b.ThreatLabels {
		if y < 0 || y >= labels.NumThreatTypes {
			return fmt.Errorf("model: threat label %d out of range", y)
		}
	}
	for _, y := range b.SeverityLabels {
		if y < 0 || y >= labels.NumSeverities {
			return fmt.Errorf("model: severity label %d out of range", y)
		}
	}
	return nil
}

// TrainConfig holds optimizer hyperparameters. Defaults match the usual
// fine-tuning recipe for BERT-class models.
type TrainConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultTrainConfig returns AdamW defaults with lr 2e-5.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		LearningRate: 2e-5,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.01,
	}
}

// grads mirrors the parameter tensors of Heads.
type grads struct {
	sharedW, sharedB     []float32
	threatW, threatB     []float32
	severityW, severityB []float32
}

func newGrads(h *Heads) *grads {
	return &grads{
		sharedW:   make([]float32, len(h.Shared.W)),
		sharedB:   make([]float32, len(h.Shared.B)),
		threatW:   make([]float32, len(h.Threat.W)),
		threatB:   make([]float32, len(h.Threat.B)),
		severityW: make([]float32, len(h.Severity.W)),
		severityB: make([]float32, len(h.Severity.B)),
	}
}

func (g *grads) zero() {
	for _, s := range [][]float32{g.sharedW, g.sharedB, g.threatW, g.threatB, g.severityW, g.severityB} {
		for i := range s {
			s[i] = 0
		}
	}
}

// adamState holds first and second moment estimates for one tensor.
type adamState struct {
	m []float32
	v []float32
}

// Trainer runs gradient descent over the classification heads. The encoder
// stays frozen: gradients stop at the pooled embedding.
type Trainer struct {
	heads *Heads
	cfg   TrainConfig
	g     *grads
	state map[string]*adamState
	step  int
}

// NewTrainer creates a trainer around an existing set of heads.
func NewTrainer(heads *Heads, cfg TrainConfig) *Trainer {
	t := &Trainer{
		heads: heads,
		cfg:   cfg,
		g:     newGrads(heads),
		state: make(map[string]*adamState),
	}
	for name, p := range t.params() {
		t.state[name] = &adamState{m: make([]float32, len(p)), v: make([]float32, len(p))}
	}
	return t
}

func (t *Trainer) params() map[string][]float32 {
	return map[string][]float32{
		"shared.weight":   t.heads.Shared.W,
		"shared.bias":     t.heads.Shared.B,
		"threat.weight":   t.heads.Threat.W,
		"threat.bias":     t.heads.Threat.B,
		"severity.weight": t.heads.Severity.W,
		"severity.bias":   t.heads.Severity.B,
	}
}

func (t *Trainer) gradFor(name string) []float32 {
	switch name {
	case "shared.weight":
		return t.g.sharedW
	case "shared.bias":
		return t.g.sharedB
	case "threat.weight":
		return t.g.threatW
	case "threat.bias":
		return t.g.threatB
	case "severity.weight":
		return t.g.severityW
	case "severity.bias":
		return t.g.severityB
	}
	return nil
}

// Train iterates epochs over the batches and returns the mean loss per
// epoch. The heads are left in ModeEval when training finishes.
func (t *Trainer) Train(batches []Batch, epochs int) ([]float64, error) {
	if len(batches) == 0 {
		return nil, fmt.Errorf("model: no training batches")
	}

	t.heads.SetMode(ModeTrain)
	defer t.heads.SetMode(ModeEval)

	history := make([]float64, 0, epochs)
	for epoch := 0; epoch < epochs; epoch++ {
		var epochLoss float64
		for i := range batches {
			loss, err := t.Step(batches[i])
			if err != nil {
				return history, fmt.Errorf("model: epoch %d batch %d: %w", epoch, i, err)
			}
			epochLoss += loss
		}
		mean := epochLoss / float64(len(batches))
		history = append(history, mean)
		log.Printf("epoch %d/%d: loss=%.4f", epoch+1, epochs, mean)
	}
	return history, nil
}

// Step runs one optimizer step on a single batch and returns the batch
// loss: mean cross-entropy of the threat head plus mean cross-entropy of
// the severity head, unweighted.
func (t *Trainer) Step(batch Batch) (float64, error) {
	if err := batch.Validate(); err != nil {
		return 0, err
	}

	t.g.zero()

	n := len(batch.Embeddings)
	invN := float32(1.0 / float64(n))
	var totalLoss float64

	for i, x := range batch.Embeddings {
		if len(x) != t.heads.Shared.In {
			return 0, fmt.Errorf("model: embedding %d has dim %d, want %d", i, len(x), t.heads.Shared.In)
		}
		tr := t.heads.forward(x)

		yt := batch.ThreatLabels[i]
		ys := batch.SeverityLabels[i]

		threatProbs := Softmax(tr.threatLogits)
		severityProbs := Softmax(tr.severityLogits)
		totalLoss += negLogProb(threatProbs, yt) + negLogProb(severityProbs, ys)

		// Logit gradients: softmax minus one-hot, scaled by 1/n for the
		// batch mean.
		dThreat := make([]float32, len(threatProbs))
		for k, p := range threatProbs {
			dThreat[k] = p * invN
		}
		dThreat[yt] -= invN

		dSeverity := make([]float32, len(severityProbs))
		for k, p := range severityProbs {
			dSeverity[k] = p * invN
		}
		dSeverity[ys] -= invN

		t.backward(tr, dThreat, dSeverity)
	}

	t.applyAdamW()
	return totalLoss / float64(n), nil
}

// backward accumulates gradients for one sample given the logit gradients.
func (t *Trainer) backward(tr trace, dThreat, dSeverity []float32) {
	hidden := t.heads.Shared.Out

	// Head layers: dW = dLogit x feature^T, plus the feature gradient
	// flowing back through both heads.
	dFeature := make([]float32, hidden)
	accumulateLinear(t.g.threatW, t.g.threatB, dFeature, t.heads.Threat, dThreat, tr.feature)
	accumulateLinear(t.g.severityW, t.g.severityB, dFeature, t.heads.Severity, dSeverity, tr.feature)

	// Dropout: gradient only flows through surviving units, with the same
	// inverted scale used in the forward pass.
	if tr.dropKept != nil {
		scale := float32(1.0 / (1.0 - DropoutRate))
		for j := range dFeature {
			if tr.dropKept[j] {
				dFeature[j] *= scale
			} else {
				dFeature[j] = 0
			}
		}
	}

	// ReLU gate.
	for j := range dFeature {
		if tr.preAct[j] <= 0 {
			dFeature[j] = 0
		}
	}

	// Shared layer.
	in := t.heads.Shared.In
	for j := 0; j < hidden; j++ {
		d := dFeature[j]
		if d == 0 {
			continue
		}
		t.g.sharedB[j] += d
		row := t.g.sharedW[j*in : (j+1)*in]
		for k, xv := range tr.input {
			row[k] += d * xv
		}
	}
}

// accumulateLinear adds one sample's gradient contribution for a head
// layer and accumulates the upstream feature gradient.
func accumulateLinear(gW, gB, dFeature []float32, layer *Linear, dOut, feature []float32) {
	for i, d := range dOut {
		gB[i] += d
		gRow := gW[i*layer.In : (i+1)*layer.In]
		wRow := layer.W[i*layer.In : (i+1)*layer.In]
		for j, f := range feature {
			gRow[j] += d * f
			dFeature[j] += d * wRow[j]
		}
	}
}

// applyAdamW performs one decoupled-weight-decay Adam update on every
// parameter tensor.
func (t *Trainer) applyAdamW() {
	t.step++
	bc1 := 1.0 - math.Pow(float64(t.cfg.Beta1), float64(t.step))
	bc2 := 1.0 - math.Pow(float64(t.cfg.Beta2), float64(t.step))

	for name, p := range t.params() {
		g := t.gradFor(name)
		st := t.state[name]
		for i := range p {
			st.m[i] = t.cfg.Beta1*st.m[i] + (1-t.cfg.Beta1)*g[i]
			st.v[i] = t.cfg.Beta2*st.v[i] + (1-t.cfg.Beta2)*g[i]*g[i]
			mHat := float64(st.m[i]) / bc1
			vHat := float64(st.v[i]) / bc2
			update := mHat/(math.Sqrt(vHat)+float64(t.cfg.Epsilon)) + float64(t.cfg.WeightDecay*p[i])
			p[i] -= t.cfg.LearningRate * float32(update)
		}
	}
}

// negLogProb is the cross-entropy of one sample against its true class,
// clamped away from log(0).
func negLogProb(probs []float32, class int) float64 {
	p := float64(probs[class])
	if p < 1e-12 {
		p = 1e-12
	}
	return -math.Log(p)
}
