// Package predictor orchestrates the inference path:
// tokenize/encode via the shared encoder, run the classification heads,
// softmax each logit vector independently, and decode arg-max indices to
// label names. The encoder session and head weights are constructed once
// at startup and shared read-only across calls - never rebuilt per
// request.
package predictor

import (
	"context"
	"fmt"

	"github.com/bastionsec/bastion/pkg/encoder"
	"github.com/bastionsec/bastion/pkg/labels"
	"github.com/bastionsec/bastion/pkg/model"
)

// Prediction is the classification result for one text sample.
// Confidence is the maximum softmax probability of the threat
// distribution; the severity distribution does not contribute to it.
type Prediction struct {
	ThreatType labels.ThreatType `json:"threat_type"`
	Severity   labels.Severity   `json:"severity"`
	Confidence float64           `json:"confidence"`
}

// Predictor classifies text samples. Safe for concurrent use: the heads
// are held in evaluation mode and never mutated.
type Predictor struct {
	enc   encoder.Encoder
	heads *model.Heads
}

// New creates a Predictor over a ready encoder and trained (or loaded)
// heads. The heads are forced into evaluation mode so no dropout noise can
// leak into inference.
func New(enc encoder.Encoder, heads *model.Heads) (*Predictor, error) {
	if enc == nil {
		return nil, fmt.Errorf("predictor: nil encoder")
	}
	if heads == nil {
		return nil, fmt.Errorf("predictor: nil heads")
	}
	if enc.Dim() != model.InputDim {
		return nil, fmt.Errorf("predictor: encoder dim %d, heads expect %d", enc.Dim(), model.InputDim)
	}
	heads.SetMode(model.ModeEval)
	return &Predictor{enc: enc, heads: heads}, nil
}

// Predict classifies a single text sample.
func (p *Predictor) Predict(ctx context.Context, text string) (Prediction, error) {
	preds, err := p.PredictBatch(ctx, []string{text})
	if err != nil {
		return Prediction{}, err
	}
	return preds[0], nil
}

// PredictBatch classifies several texts in one encoder pass.
func (p *Predictor) PredictBatch(ctx context.Context, texts []string) ([]Prediction, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings, err := p.enc.Encode(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("predictor: %w", err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("predictor: got %d embeddings for %d texts", len(embeddings), len(texts))
	}

	preds := make([]Prediction, len(texts))
	for i, emb := range embeddings {
		preds[i] = p.decode(emb)
	}
	return preds, nil
}

func (p *Predictor) decode(embedding []float32) Prediction {
	threatLogits, severityLogits := p.heads.Forward(embedding)

	threatProbs := model.Softmax(threatLogits)
	severityProbs := model.Softmax(severityLogits)

	threatIdx := model.Argmax(threatProbs)
	return Prediction{
		ThreatType: labels.ThreatAt(threatIdx),
		Severity:   labels.SeverityAt(model.Argmax(severityProbs)),
		Confidence: float64(threatProbs[threatIdx]),
	}
}
