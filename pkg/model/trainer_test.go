package model

import (
	"math/rand"
	"strings"
	"testing"
)

// learnableBatch builds a synthetic batch where each class pair has a
// distinctive embedding, so the heads can fit it exactly.
func learnableBatch(n int) Batch {
	rng := rand.New(rand.NewSource(99))
	b := Batch{}
	for i := 0; i < n; i++ {
		threat := i % 4
		severity := (i / 4) % 4
		x := make([]float32, InputDim)
		for j := range x {
			x[j] = float32(rng.NormFloat64()) * 0.01
		}
		// Strong class-identifying directions.
		x[threat] = 1
		x[100+severity] = 1
		b.Embeddings = append(b.Embeddings, x)
		b.ThreatLabels = append(b.ThreatLabels, threat)
		b.SeverityLabels = append(b.SeverityLabels, severity)
	}
	return b
}

func TestTrainer_LossNonNegative(t *testing.T) {
	heads := NewHeads(1)
	trainer := NewTrainer(heads, DefaultTrainConfig())

	loss, err := trainer.Step(learnableBatch(16))
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if loss < 0 {
		t.Errorf("loss %f is negative; cross-entropy cannot be", loss)
	}
}

func TestTrainer_LossDecreases(t *testing.T) {
	heads := NewHeads(1)
	cfg := DefaultTrainConfig()
	// The production rate of 2e-5 needs thousands of steps to move a
	// randomly initialized head; crank it up so the trend is visible in a
	// fast test.
	cfg.LearningRate = 1e-2

	trainer := NewTrainer(heads, cfg)
	history, err := trainer.Train([]Batch{learnableBatch(16)}, 30)
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if len(history) != 30 {
		t.Fatalf("expected 30 epoch losses, got %d", len(history))
	}

	first, last := history[0], history[len(history)-1]
	if last >= first {
		t.Errorf("loss did not decrease: first epoch %.4f, last epoch %.4f", first, last)
	}
	// Dropout noise allows per-epoch wobble, but the average of the last
	// third should clearly beat the first third.
	third := len(history) / 3
	var early, late float64
	for i := 0; i < third; i++ {
		early += history[i]
		late += history[len(history)-1-i]
	}
	if late >= early {
		t.Errorf("mean loss did not trend down: early=%.4f late=%.4f", early/float64(third), late/float64(third))
	}
}

func TestTrainer_RepeatedStepsImproveFit(t *testing.T) {
	heads := NewHeads(5)
	cfg := DefaultTrainConfig()
	cfg.LearningRate = 1e-2

	trainer := NewTrainer(heads, cfg)
	batch := learnableBatch(16)
	heads.SetMode(ModeTrain)
	defer heads.SetMode(ModeEval)

	first, err := trainer.Step(batch)
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	var last float64
	for i := 0; i < 50; i++ {
		last, err = trainer.Step(batch)
		if err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}
	if last >= first {
		t.Errorf("loss after 50 steps (%.4f) should be below the initial %.4f", last, first)
	}
}

func TestBatch_Validate(t *testing.T) {
	valid := learnableBatch(4)

	tests := []struct {
		name    string
		mutate  func(b *Batch)
		wantErr string
	}{
		{"valid", func(b *Batch) {}, ""},
		{"empty", func(b *Batch) { b.Embeddings = nil }, "empty"},
		{"missing threat labels", func(b *Batch) { b.ThreatLabels = nil }, "threat"},
		{"missing severity labels", func(b *Batch) { b.SeverityLabels = nil }, "severity"},
		{"short severity labels", func(b *Batch) { b.SeverityLabels = b.SeverityLabels[:2] }, "mismatch"},
		{"threat label out of range", func(b *Batch) { b.ThreatLabels[0] = 4 }, "out of range"},
		{"negative severity label", func(b *Batch) { b.SeverityLabels[0] = -1 }, "out of range"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := Batch{
				Embeddings:     append([][]float32{}, valid.Embeddings...),
				ThreatLabels:   append([]int{}, valid.ThreatLabels...),
				SeverityLabels: append([]int{}, valid.SeverityLabels...),
			}
			tc.mutate(&b)
			err := b.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q should contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestTrainer_AbortsOnMalformedBatch(t *testing.T) {
	heads := NewHeads(1)
	trainer := NewTrainer(heads, DefaultTrainConfig())

	good := learnableBatch(4)
	bad := learnableBatch(4)
	bad.SeverityLabels = nil

	// Training must abort, not silently skip the severity loss term.
	_, err := trainer.Train([]Batch{good, bad}, 1)
	if err == nil {
		t.Fatal("expected training to abort on batch missing severity labels")
	}
	if !strings.Contains(err.Error(), "severity") {
		t.Errorf("error should mention severity labels, got: %v", err)
	}
}

func TestTrainer_RejectsWrongEmbeddingDim(t *testing.T) {
	heads := NewHeads(1)
	trainer := NewTrainer(heads, DefaultTrainConfig())

	batch := Batch{
		Embeddings:     [][]float32{make([]float32, 10)},
		ThreatLabels:   []int{0},
		SeverityLabels: []int{0},
	}
	if _, err := trainer.Step(batch); err == nil {
		t.Fatal("expected error for wrong embedding dimension")
	}
}
