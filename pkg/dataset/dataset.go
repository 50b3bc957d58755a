// Package dataset loads labeled training data from CSV and turns it into
// pre-encoded training batches. Expected header: text,threat_type,severity.
// A file without the severity column is rejected outright - training with
// only one label set would silently drop half the objective.
package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/bastionsec/bastion/pkg/encoder"
	"github.com/bastionsec/bastion/pkg/labels"
	"github.com/bastionsec/bastion/pkg/model"
)

// Sample is one labeled training example with resolved class indices.
type Sample struct {
	Text     string
	Threat   int
	Severity int
}

// LoadCSV reads a labeled dataset. Column order is fixed by the header
// row; extra columns are ignored.
func LoadCSV(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses CSV records from r.
func Read(r io.Reader) ([]Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("dataset: read header: %w", err)
	}

	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	textCol, ok := col["text"]
	if !ok {
		return nil, fmt.Errorf("dataset: missing required column \"text\"")
	}
	threatCol, ok := col["threat_type"]
	if !ok {
		return nil, fmt.Errorf("dataset: missing required column \"threat_type\"")
	}
	severityCol, ok := col["severity"]
	if !ok {
		return nil, fmt.Errorf("dataset: missing required column \"severity\"")
	}

	var samples []Sample
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: line %d: %w", line, err)
		}
		if len(record) <= severityCol || len(record) <= threatCol || len(record) <= textCol {
			return nil, fmt.Errorf("dataset: line %d: %d fields, need at least %d", line, len(record), severityCol+1)
		}

		threat, err := labels.ParseThreat(record[threatCol])
		if err != nil {
			return nil, fmt.Errorf("dataset: line %d: %w", line, err)
		}
		severity, err := labels.ParseSeverity(record[severityCol])
		if err != nil {
			return nil, fmt.Errorf("dataset: line %d: %w", line, err)
		}

		samples = append(samples, Sample{
			Text:     record[textCol],
			Threat:   threat,
			Severity: severity,
		})
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("dataset: no samples")
	}
	return samples, nil
}

// EncodeBatches runs the samples through the encoder in groups of
// batchSize and returns ready training batches.
func EncodeBatches(ctx context.Context, enc encoder.Encoder, samples []Sample, batchSize int) ([]model.Batch, error) {
	if batchSize <= 0 {
		batchSize = 16
	}

	var batches []model.Batch
	for start := 0; start < len(samples); start += batchSize {
		end := start + batchSize
		if end > len(samples) {
			end = len(samples)
		}
		chunk := samples[start:end]

		texts := make([]string, len(chunk))
		threat := make([]int, len(chunk))
		severity := make([]int, len(chunk))
		for i, s := range chunk {
			texts[i] = s.Text
			threat[i] = s.Threat
			severity[i] = s.Severity
		}

		embeddings, err := enc.Encode(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("dataset: encode batch at %d: %w", start, err)
		}

		batches = append(batches, model.Batch{
			Embeddings:     embeddings,
			ThreatLabels:   threat,
			SeverityLabels: severity,
		})
	}
	return batches, nil
}
