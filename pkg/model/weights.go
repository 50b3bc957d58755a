package model

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/bastionsec/bastion/pkg/labels"
)

// Head weights are persisted in safetensors format: an 8-byte little-endian
// header length, a JSON header mapping tensor names to dtype/shape/offsets,
// then the raw tensor data. The encoder checkpoint is not stored here - it
// stays an external ONNX file.

type tensorMeta struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// Save writes all six head tensors to path in safetensors format.
func (h *Heads) Save(path string) error {
	type entry struct {
		name  string
		shape []int
		data  []float32
	}
	entries := []entry{
		{"shared.weight", []int{HiddenDim, InputDim}, h.Shared.W},
		{"shared.bias", []int{HiddenDim}, h.Shared.B},
		{"threat.weight", []int{labels.NumThreatTypes, HiddenDim}, h.Threat.W},
		{"threat.bias", []int{labels.NumThreatTypes}, h.Threat.B},
		{"severity.weight", []int{labels.NumSeverities, HiddenDim}, h.Severity.W},
		{"severity.bias", []int{labels.NumSeverities}, h.Severity.B},
	}

	header := make(map[string]tensorMeta, len(entries))
	offset := 0
	for _, e := range entries {
		size := len(e.data) * 4
		header[e.name] = tensorMeta{
			Dtype:       "F32",
			Shape:       e.shape,
			DataOffsets: [2]int{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("model: encode safetensors header: %w", err)
	}

	buf := make([]byte, 8+len(headerJSON)+offset)
	binary.LittleEndian.PutUint64(buf[:8], uint64(len(headerJSON)))
	copy(buf[8:], headerJSON)

	pos := 8 + len(headerJSON)
	for _, e := range entries {
		for _, f := range e.data {
			binary.LittleEndian.PutUint32(buf[pos:], math.Float32bits(f))
			pos += 4
		}
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("model: write weights: %w", err)
	}
	return nil
}

// LoadHeads reads head weights from a safetensors file written by Save.
// Tensor shapes are validated against the fixed architecture.
func LoadHeads(path string) (*Heads, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read weights: %w", err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("model: weights file too small: %d bytes", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data)) < 8+headerLen {
		return nil, fmt.Errorf("model: header length %d exceeds file size", headerLen)
	}

	var header map[string]tensorMeta
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("model: parse safetensors header: %w", err)
	}
	delete(header, "__metadata__")

	payload := data[8+headerLen:]
	readTensor := func(name string, shape []int) ([]float32, error) {
		meta, ok := header[name]
		if !ok {
			missing := make([]string, 0, len(header))
			for k := range header {
				missing = append(missing, k)
			}
			sort.Strings(missing)
			return nil, fmt.Errorf("model: tensor %q not found (have %v)", name, missing)
		}
		if meta.Dtype != "F32" {
			return nil, fmt.Errorf("model: tensor %q: dtype %s, want F32", name, meta.Dtype)
		}
		if !shapeEqual(meta.Shape, shape) {
			return nil, fmt.Errorf("model: tensor %q: shape %v, want %v", name, meta.Shape, shape)
		}
		n := 1
		for _, d := range shape {
			n *= d
		}
		start, end := meta.DataOffsets[0], meta.DataOffsets[1]
		if end-start != n*4 || end > len(payload) || start < 0 {
			return nil, fmt.Errorf("model: tensor %q: bad data range [%d:%d]", name, start, end)
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[start+i*4:]))
		}
		return out, nil
	}

	h := NewHeads(0)
	for _, spec := range []struct {
		name  string
		shape []int
		dst   *[]float32
	}{
		{"shared.weight", []int{HiddenDim, InputDim}, &h.Shared.W},
		{"shared.bias", []int{HiddenDim}, &h.Shared.B},
		{"threat.weight", []int{labels.NumThreatTypes, HiddenDim}, &h.Threat.W},
		{"threat.bias", []int{labels.NumThreatTypes}, &h.Threat.B},
		{"severity.weight", []int{labels.NumSeverities, HiddenDim}, &h.Severity.W},
		{"severity.bias", []int{labels.NumSeverities}, &h.Severity.B},
	} {
		t, err := readTensor(spec.name, spec.shape)
		if err != nil {
			return nil, err
		}
		*spec.dst = t
	}
	return h, nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
