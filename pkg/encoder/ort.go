package encoder

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/bastionsec/bastion/pkg/tokenizer"
)

// ortRuntime holds the process-wide ONNX Runtime environment. The runtime
// can only be initialized once per process.
var ortRuntime struct {
	once sync.Once
	err  error
}

func initRuntime(libDir string) error {
	ortRuntime.once.Do(func() {
		if libDir != "" {
			ort.SetSharedLibraryPath(filepath.Join(libDir, "libonnxruntime.so"))
		}
		ortRuntime.err = ort.InitializeEnvironment()
	})
	return ortRuntime.err
}

// ortEncoder runs a BERT-style ONNX checkpoint directly through ONNX
// Runtime, feeding it tensors built by the WordPiece tokenizer.
type ortEncoder struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	tok        *tokenizer.Tokenizer
	inputNames []string
	hiddenDim  int64
	outputRank int
}

func newORTEncoder(modelPath, libDir string) (*ortEncoder, error) {
	if err := initRuntime(libDir); err != nil {
		return nil, fmt.Errorf("encoder: initialize onnx runtime: %w", err)
	}

	tok, err := tokenizer.NewFromFile(filepath.Join(modelPath, "vocab.txt"))
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}

	modelFile := onnxFile(modelPath)
	inputs, outputs, err := ort.GetInputOutputInfo(modelFile)
	if err != nil {
		return nil, fmt.Errorf("encoder: read model info: %w", err)
	}

	inputNames, err := bertInputNames(inputs)
	if err != nil {
		return nil, err
	}

	if len(outputs) == 0 {
		return nil, fmt.Errorf("encoder: model %s has no outputs", modelFile)
	}
	dims := outputs[0].Dimensions
	var hiddenDim int64
	switch len(dims) {
	case 3:
		// last_hidden_state [batch, seq, dim]; pooled here.
		hiddenDim = dims[2]
	case 2:
		// already-pooled output [batch, dim].
		hiddenDim = dims[1]
	default:
		return nil, fmt.Errorf("encoder: unexpected output shape %v for %s", dims, outputs[0].Name)
	}
	if hiddenDim != EmbeddingDim {
		return nil, fmt.Errorf("encoder: model hidden dim %d, want %d", hiddenDim, EmbeddingDim)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("encoder: session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(4)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(modelFile, inputNames, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("encoder: create session: %w", err)
	}

	return &ortEncoder{
		session:    session,
		tok:        tok,
		inputNames: inputNames,
		hiddenDim:  hiddenDim,
		outputRank: len(dims),
	}, nil
}

// bertInputNames validates the model takes BERT-style inputs and returns
// them in feed order. token_type_ids is optional - some exports drop it.
func bertInputNames(inputs []ort.InputOutputInfo) ([]string, error) {
	present := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		present[in.Name] = true
	}
	for _, required := range []string{"input_ids", "attention_mask"} {
		if !present[required] {
			return nil, fmt.Errorf("encoder: model missing required input %q", required)
		}
	}
	names := []string{"input_ids", "attention_mask"}
	if present["token_type_ids"] {
		names = append(names, "token_type_ids")
	}
	return names, nil
}

func (e *ortEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := e.tok.EncodeBatch(texts)
	if err != nil {
		return nil, err
	}

	pooled, err := e.infer(batch)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, batch.BatchSize)
	for i := int64(0); i < batch.BatchSize; i++ {
		out[i] = pooled[i*e.hiddenDim : (i+1)*e.hiddenDim]
	}
	return out, nil
}

func (e *ortEncoder) infer(batch tokenizer.Batch) ([]float32, error) {
	shape := ort.NewShape(batch.BatchSize, batch.SeqLen)

	feeds := [][]int64{batch.InputIDs, batch.AttentionMask, batch.TokenTypeIDs}
	tensors := make([]ort.Value, 0, len(e.inputNames))
	defer func() {
		for _, t := range tensors {
			t.Destroy()
		}
	}()
	for i := range e.inputNames {
		t, err := ort.NewTensor(shape, feeds[i])
		if err != nil {
			return nil, fmt.Errorf("encoder: create %s tensor: %w", e.inputNames[i], err)
		}
		tensors = append(tensors, t)
	}

	var outShape ort.Shape
	if e.outputRank == 3 {
		outShape = ort.NewShape(batch.BatchSize, batch.SeqLen, e.hiddenDim)
	} else {
		outShape = ort.NewShape(batch.BatchSize, e.hiddenDim)
	}
	tOut, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, fmt.Errorf("encoder: create output tensor: %w", err)
	}
	defer tOut.Destroy()

	// DynamicAdvancedSession.Run is not documented as goroutine-safe;
	// serialize inference calls.
	e.mu.Lock()
	err = e.session.Run(tensors, []ort.Value{tOut})
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("encoder: inference failed: %w", err)
	}

	src := tOut.GetData()
	raw := make([]float32, len(src))
	copy(raw, src)

	if e.outputRank == 3 {
		return meanPool(raw, batch.AttentionMask, batch.BatchSize, batch.SeqLen, e.hiddenDim), nil
	}
	return raw, nil
}

func (e *ortEncoder) Dim() int {
	return int(e.hiddenDim)
}

func (e *ortEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		err := e.session.Destroy()
		e.session = nil
		return err
	}
	return nil
}
