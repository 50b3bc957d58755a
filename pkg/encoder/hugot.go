package encoder

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

// hugotEncoder delegates tokenization, encoding, and pooling to a hugot
// feature-extraction pipeline.
type hugotEncoder struct {
	mu       sync.RWMutex
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	dim      int
}

func newHugotEncoder(modelPath, libDir string) (*hugotEncoder, error) {
	session, err := newHugotSession(libDir)
	if err != nil {
		return nil, err
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "threat-encoder",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("encoder: create hugot pipeline: %w", err)
	}

	e := &hugotEncoder{session: session, pipeline: pipeline, dim: EmbeddingDim}

	// Probe once so a dimension mismatch fails at startup, not mid-request.
	probe, err := pipeline.RunPipeline([]string{"probe"})
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("encoder: hugot probe run: %w", err)
	}
	if len(probe.Embeddings) != 1 || len(probe.Embeddings[0]) != EmbeddingDim {
		got := 0
		if len(probe.Embeddings) > 0 {
			got = len(probe.Embeddings[0])
		}
		_ = session.Destroy()
		return nil, fmt.Errorf("encoder: model embedding dim %d, want %d", got, EmbeddingDim)
	}

	log.Printf("Hugot encoder initialized (model: %s)", modelPath)
	return e, nil
}

// newHugotSession prefers the ONNX Runtime backend and falls back to the
// pure Go backend when the shared library is unavailable.
func newHugotSession(libDir string) (*hugot.Session, error) {
	if libDir != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(libDir))
		if err == nil {
			log.Printf("Hugot encoder using ONNX Runtime backend")
			return session, nil
		}
		log.Printf("ONNX Runtime unavailable, falling back to Go backend: %v", err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("encoder: create hugot session: %w", err)
	}
	log.Printf("Hugot encoder using pure Go backend (slower)")
	return session, nil
}

func (e *hugotEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pipeline == nil {
		return nil, fmt.Errorf("encoder: hugot encoder is closed")
	}

	result, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("encoder: inference failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("encoder: got %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}
	return result.Embeddings, nil
}

func (e *hugotEncoder) Dim() int {
	return e.dim
}

func (e *hugotEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pipeline = nil
	if e.session != nil {
		err := e.session.Destroy()
		e.session = nil
		return err
	}
	return nil
}
