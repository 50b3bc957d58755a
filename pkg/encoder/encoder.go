// Package encoder wraps a pretrained transformer encoder behind a small
// interface: text in, one fixed-size pooled embedding per text out.
//
// Two backends are supported:
//   - ORT: direct ONNX Runtime inference via onnxruntime_go with our own
//     WordPiece tokenizer and explicit mean pooling. Used when the model
//     directory ships a vocab.txt.
//   - Hugot: a hugot feature-extraction pipeline, which handles
//     tokenization and pooling internally.
//
// The encoder is constructed once at startup and shared read-only across
// requests. Both backends are safe for concurrent use.
package encoder

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/knights-analytics/hugot"

	"github.com/bastionsec/bastion/pkg/config"
)

// EmbeddingDim is the pooled embedding width produced by the supported
// BERT-base class of models.
const EmbeddingDim = 768

// Encoder produces one pooled embedding per input text.
type Encoder interface {
	// Encode returns one EmbeddingDim-wide vector per text, in input order.
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	// Dim returns the embedding width.
	Dim() int
	// Close releases backend resources.
	Close() error
}

// Config selects and configures an encoder backend.
type Config struct {
	// ModelPath is the directory holding model.onnx (and vocab.txt for the
	// ORT backend).
	ModelPath string

	// ModelName is the HuggingFace model name used for download when
	// ModelPath does not exist yet.
	ModelName string

	// OnnxLibraryPath is the directory containing libonnxruntime.so.
	// Empty means "search common locations".
	OnnxLibraryPath string

	// Backend forces a backend: "ort", "hugot", or "" for auto.
	Backend string
}

// modelSearchPaths is checked in priority order when no explicit model path
// is configured.
var modelSearchPaths = []struct {
	path string
	name string
}{
	{"./models/bert-base-uncased", "google-bert/bert-base-uncased"},
	{"./models/minilm", "sentence-transformers/all-MiniLM-L6-v2"},
}

// AutoDetect locates a usable model directory. Checks BASTION_MODEL_PATH
// first, then the standard search paths. Returns nil when nothing is found
// and auto-download is disabled.
func AutoDetect() *Config {
	if envPath := os.Getenv("BASTION_MODEL_PATH"); envPath != "" {
		if hasONNXModel(envPath) {
			log.Printf("Using model from BASTION_MODEL_PATH: %s", envPath)
			return &Config{ModelPath: envPath, OnnxLibraryPath: defaultOnnxLibraryPath()}
		}
		log.Printf("BASTION_MODEL_PATH set but %s/model.onnx not found", envPath)
	}

	for _, m := range modelSearchPaths {
		if hasONNXModel(m.path) {
			log.Printf("Auto-detected model: %s (%s)", m.name, m.path)
			return &Config{ModelPath: m.path, ModelName: m.name, OnnxLibraryPath: defaultOnnxLibraryPath()}
		}
	}

	if config.GetEnvBool("BASTION_AUTO_DOWNLOAD_MODEL", false) {
		m := modelSearchPaths[0]
		log.Printf("No local model found, downloading %s...", m.name)
		path, err := downloadModel(m.name)
		if err != nil {
			log.Printf("Model download failed: %v", err)
			return nil
		}
		return &Config{ModelPath: path, ModelName: m.name, OnnxLibraryPath: defaultOnnxLibraryPath()}
	}

	log.Printf("[encoder] No ONNX model found. Searched:")
	for _, m := range modelSearchPaths {
		log.Printf("[encoder]   - %s (%s)", m.path, m.name)
	}
	log.Printf("[encoder] Set BASTION_MODEL_PATH or BASTION_AUTO_DOWNLOAD_MODEL=true")
	return nil
}

// ListModels returns the model directories found on disk, env path first.
func ListModels() []string {
	var found []string
	if envPath := os.Getenv("BASTION_MODEL_PATH"); envPath != "" && hasONNXModel(envPath) {
		found = append(found, envPath)
	}
	for _, m := range modelSearchPaths {
		if hasONNXModel(m.path) {
			found = append(found, m.path)
		}
	}
	return found
}

// New constructs an encoder for the given config, resolving (and if needed
// downloading) the model directory first.
func New(cfg Config) (Encoder, error) {
	modelPath, err := resolveModelPath(cfg)
	if err != nil {
		return nil, err
	}

	cfg.OnnxLibraryPath = libraryPath(cfg)

	backend := cfg.Backend
	if backend == "" {
		backend = os.Getenv("BASTION_ENCODER_BACKEND")
	}
	if backend == "" {
		// The ORT backend needs a vocabulary file for our own tokenizer;
		// without one, hand the whole pipeline to hugot.
		if fileExists(filepath.Join(modelPath, "vocab.txt")) {
			backend = "ort"
		} else {
			backend = "hugot"
		}
	}

	switch backend {
	case "ort":
		return newORTEncoder(modelPath, cfg.OnnxLibraryPath)
	case "hugot":
		return newHugotEncoder(modelPath, cfg.OnnxLibraryPath)
	default:
		return nil, fmt.Errorf("encoder: unknown backend %q (want ort or hugot)", backend)
	}
}

// resolveModelPath returns an existing model directory, downloading by name
// when the configured path is absent.
func resolveModelPath(cfg Config) (string, error) {
	if cfg.ModelPath != "" && hasONNXModel(cfg.ModelPath) {
		return cfg.ModelPath, nil
	}
	if cfg.ModelName == "" {
		return "", fmt.Errorf("encoder: model not found at %q and no model name to download", cfg.ModelPath)
	}
	return downloadModel(cfg.ModelName)
}

func downloadModel(name string) (string, error) {
	if err := os.MkdirAll("./models", 0o755); err != nil {
		return "", fmt.Errorf("encoder: create models dir: %w", err)
	}
	path, err := hugot.DownloadModel(name, "./models", hugot.NewDownloadOptions())
	if err != nil {
		return "", fmt.Errorf("encoder: download %s: %w", name, err)
	}
	log.Printf("Model downloaded to %s", path)
	return path, nil
}

func hasONNXModel(dir string) bool {
	if fileExists(filepath.Join(dir, "model.onnx")) {
		return true
	}
	return fileExists(filepath.Join(dir, "onnx", "model.onnx"))
}

// onnxFile returns the model.onnx path inside a model directory, honoring
// the HuggingFace onnx/ subdirectory convention.
func onnxFile(dir string) string {
	p := filepath.Join(dir, "model.onnx")
	if fileExists(p) {
		return p
	}
	return filepath.Join(dir, "onnx", "model.onnx")
}

// libraryPath returns the configured ONNX Runtime library directory,
// searching the standard install locations when none was given. An
// explicitly configured model still needs the runtime library.
func libraryPath(cfg Config) string {
	if cfg.OnnxLibraryPath != "" {
		return cfg.OnnxLibraryPath
	}
	return defaultOnnxLibraryPath()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// defaultOnnxLibraryPath searches common install locations for the ONNX
// Runtime shared library and returns its directory, or "".
func defaultOnnxLibraryPath() string {
	paths := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, p := range paths {
		if fileExists(p) {
			return filepath.Dir(p)
		}
	}
	return ""
}
