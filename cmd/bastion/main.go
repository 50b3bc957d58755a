package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/bastionsec/bastion/pkg/config"
	"github.com/bastionsec/bastion/pkg/dataset"
	"github.com/bastionsec/bastion/pkg/encoder"
	"github.com/bastionsec/bastion/pkg/labels"
	"github.com/bastionsec/bastion/pkg/model"
	"github.com/bastionsec/bastion/pkg/predictor"
	"github.com/bastionsec/bastion/pkg/server"
)

const Version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cfg := mustLoadConfig()
		if len(os.Args) > 2 {
			cfg.Port = os.Args[2]
		}
		runServe(cfg)
	case "analyze":
		if len(os.Args) < 3 {
			fmt.Println("Usage: bastion analyze <text>")
			os.Exit(1)
		}
		runAnalyze(mustLoadConfig(), strings.Join(os.Args[2:], " "))
	case "train":
		if len(os.Args) < 3 {
			fmt.Println("Usage: bastion train <dataset.csv>")
			os.Exit(1)
		}
		runTrain(mustLoadConfig(), os.Args[2])
	case "models":
		listModels()
	case "version":
		fmt.Printf("bastion v%s\n", Version)
		fmt.Println("Transformer-based threat classification service")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("bastion v%s - AI threat classification\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  bastion serve [port]          Start HTTP server (default: 8080)")
	fmt.Println("  bastion analyze <text>        Classify text from the command line")
	fmt.Println("  bastion train <dataset.csv>   Train classification heads on a labeled CSV")
	fmt.Println("  bastion models                List detected ONNX models")
	fmt.Println("  bastion version               Show version")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  BASTION_MODEL_PATH            Directory with model.onnx (+ vocab.txt)")
	fmt.Println("  BASTION_WEIGHTS_PATH          Trained head weights (safetensors)")
	fmt.Println("  BASTION_ENCODER_BACKEND       Encoder backend: ort | hugot")
	fmt.Println("  BASTION_AUTO_DOWNLOAD_MODEL   Download a default model when none found")
	fmt.Println("  BASTION_CONFIG                Optional YAML config file")
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	return cfg
}

// newEncoder builds the encoder from config, falling back to on-disk
// auto-detection. Returns nil when no model is available.
func newEncoder(cfg *config.Config) encoder.Encoder {
	ecfg := &encoder.Config{
		ModelPath: cfg.ModelPath,
		ModelName: cfg.ModelName,
		Backend:   cfg.Backend,
	}
	if ecfg.ModelPath == "" && ecfg.ModelName == "" {
		ecfg = encoder.AutoDetect()
		if ecfg == nil {
			return nil
		}
		ecfg.Backend = cfg.Backend
	}

	enc, err := encoder.New(*ecfg)
	if err != nil {
		log.Printf("○ Encoder unavailable: %v", err)
		return nil
	}
	log.Println("✓ Encoder ready")
	return enc
}

// loadHeads returns trained head weights when present, otherwise freshly
// initialized (untrained) heads with a loud warning - predictions from
// random heads are meaningless until `bastion train` has run.
func loadHeads(cfg *config.Config) *model.Heads {
	if _, err := os.Stat(cfg.WeightsPath); err == nil {
		heads, err := model.LoadHeads(cfg.WeightsPath)
		if err != nil {
			log.Fatalf("FATAL: load head weights from %s: %v", cfg.WeightsPath, err)
		}
		log.Printf("✓ Head weights loaded from %s", cfg.WeightsPath)
		return heads
	}
	log.Printf("○ No trained weights at %s - using random heads (run 'bastion train')", cfg.WeightsPath)
	return model.NewHeads(cfg.Seed)
}

// buildPredictor constructs the shared predictor once at startup. Returns
// nil (degraded mode) when no encoder backend could be initialized.
func buildPredictor(cfg *config.Config) (*predictor.Predictor, encoder.Encoder) {
	enc := newEncoder(cfg)
	if enc == nil {
		return nil, nil
	}
	pred, err := predictor.New(enc, loadHeads(cfg))
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	return pred, enc
}

func runServe(cfg *config.Config) {
	pred, enc := buildPredictor(cfg)
	if enc != nil {
		defer enc.Close()
	}

	var clf server.Classifier
	if pred != nil {
		clf = pred
	}
	srv := server.New(cfg, clf, Version)
	if err := srv.Listen(cfg.Port); err != nil {
		log.Fatal(err)
	}
}

func runAnalyze(cfg *config.Config, text string) {
	pred, enc := buildPredictor(cfg)
	if pred == nil {
		log.Fatal("FATAL: no encoder available - set BASTION_MODEL_PATH or enable auto-download")
	}
	defer enc.Close()

	result, err := pred.Predict(context.Background(), text)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}

func runTrain(cfg *config.Config, csvPath string) {
	enc := newEncoder(cfg)
	if enc == nil {
		log.Fatal("FATAL: training requires an encoder - set BASTION_MODEL_PATH or enable auto-download")
	}
	defer enc.Close()

	samples, err := dataset.LoadCSV(csvPath)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	log.Printf("Loaded %d samples from %s", len(samples), csvPath)

	ctx := context.Background()
	batches, err := dataset.EncodeBatches(ctx, enc, samples, cfg.BatchSize)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	log.Printf("Encoded %d batches (batch size %d)", len(batches), cfg.BatchSize)

	heads := model.NewHeads(cfg.Seed)
	tcfg := model.DefaultTrainConfig()
	tcfg.LearningRate = float32(cfg.LearningRate)

	trainer := model.NewTrainer(heads, tcfg)
	if _, err := trainer.Train(batches, cfg.Epochs); err != nil {
		log.Fatalf("FATAL: training aborted: %v", err)
	}

	printReports(heads, batches)

	if err := heads.Save(cfg.WeightsPath); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	log.Printf("✓ Head weights saved to %s", cfg.WeightsPath)
}

// printReports evaluates the trained heads on the training set and prints
// per-class metrics for both taxonomies.
func printReports(heads *model.Heads, batches []model.Batch) {
	var threatTrue, threatPred, sevTrue, sevPred []int
	for _, b := range batches {
		for i, emb := range b.Embeddings {
			tl, sl := heads.Forward(emb)
			threatTrue = append(threatTrue, b.ThreatLabels[i])
			threatPred = append(threatPred, model.Argmax(tl))
			sevTrue = append(sevTrue, b.SeverityLabels[i])
			sevPred = append(sevPred, model.Argmax(sl))
		}
	}

	threatNames := make([]string, labels.NumThreatTypes)
	for i, t := range labels.ThreatTypes {
		threatNames[i] = string(t)
	}
	sevNames := make([]string, labels.NumSeverities)
	for i, s := range labels.Severities {
		sevNames[i] = string(s)
	}

	if report, err := model.Evaluate(threatTrue, threatPred, threatNames); err == nil {
		fmt.Println("\nThreat type:")
		fmt.Println(report)
	}
	if report, err := model.Evaluate(sevTrue, sevPred, sevNames); err == nil {
		fmt.Println("Severity:")
		fmt.Println(report)
	}
}

func listModels() {
	found := encoder.ListModels()
	if len(found) == 0 {
		fmt.Println("No ONNX models found.")
		fmt.Println("")
		fmt.Println("Set BASTION_MODEL_PATH to a directory containing model.onnx,")
		fmt.Println("or set BASTION_AUTO_DOWNLOAD_MODEL=true to fetch a default model.")
		return
	}

	fmt.Println("Detected models:")
	for _, path := range found {
		fmt.Printf("  %s\n", path)
	}

	fmt.Println("\nThreat classes:")
	for _, t := range labels.ThreatTypes {
		fmt.Printf("  %-18s %s\n", t, t.Describe())
	}
}
