package main

import (
	"context"
	"flag"
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"baureg-search/internal/cache"
	"baureg-search/internal/chunker"
	"baureg-search/internal/config"
	"baureg-search/internal/domain"
	"baureg-search/internal/embedding/openai"
	"baureg-search/internal/embedding/tfidf"
	"baureg-search/internal/pdf"
	"baureg-search/internal/service"
	"baureg-search/internal/summarizer"
	"baureg-search/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	var dataDir string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/baureg/config.yaml if not provided)")
	flag.StringVar(&dataDir, "data", "", "Directory with regulation PDFs (overrides config)")
	flag.Parse()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if dataDir != "" {
		cfg.Paths.DataDir = dataDir
		cfg.Paths.CacheDir = dataDir
	}

	var newEmbedder func() domain.Embedder
	switch cfg.Embedder.Type {
	case "tfidf", "":
		newEmbedder = func() domain.Embedder { return tfidf.NewEmbedder() }
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			log.Fatalf("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:   cfg.Embedder.OpenAI.BaseURL,
			APIKeyEnv: cfg.Embedder.OpenAI.APIKeyEnv,
			Model:     cfg.Embedder.OpenAI.Model,
			BatchSize: cfg.Embedder.OpenAI.BatchSize,
			Timeout:   time.Duration(cfg.Embedder.OpenAI.TimeoutSecs) * time.Second,
		})
		if err != nil {
			log.Fatalf("openai embedder init failed: %v", err)
		}
		newEmbedder = func() domain.Embedder { return client }
	default:
		log.Fatalf("unknown embedder: %s", cfg.Embedder.Type)
	}

	ch := chunker.NewSentenceChunker(cfg.Chunker.MaxChunkChars, cfg.Chunker.OverlapChars, cfg.Chunker.MinChunkChars)
	cm := cache.NewManager(cfg.Paths.CacheDir)

	svc := service.NewRAGService(service.Options{
		DataDir:             cfg.Paths.DataDir,
		ContextTopK:         cfg.Retrieval.ContextTopK,
		SummaryMaxSentences: cfg.Summarizer.MaxSentences,
	}, ch, newEmbedder, pdf.NewExtractor(), summarizer.NewFrequencySummarizer(), cm)

	if err := svc.Initialize(context.Background()); err != nil {
		log.Fatalf("initialize failed: %v", err)
	}

	m := tui.New(svc, svc.Stats().Summary)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		log.Fatal(err)
	}
}
