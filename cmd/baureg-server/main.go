package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"baureg-search/internal/api"
	"baureg-search/internal/cache"
	"baureg-search/internal/chunker"
	"baureg-search/internal/config"
	"baureg-search/internal/domain"
	"baureg-search/internal/embedding/openai"
	"baureg-search/internal/embedding/tfidf"
	"baureg-search/internal/llm"
	"baureg-search/internal/pdf"
	"baureg-search/internal/service"
	"baureg-search/internal/summarizer"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/baureg/config.yaml if not provided)")
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

	// Assemble components. Each build gets a fresh embedder instance
	// for corpus-fitted models; the remote client is stateless and can
	// be shared.
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
	sum := summarizer.NewFrequencySummarizer()
	cm := cache.NewManager(cfg.Paths.CacheDir)

	svc := service.NewRAGService(service.Options{
		DataDir:             cfg.Paths.DataDir,
		ContextTopK:         cfg.Retrieval.ContextTopK,
		SummaryMaxSentences: cfg.Summarizer.MaxSentences,
	}, ch, newEmbedder, pdf.NewExtractor(), sum, cm)

	var completer domain.Completer
	groq, err := llm.NewGroqClient(llm.GroqConfig{
		APIURL:    cfg.LLM.APIURL,
		APIKeyEnv: cfg.LLM.APIKeyEnv,
		Model:     cfg.LLM.Model,
		Timeout:   time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
	})
	if err != nil {
		log.Printf("answering model disabled: %v", err)
	} else {
		completer = groq
	}

	// Serve immediately; the index loads or builds in the background and
	// /health reports readiness.
	go func() {
		if err := svc.Initialize(context.Background()); err != nil {
			log.Printf("initialize: %v", err)
		}
	}()

	handler := api.NewHandler(svc, completer, cfg.Retrieval.MaxContextChars, cfg.LLM.MaxTokens, cfg.LLM.Temperature)
	router := api.NewRouter(handler)

	log.Printf("listening on %s", cfg.Server.Addr)
	if err := http.ListenAndServe(cfg.Server.Addr, router); err != nil {
		log.Fatal(err)
	}
}
