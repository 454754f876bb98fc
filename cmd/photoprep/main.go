package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/photoprep/photoprep/internal/config"
	"github.com/photoprep/photoprep/internal/utils"
	"github.com/photoprep/photoprep/pkg/detector"
	"github.com/photoprep/photoprep/pkg/enhance"
	"github.com/photoprep/photoprep/pkg/pipeline"
	"github.com/photoprep/photoprep/pkg/upload"
	"github.com/photoprep/photoprep/pkg/validate"
	"github.com/photoprep/photoprep/pkg/vision"
)

func main() {
	var in, configPath, endpoint, apiKey, outPath string
	var backend, model, visionURL string
	var detectOnly, noEnhance, verbose bool

	flag.StringVar(&in, "in", "", "input image path (jpg/png/webp/heic)")
	flag.StringVar(&configPath, "config", "", "config file path (JSON), defaults built in")
	flag.StringVar(&endpoint, "endpoint", "", "upload service URL (overrides config)")
	flag.StringVar(&apiKey, "apikey", "", "upload service API key (overrides config)")
	flag.StringVar(&outPath, "out", "", "also write the corrected image to this path")

	flag.StringVar(&backend, "backend", "native", "boundary detection backend: native, ollama or llamacpp")
	flag.StringVar(&model, "model", "openbmb/minicpm-v4.5", "vision model name (model backends)")
	flag.StringVar(&visionURL, "url", "", "model server URL (defaults: ollama=http://localhost:11434, llamacpp=http://localhost:8080)")

	flag.BoolVar(&detectOnly, "detect-only", false, "detect the boundary, print it and exit without uploading")
	flag.BoolVar(&noEnhance, "no-enhance", false, "skip the contrast/sharpen pass")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	if in == "" {
		logger.Fatal().Msgf("usage: %s -in photo.jpg [-endpoint url] [-detect-only] [-backend native|ollama]", filepath.Base(os.Args[0]))
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load config")
		}
		cfg = loaded
	}
	cfg.LoadEnv()
	if endpoint != "" {
		cfg.Upload.Endpoint = endpoint
	}
	if apiKey != "" {
		cfg.Upload.APIKey = apiKey
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	data, err := os.ReadFile(in)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read input file")
	}
	asset := pipeline.Asset{
		Data:     data,
		FileName: filepath.Base(in),
		MIMEType: utils.GuessMIMEType(in),
	}

	var runtime vision.Runtime
	switch backend {
	case "native":
		runtime = vision.NewNative(detector.NewWithConfig(detector.Config{
			MaxDetectDim: cfg.Detector.MaxDetectDim,
			MinAreaRatio: cfg.Detector.MinAreaRatio,
			MinFillRatio: cfg.Detector.MinFillRatio,
		}))
	case "ollama":
		if visionURL == "" {
			visionURL = "http://localhost:11434"
		}
		runtime, err = vision.NewOllama(visionURL, model, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create ollama runtime")
		}
	case "llamacpp":
		runtime = vision.NewLlamaCpp(visionURL, model, logger)
	default:
		logger.Fatal().Msgf("unknown backend: %s (use 'native', 'ollama' or 'llamacpp')", backend)
	}

	enhanceCfg := enhance.Config{
		MaxOutputDim: cfg.Enhance.MaxOutputDim,
		JPEGQuality:  cfg.Enhance.JPEGQuality,
		Contrast:     cfg.Enhance.Contrast,
		Sharpen:      cfg.Enhance.Sharpen,
		Format:       cfg.Enhance.Format,
	}
	if noEnhance {
		enhanceCfg.Contrast = 0
		enhanceCfg.Sharpen = 0
	}

	client, err := upload.NewClient(cfg.Upload.Endpoint, cfg.Upload.APIKey, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create upload client")
	}

	session := pipeline.NewSession(pipeline.Deps{
		Runtime:   runtime,
		Corrector: enhance.NewWithConfig(enhanceCfg),
		Client:    client,
		Rules: validate.Rules{
			MaxSizeBytes:      cfg.Validation.MaxSizeBytes,
			MinWidth:          cfg.Validation.MinWidth,
			MinHeight:         cfg.Validation.MinHeight,
			MaxWidth:          cfg.Validation.MaxWidth,
			MaxHeight:         cfg.Validation.MaxHeight,
			AllowedTypes:      cfg.Validation.AllowedTypes,
			AllowedExtensions: cfg.Validation.AllowedExtensions,
		},
		Policy: upload.Policy{
			MaxAttempts:       cfg.Upload.MaxAttempts,
			InitialDelay:      time.Duration(cfg.Upload.InitialDelayMs) * time.Millisecond,
			BackoffMultiplier: cfg.Upload.BackoffMultiplier,
			MaxDelay:          time.Duration(cfg.Upload.MaxDelayMs) * time.Millisecond,
			RetryableKinds:    upload.DefaultPolicy.RetryableKinds,
		},
		PollInterval: time.Duration(cfg.Upload.PollIntervalMs) * time.Millisecond,
		Logger:       logger,
		Observer: func(s pipeline.State) {
			logger.Debug().Str("status", string(s.Status)).Str("step", s.CurrentStep).
				Int("progress", s.ProgressPercent).Msg("state")
		},
	})

	ctx := context.Background()
	if err := session.SelectFile(ctx, asset); err != nil {
		logger.Fatal().Err(err).Msg("file selection failed")
	}

	state := session.State()
	corners, _ := json.Marshal(state.Corners)
	logger.Info().
		Bool("boundary", state.BoundaryFound).
		Float64("confidence", state.Confidence).
		RawJSON("corners", corners).
		Msg("detection result")

	if detectOnly {
		fmt.Printf("%s\n", corners)
		return
	}

	if err := session.ConfirmAndUpload(ctx); err != nil {
		logger.Fatal().Err(err).Msg("upload failed")
	}

	state = session.State()
	result := state.UploadResult
	logger.Info().
		Str("upload_id", result.UploadID).
		Str("storage_key", result.StorageKey).
		Str("status", result.ProcessingStatus).
		Msg("upload complete")

	if outPath != "" {
		if err := os.WriteFile(outPath, state.CorrectedAsset, 0o644); err != nil {
			logger.Fatal().Err(err).Msg("failed to write corrected image")
		}
		logger.Info().Str("path", outPath).Msg("wrote corrected image")
	}
}
