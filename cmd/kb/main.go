package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"kb/internal/chunker"
	"kb/internal/config"
	"kb/internal/embedding"
	"kb/internal/embedding/hashing"
	"kb/internal/embedding/openai"
	"kb/internal/index"
	"kb/internal/loader"
	"kb/internal/logging"
	"kb/internal/service"
	"kb/internal/upload"
)

type globalOptions struct {
	configPath string
	logLevel   string
}

func (o *globalOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "", "Path to YAML config file (default ./config.yaml or ~/.config/kb/config.yaml)")
	fs.StringVar(&o.logLevel, "log-level", "", "Override the configured log level")
}

// app holds the components assembled from one configuration.
type app struct {
	cfg     *config.AppConfig
	log     *logrus.Logger
	index   *index.Manager
	kb      *service.KnowledgeBase
	uploads *upload.Manager
}

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "kb",
		Short:         "Build and search a local document knowledge base",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	opts.addFlags(cmd.PersistentFlags())
	cmd.AddCommand(
		newBuildCommand(opts),
		newSearchCommand(opts),
		newStatsCommand(opts),
		newUploadCommand(opts),
		newUploadsCommand(opts),
		newTUICommand(opts),
	)
	return cmd
}

func loadConfig(opts *globalOptions) (*config.AppConfig, error) {
	if opts.configPath == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(opts.configPath)
}

// newApp loads configuration and wires every component. Callers must call
// close when done.
func newApp(opts *globalOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	emb, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	splitter, err := chunker.NewSplitter(cfg.Splitter.ChunkSize, cfg.Splitter.ChunkOverlap, cfg.Splitter.Separators)
	if err != nil {
		return nil, err
	}
	mgr, err := index.NewManager(index.Options{
		Dir:            cfg.System.IndexDir,
		Name:           cfg.System.IndexName,
		UseAccelerator: cfg.Index.UseAccelerator,
		Workers:        cfg.Index.Workers,
		SearchK:        cfg.Index.SearchK,
	}, log)
	if err != nil {
		return nil, err
	}
	uploads, err := upload.NewManager(cfg.System.UploadDir, log)
	if err != nil {
		_ = mgr.Close()
		return nil, err
	}
	kb := service.New(service.Options{
		UploadDir:     cfg.System.UploadDir,
		IndexName:     cfg.System.IndexName,
		Extensions:    cfg.Document.SupportedExtensions,
		MaxFileSizeMB: cfg.Document.MaxFileSizeMB,
		BatchSize:     cfg.Embedder.BatchSize,
	}, loader.Default(), splitter, emb, mgr, log)

	log.WithFields(logrus.Fields{"embedder": emb.Name(), "index_dir": cfg.System.IndexDir}).Debug("components ready")
	return &app{cfg: cfg, log: log, index: mgr, kb: kb, uploads: uploads}, nil
}

func (a *app) close() { _ = a.index.Close() }

func newEmbedder(cfg config.EmbedderConfig) (embedding.Embedder, error) {
	switch cfg.Type {
	case "hashing", "":
		return hashing.NewEmbedder(hashing.Options{Dimension: cfg.Dimension, Normalize: cfg.Normalize}), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKeyEnv:  cfg.OpenAI.APIKeyEnv,
			Model:      cfg.Model,
			Timeout:    time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			Dimensions: cfg.Dimension,
			Normalize:  cfg.Normalize,
			MaxRetries: cfg.OpenAI.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}
