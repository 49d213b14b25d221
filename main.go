package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"go-badge-printer/images"
	"go-badge-printer/logging"
	"go-badge-printer/metrics"
	"go-badge-printer/notify"
	"go-badge-printer/operator"
	"go-badge-printer/printdoc"
	"go-badge-printer/printing"
	redis "go-badge-printer/redis"
	"go-badge-printer/render"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultInstitutionalSignature = "/images/signature-institution.png"

type Config struct {
	ServerConfig ServerConfig `json:"server_config"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	BackendUrl            string `json:"backend_url"`
	OperatorPublicKeyPath string `json:"operator_public_key_path"`
	OperatorIssuer        string `json:"operator_issuer,omitempty"`

	AssetDir               string  `json:"asset_dir"`
	InstitutionalSignature string  `json:"institutional_signature"`
	OutputDir              string  `json:"output_dir"`
	ExpiryDate             string  `json:"expiry_date,omitempty"`
	PreviewDpi             float64 `json:"preview_dpi,omitempty"`

	StorageType         string                    `json:"storage_type"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "Path for the config.json to use")
	flag.Parse()

	if *configPath == "" {
		fatal("please provide a config path using the --config flag")
	}

	config, err := readConfigFile(*configPath)
	if err != nil {
		fatal("failed to read config file", "error", err)
	}
	logging.InitLogger(config.LogLevel, config.LogFormat)
	slog.Info("using config", "path", *configPath)
	slog.Info("hosting on", "host", config.ServerConfig.Host, "port", config.ServerConfig.Port)

	state, err := createServerState(&config)
	if err != nil {
		fatal("failed to create server state", "error", err)
	}

	server, err := NewServer(state, config.ServerConfig)
	if err != nil {
		fatal("failed to create server", "error", err)
	}

	err = server.ListenAndServe()
	if err != nil {
		fatal("failed to listen and serve", "error", err)
	}
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

func readConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)

	if err != nil {
		return Config{}, err
	}

	var config Config
	err = json.Unmarshal(configBytes, &config)

	if err != nil {
		return Config{}, err
	}

	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.StorageType == "" {
		c.StorageType = "memory"
	}
	if c.InstitutionalSignature == "" {
		c.InstitutionalSignature = defaultInstitutionalSignature
	}
	if c.OutputDir == "" {
		c.OutputDir = "./badges"
	}
	if c.PreviewDpi <= 0 {
		c.PreviewDpi = render.DefaultDPI
	}
	if c.ServerConfig.Port == 0 {
		c.ServerConfig.Port = 8080
	}
}

func createServerState(config *Config) (*ServerState, error) {
	if config.BackendUrl == "" {
		return nil, fmt.Errorf("backend_url is required")
	}

	verifier, err := operator.NewVerifier(config.OperatorPublicKeyPath, config.OperatorIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to load operator public key: %w", err)
	}

	dialogStorage, err := createDialogStorage(config)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate dialog storage: %w", err)
	}

	saver, err := printdoc.NewFileSaver(config.OutputDir)
	if err != nil {
		return nil, err
	}
	slog.Info("Saving badge documents", "dir", saver.Dir())

	renderer, err := render.NewRenderer(config.PreviewDpi)
	if err != nil {
		return nil, err
	}

	messages, err := notify.LoadMessages()
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var converter images.Converter
	if config.AssetDir != "" {
		converter = images.NewSourceConverter(os.DirFS(config.AssetDir))
	} else {
		slog.Warn("No asset_dir configured, only URL and data URI images can be loaded")
		converter = images.NewSourceConverter(nil)
	}

	merchants := NewRestMerchantClient(config.BackendUrl)
	generator := printdoc.NewGenerator(converter, saver, config.InstitutionalSignature,
		printdoc.WithEmbedObserver(m))
	service := printing.NewService(dialogStorage, generator, printing.NewRecorder(merchants),
		printing.WithMetrics(m),
		printing.WithExpiryDate(config.ExpiryDate))

	return &ServerState{
		dialogStorage:    dialogStorage,
		merchants:        merchants,
		printService:     service,
		converter:        converter,
		renderer:         renderer,
		documents:        saver,
		messages:         messages,
		verifier:         verifier,
		metricsHandler:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		institutionalRef: config.InstitutionalSignature,
	}, nil
}

func createDialogStorage(config *Config) (printing.DialogStore, error) {
	if config.StorageType == "redis" {
		slog.Info("Using redis dialog storage")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisDialogStorage(client, config.RedisConfig.Namespace), nil
	}
	if config.StorageType == "redis_sentinel" {
		slog.Info("Using redis sentinel dialog storage")
		client, err := redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisDialogStorage(client, config.RedisSentinelConfig.Namespace), nil
	}
	if config.StorageType == "memory" {
		slog.Info("Using in memory dialog storage")
		return NewInMemoryDialogStorage(), nil
	}
	return nil, fmt.Errorf("%v is not a valid storage type", config.StorageType)
}
