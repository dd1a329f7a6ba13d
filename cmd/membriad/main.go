// Command membriad runs the Membria decision-memory daemon: the Tool
// Protocol Endpoint over stdio, the Background Scheduler, and every
// reasoning-graph component they share. Flag parsing, TOML decoding, and
// terminal UI are intentionally thin here — the core logic they wire up
// lives in this module's packages (spec §1: "out of scope: command-line
// parsing and help text; TOML configuration file I/O ... terminal UI").
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/actiquest-dev/membria/bias"
	"github.com/actiquest-dev/membria/calibration"
	"github.com/actiquest-dev/membria/config"
	"github.com/actiquest-dev/membria/engram"
	"github.com/actiquest-dev/membria/extractor"
	"github.com/actiquest-dev/membria/graph"
	"github.com/actiquest-dev/membria/graph/memstore"
	"github.com/actiquest-dev/membria/graph/redisstore"
	"github.com/actiquest-dev/membria/graphmodel"
	"github.com/actiquest-dev/membria/health"
	"github.com/actiquest-dev/membria/llm"
	"github.com/actiquest-dev/membria/llm/anthropicclient"
	"github.com/actiquest-dev/membria/llm/openaiclient"
	"github.com/actiquest-dev/membria/plan"
	"github.com/actiquest-dev/membria/protocol"
	"github.com/actiquest-dev/membria/queue"
	"github.com/actiquest-dev/membria/queue/memqueue"
	"github.com/actiquest-dev/membria/queue/mongoqueue"
	"github.com/actiquest-dev/membria/scheduler"
	"github.com/actiquest-dev/membria/signal"
	"github.com/actiquest-dev/membria/skill"
	"github.com/actiquest-dev/membria/telemetry"
)

// memstoreSentinel is the graph.host value meaning "no backend
// configured, use the in-process store" (spec §3 EXPANSION: "used ...
// as the default when graph.host is unset"). config.Validate requires a
// non-empty host, so the TOML loader substitutes this sentinel rather
// than leaving the field blank.
const memstoreSentinel = "memstore"

// exit codes per spec §6 "Exit conditions".
const (
	exitOK               = 0
	exitGraphUnavailable = 2
	exitInvalidConfig    = 3
	defaultConfigPath    = "membria.toml"
	mongoConnectTimeout  = 10 * time.Second
)

func main() {
	os.Exit(run())
}

// fileConfig mirrors config.Config's TOML shape (spec §6's key table),
// decoded directly by the daemon since TOML parsing itself is the one
// piece of ambient I/O this binary does not delegate away — the core
// packages only ever see the resulting config.Config.
type fileConfig struct {
	Graph struct {
		Host     string `toml:"host"`
		Port     int    `toml:"port"`
		Password string `toml:"password"`
	} `toml:"graph"`
	LLM struct {
		Provider string `toml:"provider"`
		Model    string `toml:"model"`
		APIKey   string `toml:"api_key"`
	} `toml:"llm"`
	Extractor struct {
		BatchSize       int `toml:"batch_size"`
		IntervalSeconds int `toml:"interval_seconds"`
	} `toml:"extractor"`
	Plan struct {
		MaxContextTokens int `toml:"max_context_tokens"`
	} `toml:"plan"`
	Health struct {
		TickSeconds int `toml:"tick_seconds"`
	} `toml:"health"`
	Daemon struct {
		GraceSeconds int    `toml:"grace_seconds"`
		DropDir      string `toml:"drop_dir"`
	} `toml:"daemon"`
	Queue struct {
		MongoURI      string `toml:"mongo_uri"`
		MongoDatabase string `toml:"mongo_database"`
	} `toml:"queue"`
	Project struct {
		Constraints []string `toml:"constraints"`
	} `toml:"project"`
}

func (fc fileConfig) toConfig() config.Config {
	host := fc.Graph.Host
	if host == "" {
		host = memstoreSentinel
	}
	return config.Config{
		Graph: config.Graph{
			Host:     host,
			Port:     fc.Graph.Port,
			Password: fc.Graph.Password,
		},
		LLM: config.LLM{
			Provider: fc.LLM.Provider,
			Model:    fc.LLM.Model,
			APIKey:   fc.LLM.APIKey,
		},
		Extractor: config.Extractor{
			BatchSize:       fc.Extractor.BatchSize,
			IntervalSeconds: fc.Extractor.IntervalSeconds,
		},
		Plan: config.Plan{
			MaxContextTokens: fc.Plan.MaxContextTokens,
		},
		Health: config.Health{
			TickSeconds: fc.Health.TickSeconds,
		},
		Daemon: config.Daemon{
			GraceSeconds: fc.Daemon.GraceSeconds,
		},
		Constraint: fc.Project.Constraints,
	}
}

func run() int {
	logger := log.New(os.Stderr, "membriad: ", log.LstdFlags)

	path := defaultConfigPath
	if v := os.Getenv("MEMBRIA_CONFIG"); v != "" {
		path = v
	}

	var fc fileConfig
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			logger.Printf("decode config %s: %v", path, err)
			return exitInvalidConfig
		}
	} else if !os.IsNotExist(err) {
		logger.Printf("stat config %s: %v", path, err)
		return exitInvalidConfig
	}

	cfg := fc.toConfig()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		logger.Printf("invalid configuration: %v", err)
		return exitInvalidConfig
	}

	dropDir := fc.Daemon.DropDir
	if v := os.Getenv("MEMBRIA_DROP_DIR"); v != "" {
		dropDir = v
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()
	tracer := telemetry.NewClueTracer()

	gstore, closeGraph, err := buildGraphStore(ctx, cfg)
	if err != nil {
		logger.Printf("graph backend unavailable: %v", err)
		return exitGraphUnavailable
	}
	defer closeGraph()

	qstore, closeQueue, err := buildQueueStore(ctx, fc)
	if err != nil {
		logger.Printf("queue backend unavailable: %v", err)
		return exitGraphUnavailable
	}
	defer closeQueue()

	if err := qstore.Repair(ctx); err != nil {
		logger.Printf("queue repair: %v", err)
	}

	var llmExtractor llm.Extractor
	if cfg.LLMConfigured() {
		llmExtractor, err = buildLLMExtractor(cfg)
		if err != nil {
			logger.Printf("llm client unavailable, L3 disabled: %v", err)
		}
	}

	detector := signal.New()
	capturer := engram.New(engram.Options{Graph: gstore, Logger: tel})
	extr := extractor.New(extractor.Options{
		Queue:     qstore,
		Graph:     gstore,
		LLM:       llmExtractor,
		BatchSize: cfg.Extractor.BatchSize,
		Logger:    tel,
		Tracer:    tracer,
	})
	builder := plan.New(plan.Options{Graph: gstore, Constraints: cfg.Constraint})
	validator := plan.NewValidator(gstore)
	recorder := plan.NewRecorder(gstore, nil)
	biasAnalyzer := bias.New(gstore)
	healthChecker := health.New(health.Options{Graph: gstore, Queue: qstore, L3Enabled: cfg.LLMConfigured()})

	var sched *scheduler.Scheduler
	calib := calibration.New(gstore, nil, func(evCtx context.Context, domain graphmodel.Module) {
		sched.NotifySkillEligible(evCtx, domain)
	})
	skillGen := skill.New(gstore, nil)
	sched = scheduler.New(scheduler.Options{
		Extractor:       extr,
		Calibration:     calib,
		Skill:           skillGen,
		Health:          healthChecker,
		Logger:          tel,
		Metrics:         metrics,
		ExtractInterval: cfg.ExtractorInterval(),
		HealthInterval:  cfg.HealthTick(),
		GraceTimeout:    cfg.GraceTimeout(),
	})

	var watcher *engram.DropWatcher
	if dropDir != "" {
		watcher, err = engram.NewDropWatcher(dropDir, capturer, tel)
		if err != nil {
			logger.Printf("drop watcher unavailable: %v", err)
		}
	}

	endpoint := protocol.New(protocol.Options{
		Graph:     gstore,
		Queue:     qstore,
		Detector:  detector,
		Builder:   builder,
		Validator: validator,
		Recorder:  recorder,
		Bias:      biasAnalyzer,
		OnOutcome: func(domain, outcome string, declaredConfidence float64) {
			sched.NotifyOutcome(graphmodel.Module(domain), graphmodel.DecisionOutcome(outcome), declaredConfidence)
		},
		Logger:         tel,
		HandlerTimeout: 30 * time.Second,
	})

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(ctx) }()

	var watcherDone chan error
	if watcher != nil {
		watcherDone = make(chan error, 1)
		go func() { watcherDone <- watcher.Run(ctx) }()
	}

	logger.Printf("membriad ready (graph=%s llm_configured=%v)", cfg.Graph.Host, cfg.LLMConfigured())
	serveErr := endpoint.Serve(ctx, os.Stdin, os.Stdout)
	stop()

	<-schedDone
	if watcherDone != nil {
		<-watcherDone
	}

	if serveErr != nil {
		logger.Printf("protocol endpoint: %v", serveErr)
	}
	return exitOK
}

func buildGraphStore(ctx context.Context, cfg config.Config) (graph.Store, func(), error) {
	if cfg.Graph.Host == memstoreSentinel {
		return memstore.New(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Graph.Host, cfg.Graph.Port),
		Password: cfg.Graph.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return redisstore.New(rdb), func() { rdb.Close() }, nil
}

func buildQueueStore(ctx context.Context, fc fileConfig) (queue.Store, func(), error) {
	if fc.Queue.MongoURI == "" {
		return memqueue.New(), func() {}, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()
	client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(fc.Queue.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	database := fc.Queue.MongoDatabase
	if database == "" {
		database = "membria"
	}
	store, err := mongoqueue.New(ctx, mongoqueue.Options{Client: client, Database: database})
	if err != nil {
		client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("init mongo queue: %w", err)
	}
	return store, func() { client.Disconnect(ctx) }, nil
}

func buildLLMExtractor(cfg config.Config) (llm.Extractor, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return anthropicclient.NewFromAPIKey(cfg.LLM.APIKey, cfg.LLM.Model)
	case "openai":
		return openaiclient.NewFromAPIKey(cfg.LLM.APIKey, cfg.LLM.Model)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
}
