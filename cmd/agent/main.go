// Command agent is the in-allocation RADICAL-Pilot Agent process (spec
// §2): it loads a platform configuration, discovers its resource
// allocation, and runs the full Staging/Scheduling/Executing pipeline
// until asked to shut down.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Scusemua/go-utils/config"

	"github.com/radical-cybertools/radical-pilot-agent/internal/agent"
	"github.com/radical-cybertools/radical-pilot-agent/internal/bus"
	rpconfig "github.com/radical-cybertools/radical-pilot-agent/internal/config"
	"github.com/radical-cybertools/radical-pilot-agent/internal/update"
)

// Exit codes (spec §6): 0 graceful shutdown, 1 configuration error, 2
// resource-manager/allocation error, 3 bootstrap error, 4 runtime error.
const (
	exitOK        = 0
	exitConfig    = 1
	exitResource  = 2
	exitBootstrap = 3
	exitRuntime   = 4
)

var (
	logger = config.GetLogger("")
	sig    = make(chan os.Signal, 1)
)

// Options is the Agent process's command-line/environment configuration,
// bound via Scusemua/go-utils/config the way every teacher cmd/main.go
// binds its own Options.
type Options struct {
	config.LoggerOptions

	PlatformConfigPath string `name:"platform-config" description:"Path to the platform configuration JSON file."`
	Platform           string `name:"platform" description:"Platform name key to select within the configuration file."`
	TransportEndpoint  string `name:"transport" description:"ZMQ PUSH endpoint update messages are sent to. Empty runs with an in-process update queue, useful for local testing."`
}

func (o Options) String() string {
	return fmt.Sprintf("PlatformConfig: %s, Platform: %s, Transport: %s", o.PlatformConfigPath, o.Platform, o.TransportEndpoint)
}

func init() {
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
}

func main() {
	options := Options{}

	flags, err := config.ValidateOptions(&options)
	if err == config.ErrPrintUsage {
		flags.PrintDefaults()
		os.Exit(exitOK)
	} else if err != nil {
		log.Printf("invalid options: %v", err)
		os.Exit(exitConfig)
	}

	logger.Info("Starting agent with options: %v", options)

	platform, err := loadPlatform(options.PlatformConfigPath, options.Platform)
	if err != nil {
		logger.Error("loading platform configuration: %v", err)
		os.Exit(exitConfig)
	}

	transport := bus.NewLocalQueue[update.Message](256)
	if options.TransportEndpoint != "" {
		transport, err = bus.NewProducerQueue(context.Background(), options.TransportEndpoint, 256, update.Encode)
		if err != nil {
			logger.Error("binding update transport: %v", err)
			os.Exit(exitBootstrap)
		}
	}

	a, err := agent.New(platform, nil, transport)
	if err != nil {
		logger.Error("bootstrapping agent: %v", err)
		os.Exit(exitResource)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sig
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := a.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("agent exited with error: %v", err)
		os.Exit(exitRuntime)
	}

	logger.Info("agent shut down cleanly")
	os.Exit(exitOK)
}

// loadPlatform reads and decodes the platform configuration file at path
// and selects the entry named name (spec §6: "a platform config file is
// map[string]Platform keyed by platform name").
func loadPlatform(path, name string) (rpconfig.Platform, error) {
	if path == "" {
		return rpconfig.Platform{}, fmt.Errorf("%w: --platform-config is required", rpconfig.ErrConfigMismatch)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rpconfig.Platform{}, fmt.Errorf("%w: reading %s: %v", rpconfig.ErrConfigMismatch, path, err)
	}
	file, err := rpconfig.Load(data)
	if err != nil {
		return rpconfig.Platform{}, err
	}
	platform, ok := file[name]
	if !ok {
		return rpconfig.Platform{}, fmt.Errorf("%w: no platform named %q in %s", rpconfig.ErrConfigMismatch, name, path)
	}
	if err := platform.Validate(); err != nil {
		return rpconfig.Platform{}, fmt.Errorf("platform %q in %s: %w", name, path, err)
	}
	return platform, nil
}
