package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/namenode"
)

// Flags override the values of the config file
func main() {
	configFile := flag.String("config", "", "JSON config file")
	listen := flag.String("listen", "", "listen endpoint (IP:port)")
	dbPath := flag.String("db", "", "registry directory, the registry is kept in memory if empty")
	pendingTTL := flag.Duration("pending-ttl", 0, "how long a store may stay incomplete before it is reported")
	logFile := flag.String("log", "", "log file path, logs go to the terminal if empty")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	flag.Parse()

	config := common.DefaultNameNodeConfig()
	if *configFile != "" {
		if err := common.ReadConfig(*configFile, &config); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			config.ListenEndpoint = *listen
		case "db":
			config.DBPath = *dbPath
		case "pending-ttl":
			config.PendingStoreTTL = common.Duration{Duration: *pendingTTL}
		case "log":
			config.LogFile = *logFile
		case "log-level":
			config.LogLevel = *logLevel
		}
	})

	if !common.IsValidEndpoint(config.ListenEndpoint) {
		panic(fmt.Sprintln("invalid namenode endpoint", config.ListenEndpoint))
	}

	logCloser, err := common.SetupLogging(config.LogFile, config.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logCloser.Close()

	// Initialize NameNode
	var registry namenode.Registry
	if config.DBPath == "" {
		registry = namenode.NewMemoryRegistry()
	} else {
		registry, err = namenode.OpenBadgerRegistry(config.DBPath)
		if err != nil {
			slog.Error("failed to open registry", "error", err)
			os.Exit(1)
		}
	}
	nameNode := namenode.NewNameNode(registry, config.PendingStoreTTL.Duration)
	defer nameNode.Close()

	server, err := namenode.NewServer(nameNode, config.ListenEndpoint)
	if err != nil {
		slog.Error("listen error", "error", err)
		os.Exit(1)
	}
	slog.Info("Initialized namenode", "nameNodeEndpoint", server.Addr().String(), "db", config.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("Shutting down namenode")
		server.Close()
	}()

	start := time.Now()
	if err := server.Serve(); err != nil {
		slog.Error("namenode stopped", "error", err)
	}
	slog.Info("Namenode exited", "uptime", time.Since(start).String())
}
