package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/c2h5oh/datasize"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/datanode"
)

// Command Line Args:
// Args[1]: Namenode endpoint (IP:port), optional when given by -config
// Args[2]: Datanode endpoint (IP:port), optional
func main() {
	configFile := flag.String("config", "", "JSON config file")
	dataDir := flag.String("dir", "", "directory holding the blocks")
	advertise := flag.String("advertise", "", "host registered with the namenode")
	blockSize := flag.String("block-size", "", "largest block accepted, e.g. 16KB")
	logFile := flag.String("log", "", "log file path, logs go to the terminal if empty")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	writeConfig := flag.String("write-config", "", "write the effective config to this file and exit")
	flag.Parse()

	config := common.DefaultDataNodeConfig()
	if *configFile != "" {
		if err := common.ReadConfig(*configFile, &config); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if flag.NArg() > 2 {
		panic(fmt.Sprintln("expect at most 2 arguments, actual argument count", flag.NArg()))
	}
	if flag.NArg() >= 1 {
		config.NameNodeEndpoint = common.NormalizeEndpoint(flag.Arg(0))
	}
	if flag.NArg() == 2 {
		config.ListenEndpoint = flag.Arg(1)
	}
	if *dataDir != "" {
		config.DataDir = *dataDir
	}
	if *advertise != "" {
		config.AdvertiseHost = *advertise
	}
	if *blockSize != "" {
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(*blockSize)); err != nil {
			panic(fmt.Sprintln("invalid block size", *blockSize))
		}
		config.BlockSize = size
	}
	if *logFile != "" {
		config.LogFile = *logFile
	}
	if *logLevel != "" {
		config.LogLevel = *logLevel
	}

	if *writeConfig != "" {
		if err := common.WriteConfig(*writeConfig, config); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logCloser, err := common.SetupLogging(config.LogFile, config.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logCloser.Close()

	// Initialize DataNode
	dataNode, err := datanode.New(config)
	if err != nil {
		slog.Error("invalid datanode config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Registration happens before anything is served
	if err := dataNode.Start(ctx); err != nil {
		slog.Error("failed to start datanode", "error", err)
		os.Exit(1)
	}
	slog.Info("Initialized datanode",
		"NameNode Endpoint", config.NameNodeEndpoint,
		"DataNode Endpoint", dataNode.Address().String(),
		"blockSize", config.BlockSize.HumanReadable())

	<-ctx.Done()
	slog.Info("Shutting down datanode")
	dataNode.Close()
}
