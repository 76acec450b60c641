package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/client"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n"+
		"\tTo   DFS: %[1]s <source file> <server>:<port>:<dfs file path>\n"+
		"\tFrom DFS: %[1]s <server>:<port>:<dfs file path> <destination file>\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	timeout := flag.Duration("timeout", common.RPC_TIMEOUT, "bound of each exchange with a node")
	parallel := flag.Int("parallel", common.MAX_PARALLEL_TRANSFERS, "blocks fetched at the same time")
	logFile := flag.String("log", "", "log file path, logs go to the terminal if empty")
	logLevel := flag.String("log-level", "warn", "debug, info, warn or error")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 2 {
		usage()
		os.Exit(2)
	}
	logCloser, err := common.SetupLogging(*logFile, *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx := context.Background()
	options := client.Options{Timeout: *timeout, MaxParallel: *parallel}
	source, destination := flag.Arg(0), flag.Arg(1)
	start := time.Now()

	if endpoint, remotePath, ok := common.ParseRemotePath(destination); ok {
		dfs := client.New(endpoint, options)
		err = dfs.Put(ctx, source, remotePath)
	} else if endpoint, remotePath, ok := common.ParseRemotePath(source); ok {
		if info, statErr := os.Stat(destination); statErr == nil && info.IsDir() {
			fmt.Fprintf(os.Stderr, "%s is a directory\n", destination)
			os.Exit(1)
		}
		dfs := client.New(endpoint, options)
		err = dfs.Get(ctx, remotePath, destination)
	} else {
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "copy failed:", err)
		os.Exit(1)
	}
	fmt.Printf("copied %s to %s in %s\n", source, destination, time.Since(start).Round(time.Millisecond))
}
