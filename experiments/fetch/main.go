package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/client"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
)

func main() {
	// Define command line flags
	serverAddr := flag.String("server", "localhost:8000", "Address of the distributed file system server")
	nBlocks := flag.Int("n", 1, "Number of blocks to read")
	parallel := flag.Int("parallel", common.MAX_PARALLEL_TRANSFERS, "Blocks fetched at the same time")
	logFile := flag.String("log", "experiments/fetch_performance.log", "Log file to store the results")
	path := flag.String("path", "test-fetch", "Path of the file to read")

	// Parse command line flags
	flag.Parse()

	dfs := client.New(*serverAddr, client.Options{MaxParallel: *parallel})
	ctx := context.Background()

	// Calculate the length of the file
	length := common.BLOCK_SIZE * (*nBlocks)

	// Store the file first if it does not exist
	err := dfs.PutReader(ctx, *path, bytes.NewReader(make([]byte, length)), uint64(length))
	if err != nil && !errors.Is(err, common.ErrDuplicateFile) {
		log.Fatal(err)
	}

	// Measure read performance
	startTime := time.Now()

	if err := dfs.GetWriter(ctx, *path, io.Discard); err != nil {
		log.Fatal("Read failed: ", err)
	}

	duration := time.Since(startTime).Seconds()
	bandwidth := float64(length) / duration / (1024 * 1024) // in MB/s

	// Log the results
	logFileHandle, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatal("Failed to open log file: ", err)
	}
	defer logFileHandle.Close()

	logFileHandle.WriteString(fmt.Sprintf("%f\n", bandwidth))
}
