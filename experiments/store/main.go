package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/client"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
)

func main() {
	// Define command line flags
	serverAddr := flag.String("server", "localhost:8000", "Address of the distributed file system server")
	nBlocks := flag.Int("n", 1, "Number of blocks to write")
	logFile := flag.String("log", "experiments/store_performance.log", "Log file to store the results")
	path := flag.String("path", "", "Path of the file to write, a fresh path is generated if empty")

	// Parse command line flags
	flag.Parse()

	// Paths cannot be overwritten, every run needs its own
	if *path == "" {
		*path = fmt.Sprintf("test-store-%d", time.Now().UnixNano())
	}

	dfs := client.NewDistributedFileSystem(*serverAddr)

	// Calculate the length of the file
	length := common.BLOCK_SIZE * (*nBlocks)

	// Measure write performance
	startTime := time.Now()
	err := dfs.PutReader(context.Background(), *path, bytes.NewReader(make([]byte, length)), uint64(length))
	if err != nil {
		log.Fatal(err)
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
