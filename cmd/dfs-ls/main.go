package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/client"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
)

// Command Line Args:
// Args[1]: Namenode endpoint (server[:port], port defaults to 8000)
func main() {
	logLevel := flag.String("log-level", "warn", "debug, info, warn or error")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s <server>[:<port>]\n", os.Args[0])
		os.Exit(2)
	}
	if _, err := common.SetupLogging("", *logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	dfs := client.NewDistributedFileSystem(common.NormalizeEndpoint(flag.Arg(0)))
	files, err := dfs.List(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "listing failed:", err)
		os.Exit(1)
	}
	for _, file := range files {
		fmt.Printf("%s %d bytes\n", file.Name, file.Size)
	}
}
