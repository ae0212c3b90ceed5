package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/mcpware/mcppool/pkg/mcppool"
)

func main() {
	configPath := flag.String("config", "", "path to a pool configuration file")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	servers := map[string]mcppool.ServerConfig{
		"everything": &mcppool.StdioServerConfig{
			Command: "npx",
			Args:    []string{"@modelcontextprotocol/server-everything"},
		},
	}
	if *configPath != "" {
		file, err := mcppool.LoadFile(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		servers = file.Servers
	}

	pool := mcppool.NewPool(servers, &mcppool.PoolOptions{
		ClientName: "pool-example",
		Logger:     logger,
	})
	defer pool.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := pool.ConnectAll(ctx); err != nil {
		log.Fatalf("connect failed: %v", err)
	}

	for _, name := range pool.ListServers() {
		tools, err := pool.ListTools(ctx, name)
		if err != nil {
			logger.Warn("list tools failed", zap.String("server", name), zap.Error(err))
			continue
		}
		fmt.Printf("%s (%d tools):\n", name, len(tools.Tools))
		for _, tool := range tools.Tools {
			fmt.Printf("  %s: %s\n", tool.Name, tool.Description)
		}
	}
}
