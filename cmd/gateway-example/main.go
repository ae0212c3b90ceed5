package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	mcpgateway "github.com/mcpware/mcppool/pkg/mcp-gateway"
	"github.com/mcpware/mcppool/pkg/mcppool"
)

func main() {
	configPath := flag.String("config", "pool.yaml", "path to a pool configuration file")
	addr := flag.String("addr", ":8700", "listen address for the Streamable endpoint")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	file, err := mcppool.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	pool := mcppool.NewPool(file.Servers, &mcppool.PoolOptions{
		ClientName: "gateway-example",
		Logger:     logger,
	})
	defer pool.CloseAll()

	if err := pool.ConnectAll(ctx); err != nil {
		// Keep serving whatever did connect.
		logger.Warn("some servers failed to connect", zap.Error(err))
	}

	gateway, err := mcpgateway.New(pool, &mcpgateway.Options{
		Addr:       *addr,
		Path:       "/mcp",
		ToolPrefix: &file.ToolPrefix,
		CORS: &cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE"},
			AllowedHeaders: []string{"*"},
		},
		Streamable: mcp.StreamableHTTPOptions{JSONResponse: true},
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("failed to build gateway: %v", err)
	}
	if err := gateway.SyncAll(ctx); err != nil {
		logger.Warn("initial tool sync incomplete", zap.Error(err))
	}

	logger.Info("gateway serving Streamable MCP", zap.String("addr", *addr))
	if err := gateway.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("gateway server stopped: %v", err)
	}
}
