package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ragbase/backend/go/pkg/discovery/etcd"
	"ragbase/backend/go/pkg/logger"
)

var (
	serverURL     string
	etcdEndpoints []string
	serviceName   string
	timeout       time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "rag-cli",
	Short: "A CLI client for the RAG knowledge base service",
	Long:  `A command-line interface for uploading documents, building the index and querying the RAG service over HTTP.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Whoops. There was an error while executing your CLI: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "base URL of the RAG service")
	rootCmd.PersistentFlags().StringSliceVar(&etcdEndpoints, "etcd", nil, "etcd endpoints; when set the server address is discovered instead of --server")
	rootCmd.PersistentFlags().StringVar(&serviceName, "service", "rag_service", "service name registered in etcd")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")
}

// baseURL 返回 --server，或在指定 --etcd 时从注册中心取第一个地址。
func baseURL(ctx context.Context) (string, error) {
	if len(etcdEndpoints) == 0 {
		return serverURL, nil
	}
	sd, err := etcd.NewServiceDiscovery(etcdEndpoints, logger.Discard())
	if err != nil {
		return "", err
	}
	defer sd.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	addrs, err := sd.Discover(ctx, serviceName)
	if err != nil {
		return "", fmt.Errorf("failed to discover %s: %w", serviceName, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no instance of %s registered in etcd", serviceName)
	}
	return normalizeBase(addrs[0]), nil
}
