// Package main provides the graphmirror CLI and server daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"graphmirror/api"
	"graphmirror/asset"
	"graphmirror/config"
	"graphmirror/mirror"
	"graphmirror/proto"
	"graphmirror/store"
)

var (
	flagConfig string
	flagListen string
	flagDB     string
	flagServer string
)

var rootCmd = &cobra.Command{
	Use:   "graphmirror",
	Short: "Checksum-addressed project graph synchronization",
	Long:  `graphmirror keeps a remote mirror of an in-memory project graph consistent with its authoritative host using content-addressed fingerprints and incremental asset transfer.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authoritative sync server",
	RunE:  runServe,
}

var headCmd = &cobra.Command{
	Use:   "head",
	Short: "Print the server's current root fingerprint and version",
	RunE:  runHead,
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Mirror the server's primary branch and print a summary",
	RunE:  runPull,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream primary branch changes from the server",
	RunE:  runWatch,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")

	serveCmd.Flags().StringVar(&flagListen, "listen", "", "address to listen on")
	serveCmd.Flags().StringVar(&flagDB, "db", "", "sqlite database path")

	for _, c := range []*cobra.Command{headCmd, pullCmd, watchCmd} {
		c.Flags().StringVar(&flagServer, "server", "http://localhost:7461", "server base URL")
	}

	rootCmd.AddCommand(serveCmd, headCmd, pullCmd, watchCmd)
}

func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.Load(flagConfig)
	}
	return config.FromEnv(), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}

	log.Printf("graphmirror starting...")
	log.Printf("  listen:  %s", cfg.Listen)
	log.Printf("  db:      %s", cfg.DBPath)
	log.Printf("  cache:   %d", cfg.CacheCapacity)
	log.Printf("  version: %s", cfg.Version)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	handler := api.NewHandler(db, db, cfg)
	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      api.WithDefaults(api.NewRouter(handler)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		close(done)
	}()

	log.Printf("graphmirror listening on %s", cfg.Listen)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}

	<-done
	log.Println("graphmirror stopped")
	return nil
}

func runHead(cmd *cobra.Command, args []string) error {
	client := api.NewClient(flagServer)
	sum, version, err := client.Head(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("%s %d\n", sum.Hex(), version)
	return nil
}

func runPull(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := api.NewClient(flagServer)
	ws := mirror.NewWorkspace(asset.NewProvider(client, asset.NewCache(cfg.CacheCapacity)))

	root, version, err := client.Head(cmd.Context())
	if err != nil {
		return err
	}
	sol, err := ws.UpdatePrimaryBranch(cmd.Context(), root, version)
	if err != nil {
		return err
	}

	fmt.Printf("solution %q @ %s (version %d)\n", sol.Name(), sol.Checksum().Short(), version)
	for _, p := range sol.Projects() {
		fmt.Printf("  project %q @ %s (%d documents)\n", p.Name(), p.Checksum().Short(), len(p.Documents()))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	client := api.NewClient(flagServer)
	log.Printf("watching %s", flagServer)
	return client.Watch(cmd.Context(), func(ev proto.WatchEvent) {
		fmt.Printf("head -> %s (version %d)\n", ev.Checksum, ev.Version)
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
