package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	brokerconfig "github.com/sessionbroker/broker/internal/config"
	"github.com/sessionbroker/broker/internal/registry"
	"github.com/sessionbroker/broker/internal/storage"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting brokerd configuration and session state.`,
}

var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show merged configuration",
	RunE:  runDebugConfig,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show system paths",
	RunE:  runDebugPaths,
}

var debugRegistryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Dump the session registry",
	RunE:  runDebugRegistry,
}

func init() {
	debugCmd.AddCommand(debugConfigCmd)
	debugCmd.AddCommand(debugPathsCmd)
	debugCmd.AddCommand(debugRegistryCmd)
}

func runDebugConfig(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	cfg, err := brokerconfig.Load(workDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	paths := brokerconfig.GetPaths()

	fmt.Println("brokerd system paths:")
	fmt.Printf("  Data:   %s\n", paths.Data)
	fmt.Printf("  Config: %s\n", paths.Config)
	fmt.Printf("  Cache:  %s\n", paths.Cache)
	fmt.Printf("  State:  %s\n", paths.State)
	fmt.Printf("  Auth:   %s\n", paths.AuthPath())
	fmt.Printf("  Storage:%s\n", paths.StoragePath())
	return nil
}

func runDebugRegistry(cmd *cobra.Command, args []string) error {
	paths := brokerconfig.GetPaths()
	store := storage.NewSessionStorage(paths.StoragePath())
	reg := registry.New(store)

	ctx := context.Background()
	count, err := reg.RestoreAll(ctx)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	entries := reg.List()
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	fmt.Printf("%d registry entries (%d restored from disk):\n", len(entries), count)
	fmt.Println(string(data))
	return nil
}
