package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/permbit/permbit"
	"github.com/permbit/permbit/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("permbit-config - Configuration tool for permbit")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  permbit-config convert <input> <output>  - Convert between formats")
	fmt.Println("  permbit-config validate <file>           - Validate configuration")
	fmt.Println("  permbit-config stats <file>              - Show configuration statistics")
	fmt.Println("  permbit-config apply <file>              - Apply configuration to an engine")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: permbit-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permbit-config validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version: %d\n", cfg.Version)
	fmt.Printf("  Resources: %d\n", len(cfg.Resources))
	fmt.Printf("  Users: %d\n", len(cfg.Users))
	fmt.Printf("  Memberships: %d\n", len(cfg.Memberships))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permbit-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	fmt.Println("Components:")
	fmt.Printf("  Resources:   %d\n", len(cfg.Resources))
	fmt.Printf("  Users:       %d\n", len(cfg.Users))
	fmt.Printf("  Memberships: %d\n", len(cfg.Memberships))
	fmt.Println()

	if len(cfg.Resources) > 0 {
		totalActions := 0
		totalDefaults := 0
		for _, r := range cfg.Resources {
			totalActions += len(r.Actions)
			totalDefaults += len(r.Defaults)
		}
		fmt.Println("Resource Details:")
		fmt.Printf("  Total actions:    %d\n", totalActions)
		fmt.Printf("  Default grants:   %d\n", totalDefaults)
		fmt.Printf("  Avg actions/type: %.1f\n", float64(totalActions)/float64(len(cfg.Resources)))
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Decision cache TTL:     %dms\n", cfg.Engine.DecisionCacheTTL)
	fmt.Printf("  Ristretto num counters: %d\n", cfg.Engine.RistrettoNumCounter)
	fmt.Printf("  Ristretto max cost:     %d\n", cfg.Engine.RistrettoMaxCost)
	fmt.Printf("  Ristretto buffer items: %d\n", cfg.Engine.RistrettoBuffer)
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permbit-config apply <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	registry := permbit.NewRegistry()
	manager, err := permbit.NewManager(
		registry,
		stores.NewMemoryUserStore(),
		stores.NewMemoryRoleStore(),
		stores.NewMemoryPermissionStore(),
	)
	if err != nil {
		fmt.Printf("Error building engine: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := manager.ApplyConfig(ctx, cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Resources loaded:   %d\n", len(cfg.Resources))
	fmt.Printf("  Users loaded:       %d\n", len(cfg.Users))
	fmt.Printf("  Memberships loaded: %d\n", len(cfg.Memberships))
}

func loadConfig(filename string) (*permbit.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	loader := permbit.NewConfigLoader()

	switch ext {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func saveConfig(cfg *permbit.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
