package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/pathacl"
	"github.com/oarkflow/pathacl/logger"
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
	case "check":
		handleCheck()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("pathacl-rules - Rule document tool for pathacl")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  pathacl-rules convert <input> <output>      - Convert between formats")
	fmt.Println("  pathacl-rules validate <file>               - Validate a rule document")
	fmt.Println("  pathacl-rules stats <file>                  - Show rule statistics")
	fmt.Println("  pathacl-rules check <file> <email> <path>   - Run one authorization query")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json, .bin")
	fmt.Println("A .json input may be either a full config or a raw rule document")
	fmt.Println("of shape {\"<path>\": [\"<identity-or-glob>\", ...], ...}")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: pathacl-rules convert <input> <output>")
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

	inStat, _ := os.Stat(inputFile)
	outStat, _ := os.Stat(outputFile)
	if inStat != nil && outStat != nil {
		reduction := (1 - float64(outStat.Size())/float64(inStat.Size())) * 100
		if reduction > 0 {
			fmt.Printf("Size reduced by %.1f%% (%d -> %d bytes)\n",
				reduction, inStat.Size(), outStat.Size())
		} else {
			fmt.Printf("Size increased by %.1f%% (%d -> %d bytes)\n",
				-reduction, inStat.Size(), outStat.Size())
		}
	}
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: pathacl-rules validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Invalid rule document: %v\n", err)
		os.Exit(1)
	}

	resolver, err := pathacl.NewResolver(cfg.Rules)
	if err != nil {
		fmt.Printf("Invalid rule document: %v\n", err)
		os.Exit(1)
	}

	stats := resolver.Stats()
	fmt.Printf("Rule document is valid\n")
	fmt.Printf("  Version:           %d\n", cfg.Version)
	fmt.Printf("  Prefixes:          %d\n", stats.Prefixes)
	fmt.Printf("  Exact identities:  %d\n", stats.ExactIdentities)
	fmt.Printf("  Wildcard patterns: %d\n", stats.WildcardPatterns)
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: pathacl-rules stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	resolver, err := pathacl.NewResolver(cfg.Rules)
	if err != nil {
		fmt.Printf("Error building rule table: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)
	stats := resolver.Stats()

	fmt.Println("Rule Document Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	fmt.Println("Components:")
	fmt.Printf("  Prefixes:          %d\n", stats.Prefixes)
	fmt.Printf("  Exact identities:  %d\n", stats.ExactIdentities)
	fmt.Printf("  Wildcard patterns: %d\n", stats.WildcardPatterns)
	fmt.Println()

	if len(cfg.Rules) > 0 {
		fmt.Println("Declared prefixes:")
		for prefix, patterns := range cfg.Rules {
			fmt.Printf("  %-30s %d pattern(s)\n", prefix, len(patterns))
		}
		fmt.Println()
	}

	fmt.Println("Resolver Configuration:")
	fmt.Printf("  Decision cache counters: %d\n", cfg.Resolver.DecisionCache.NumCounters)
	fmt.Printf("  Decision cache max cost: %d\n", cfg.Resolver.DecisionCache.MaxCost)
}

func handleCheck() {
	if len(os.Args) < 5 {
		fmt.Println("Usage: pathacl-rules check <file> <email> <path>")
		os.Exit(1)
	}

	filename := os.Args[2]
	email := os.Args[3]
	path := os.Args[4]

	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	resolver, err := pathacl.NewResolver(nil, pathacl.WithLogger(logger.NewPhusluLogger()))
	if err != nil {
		fmt.Printf("Error building resolver: %v\n", err)
		os.Exit(1)
	}
	if err := resolver.ApplyConfig(cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	decision, err := resolver.Explain(pathacl.Identity{Email: email}, path)
	if err != nil {
		fmt.Printf("Error evaluating query: %v\n", err)
		os.Exit(1)
	}

	for _, line := range decision.Trace {
		fmt.Printf("  %s\n", line)
	}
	if decision.Allowed {
		fmt.Printf("ALLOW %s %s (matched %s)\n", email, path, decision.MatchedPrefix)
		return
	}
	fmt.Printf("DENY %s %s\n", email, path)
	os.Exit(2)
}

func loadConfig(filename string) (*pathacl.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	loader := pathacl.NewConfigLoader()

	switch ext {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		if cfg, err := loader.LoadJSON(data); err == nil && cfg.Rules != nil {
			return cfg, nil
		}
		// Not a config wrapper: treat it as a raw rule document.
		rules, err := pathacl.ParseRules(data)
		if err != nil {
			return nil, err
		}
		return &pathacl.Config{Rules: rules}, nil
	case ".bin":
		return loader.LoadBinary(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func saveConfig(cfg *pathacl.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	case ".bin":
		data, err = pathacl.EncodeBinaryConfig(cfg)
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
