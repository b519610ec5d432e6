package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pinebranchco/wisp/internal/config"
	"github.com/pinebranchco/wisp/internal/gateway"
	"github.com/pinebranchco/wisp/internal/memory"
	"github.com/pinebranchco/wisp/internal/persona"
)

var rootCmd = &cobra.Command{
	Use:   "wisp",
	Short: "wisp - a chat companion that remembers",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the bot (channels + memory + scheduler)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and persona",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show wisp status",
	RunE:  runStatus,
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit long-term memory",
}

var memoryViewCmd = &cobra.Command{
	Use:   "view <user-id>",
	Short: "List what wisp remembers about a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryView,
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <user-id> <topic> <summary>",
	Short: "Record a fact by hand",
	Args:  cobra.ExactArgs(3),
	RunE:  runMemoryAdd,
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear <user-id>",
	Short: "Forget everything about a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryClear,
}

func init() {
	memoryCmd.AddCommand(memoryViewCmd, memoryAddCmd, memoryClearCmd)
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd, memoryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'wisp onboard' or set WISP_API_KEY / ANTHROPIC_API_KEY")
	}

	g, err := gateway.New(cfg)
	if err != nil {
		return err
	}
	return g.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	fmt.Print("API key (anthropic or openai-compatible): ")
	if key, _ := reader.ReadString('\n'); strings.TrimSpace(key) != "" {
		cfg.Provider.APIKey = strings.TrimSpace(key)
	}

	fmt.Print("Telegram bot token (empty to skip): ")
	if token, _ := reader.ReadString('\n'); strings.TrimSpace(token) != "" {
		cfg.Channels.Telegram.Token = strings.TrimSpace(token)
		cfg.Channels.Telegram.Enabled = true
	}

	fmt.Print("Persona name [Wisp]: ")
	name, _ := reader.ReadString('\n')
	p := persona.Default()
	if strings.TrimSpace(name) != "" {
		p.Name = strings.TrimSpace(name)
	}

	if err := config.SaveConfig(cfg); err != nil {
		return err
	}
	if err := persona.Save(p, config.PersonaPath()); err != nil {
		return err
	}

	fmt.Printf("Config written to %s\n", config.ConfigPath())
	fmt.Printf("Persona written to %s\n", config.PersonaPath())
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("config:  %s\n", config.ConfigPath())
	fmt.Printf("model:   %s\n", cfg.Agent.Model)
	fmt.Printf("api key: %s\n", presence(cfg.Provider.APIKey))
	fmt.Printf("telegram: enabled=%v token=%s\n", cfg.Channels.Telegram.Enabled, presence(cfg.Channels.Telegram.Token))

	store, err := openStore(cfg)
	if err != nil {
		fmt.Printf("memory:  unavailable (%v)\n", err)
		return nil
	}
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		fmt.Printf("memory:  unavailable (%v)\n", err)
		return nil
	}
	fmt.Printf("memory:  %d record(s) about %d user(s), %d archived, %d source links\n",
		stats.ActiveRecords, stats.Users, stats.ArchivedRecords, stats.SourceLinks)
	return nil
}

func runMemoryView(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Lookup(context.Background(), args[0], "")
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("nothing remembered about %s\n", args[0])
		return nil
	}
	for _, r := range records {
		fmt.Printf("[%s] (weight %.2f, updated %s)\n  %s\n",
			r.Topic, r.Weight, r.UpdatedAt.Format("2006-01-02"), r.Summary)
	}
	return nil
}

func runMemoryAdd(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Upsert(context.Background(), args[0], args[1], args[2], 1.0, nil); err != nil {
		return err
	}
	fmt.Printf("remembered %s / %s\n", args[0], args[1])
	return nil
}

func runMemoryClear(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.ClearUser(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("forgot %d record(s) about %s\n", n, args[0])
	return nil
}

func openStore(cfg *config.Config) (*memory.Store, error) {
	dbPath := cfg.Memory.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "memory.db")
	}
	return memory.NewStore(dbPath, memory.StoreOptions{
		SimilarityThreshold: cfg.Memory.SimilarityThreshold,
		MaxSummaryLen:       cfg.Memory.MaxSummaryLen,
	})
}

func presence(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(not set)"
	}
	return "set"
}
