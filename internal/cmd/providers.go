package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhangifonly/termwatch/internal/config"
	"github.com/zhangifonly/termwatch/internal/failover"
	"github.com/zhangifonly/termwatch/internal/ui"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show configured provider failover order",
	Long: `Show the provider priority lists used for failover, per assistant type.

When a session hits a rate limit or auth failure, the daemon switches it
to the next provider in this order.`,
	RunE: runProviders,
}

var providersNextCmd = &cobra.Command{
	Use:   "next <assistant> <current> [candidates...]",
	Short: "Show which provider failover would pick",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runProvidersNext,
}

func init() {
	providersCmd.AddCommand(providersNextCmd)
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, args []string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	if len(cfg.Providers) == 0 {
		fmt.Println("No provider priorities configured.")
		return nil
	}

	fmt.Println(ui.Header("Provider priorities"))
	assistants := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		assistants = append(assistants, name)
	}
	sort.Strings(assistants)
	for _, name := range assistants {
		fmt.Printf("  %s %s\n", ui.Label(name+":"), ui.Value(strings.Join(cfg.Providers[name], " > ")))
	}
	return nil
}

func runProvidersNext(cmd *cobra.Command, args []string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	assistant, current := args[0], args[1]
	candidates := args[2:]
	if len(candidates) == 0 {
		candidates = cfg.Priority(assistant)
	}

	next, err := failover.Next(candidates, current, cfg.Priority(assistant))
	if err != nil {
		return fmt.Errorf("selecting provider for %s: %w", assistant, err)
	}
	fmt.Println(next)
	return nil
}
