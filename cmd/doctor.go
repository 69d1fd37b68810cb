package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/stockfleet/internal/config"
	"github.com/nextlevelbuilder/stockfleet/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("stockfleet doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-12s %s:%d\n", "Listen:", cfg.Gateway.Host, cfg.Gateway.Port)
	origins := "(allow all)"
	if len(cfg.Gateway.AllowedOrigins) > 0 {
		origins = strings.Join(cfg.Gateway.AllowedOrigins, ", ")
	}
	fmt.Printf("    %-12s %s\n", "Origins:", origins)

	// Data directory: every agent persists here; it must be writable.
	fmt.Println()
	dataDir := config.ExpandHome(cfg.Fleet.DataDir)
	fmt.Printf("  Data dir: %s", dataDir)
	if err := checkWritable(dataDir); err != nil {
		fmt.Printf(" (NOT WRITABLE: %s)\n", err)
	} else {
		fmt.Println(" (OK)")
		if n := countDBFiles(dataDir); n > 0 {
			fmt.Printf("    %-12s %d agent database(s)\n", "Stores:", n)
		}
	}

	fmt.Println()
	fmt.Println("  Model:")
	mc := cfg.ModelSnapshot()
	if mc.Provider == "" {
		fmt.Printf("    %-12s stub (deterministic)\n", "Provider:")
	} else {
		fmt.Printf("    %-12s %s\n", "Provider:", mc.Provider)
		checkSecret("API key", mc.APIKey)
	}

	fmt.Println()
	fmt.Println("  Vector:")
	if cfg.Vector.Provider == "" {
		fmt.Printf("    %-12s disabled\n", "Provider:")
	} else {
		fmt.Printf("    %-12s %s\n", "Provider:", cfg.Vector.Provider)
		if cfg.Vector.PersistPath != "" {
			fmt.Printf("    %-12s %s\n", "Persist:", config.ExpandHome(cfg.Vector.PersistPath))
		}
	}

	if cfg.Workflow.ForecastSchedule != "" {
		fmt.Println()
		fmt.Printf("  Forecast schedule: %s\n", cfg.Workflow.ForecastSchedule)
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(name, value string) {
	if value == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := value
	if len(value) > 8 {
		masked = value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return err
	}
	os.Remove(probe)
	return nil
}

func countDBFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".db" {
			n++
		}
	}
	return n
}
