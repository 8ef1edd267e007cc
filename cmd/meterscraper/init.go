package main

import (
	"fmt"
	"os"

	"github.com/jgoulah/meterscraper/internal/config"
	"github.com/spf13/cobra"
)

var (
	initUsername string
	initPassword string
	initStrategy string
	initPrice    float64
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with portal credentials",
	Long: `Creates the config file with your portal credentials and price per kWh.
Anything not given on the command line is asked for interactively.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initUsername, "username", "", "Portal username (email)")
	initCmd.Flags().StringVar(&initPassword, "password", "", "Portal password")
	initCmd.Flags().StringVar(&initStrategy, "strategy", config.StrategyBrowser, "Acquisition strategy: browser, http or auto")
	initCmd.Flags().Float64Var(&initPrice, "price", config.DefaultPricePerKWh, "Energy price in EUR per kWh")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if initUsername == "" {
		fmt.Print("Username: ")
		fmt.Scanln(&initUsername)
	}
	if initPassword == "" {
		fmt.Print("Password: ")
		fmt.Scanln(&initPassword)
	}

	cfg.Username = initUsername
	cfg.Password = initPassword
	cfg.Strategy = initStrategy
	cfg.PricePerKWh = &initPrice

	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.HasCredentials() {
		return fmt.Errorf("username and password are required")
	}

	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("✓ Config written to %s\n", path)
	fmt.Println("Run 'meterscraper test' to check the login.")
	return nil
}
