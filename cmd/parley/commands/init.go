package commands

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/parley/internal/config"
	"github.com/dyluth/parley/internal/instance"
	"github.com/dyluth/parley/internal/printer"
)

var (
	forceInit    bool
	initInstance string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a parley.yml configuration",
	Long: `Create a parley.yml with the default configuration: a SQLite backend
and a preSendMessage pipeline that trims, rejects empty messages and caps
their length.

A unique instance name is generated unless --name is given.

Use --force to overwrite an existing configuration.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing configuration")
	initCmd.Flags().StringVarP(&initInstance, "name", "n", "", "Instance name (generated if omitted)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !forceInit {
		if _, err := os.Stat(configPath); err == nil {
			return printer.Error(
				fmt.Sprintf("%s already exists", configPath),
				"Refusing to overwrite an existing configuration.",
				[]string{"Reinitialize with:\n  parley init --force"},
			)
		}
	}

	name := initInstance
	if name == "" {
		name = instance.GenerateName()
	}
	if err := instance.ValidateName(name); err != nil {
		return printer.Error("invalid instance name", err.Error(), nil)
	}

	data := bytes.Replace(config.DefaultYAML, []byte(`instance: ""`), []byte(fmt.Sprintf("instance: %q", name)), 1)

	// Never write a file parley itself could not load
	if _, err := config.Parse(data); err != nil {
		return fmt.Errorf("generated configuration is invalid: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}

	printer.Success("Created %s for instance '%s'\n", configPath, name)
	return nil
}
