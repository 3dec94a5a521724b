package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"furitingoasis/soilstation/internal/command"
	"furitingoasis/soilstation/internal/config"
)

func showConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

// parseCommand prints the decoded command in canonical form, or the error
// kind and the text the station would publish on the error topic.
func parseCommand(cmd *cobra.Command, args []string) error {
	c, cerr := command.ParseString(args[0])
	if cerr != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", cerr.Kind, cerr.Message())
		return fmt.Errorf("payload rejected: %w", cerr)
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", c, b)
	return nil
}
