package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/secondbrain/pkg/secondbrain/mcp"
)

// newMCPCmd creates the `secondbrain mcp` command group for managing MCP
// servers in ~/.claude.json without starting the bot.
func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP servers for the Claude CLI",
	}

	cmd.AddCommand(
		newMCPListCmd(),
		newMCPInstallCmd(),
		newMCPRemoveCmd(),
	)
	return cmd
}

func newMCPListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known MCP servers and their install state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr := mcp.NewManager("")
			statuses, err := mgr.StatusAll()
			if err != nil {
				return err
			}
			for _, st := range statuses {
				mark := " "
				if st.Installed {
					mark = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %-16s %s\n", mark, st.Def.Name, st.Def.Description)
			}
			return nil
		},
	}
}

func newMCPInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <name> [KEY=VALUE...]",
		Short: "Install an MCP server into ~/.claude.json",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envValues := make(map[string]string)
			for _, pair := range args[1:] {
				k, v, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("expected KEY=VALUE, got %q", pair)
				}
				envValues[k] = v
			}
			def, err := mcp.NewManager("").Install(args[0], envValues)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s.\n", def.DisplayName)
			return nil
		},
	}
}

func newMCPRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an MCP server from ~/.claude.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := mcp.NewManager("").Uninstall(args[0])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not installed.\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s.\n", args[0])
			return nil
		},
	}
}
