package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vikashloomba/mcp-gateway-go/pkg/registry"
)

func openStore(root *rootOptions) (*registry.Store, error) {
	return registry.NewStore(registry.ResolvePath(root.configPath, os.Getenv))
}

func newListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configured servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(root)
			if err != nil {
				return err
			}
			defs, err := store.List()
			if err != nil {
				return err
			}
			printServers(cmd.OutOrStdout(), defs)
			return nil
		},
	}
}

// printServers renders defs grouped by group name, groups in order of first
// appearance.
func printServers(w io.Writer, defs []registry.BackendDefinition) {
	if len(defs) == 0 {
		fmt.Fprintln(w, warnStyle.Render("No servers configured yet."))
		fmt.Fprintln(w, dimStyle.Render(`Use "mcp-gateway add" to add a server.`))
		return
	}

	var order []string
	byGroup := make(map[string][]registry.BackendDefinition)
	for _, def := range defs {
		group := def.GroupName()
		if _, ok := byGroup[group]; !ok {
			order = append(order, group)
		}
		byGroup[group] = append(byGroup[group], def)
	}

	fmt.Fprintln(w, headingStyle.Render("Configured Servers:"))
	fmt.Fprintln(w)
	for _, group := range order {
		fmt.Fprintln(w, groupStyle.Render("[ "+group+" ]"))
		for _, def := range byGroup[group] {
			status := disabledStyle.Render("✗ disabled")
			if def.Enabled {
				status = enabledStyle.Render("✓ enabled")
			}
			fmt.Fprintf(w, "  %s %s\n", nameStyle.Render(def.DisplayName()), status)
			fmt.Fprintln(w, dimStyle.Render("    ID: "+def.ID))
			fmt.Fprintln(w, dimStyle.Render("    Command: "+strings.TrimSpace(def.Command+" "+strings.Join(def.Args, " "))))
			fmt.Fprintln(w)
		}
	}
}

type addOptions struct {
	id       string
	name     string
	command  string
	args     []string
	env      []string
	group    string
	disabled bool
}

func newAddCmd(root *rootOptions) *cobra.Command {
	opts := &addOptions{}
	cmd := &cobra.Command{
		Use:   "add [flags] [-- extra args]",
		Short: "Add a new MCP server",
		Example: `  mcp-gateway add --id github --name GitHub --command npx --args @modelcontextprotocol/server-github
  mcp-gateway add -i fs -c npx -g local -- -y @modelcontextprotocol/server-filesystem /tmp`,
		RunE: func(cmd *cobra.Command, extra []string) error {
			store, err := openStore(root)
			if err != nil {
				return err
			}
			def, err := opts.definition(extra)
			if err != nil {
				return err
			}
			if err := store.Add(def); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, enabledStyle.Render(fmt.Sprintf("Added server %q", def.DisplayName())))
			fmt.Fprintln(out, dimStyle.Render("  ID: "+def.ID))
			fmt.Fprintln(out, dimStyle.Render("  Group: "+def.GroupName()))
			fmt.Fprintln(out, dimStyle.Render("  Status: "+enabledLabel(def.Enabled)))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.id, "id", "i", "", "server id, used as the tool name prefix (must not contain \"_\")")
	f.StringVarP(&opts.name, "name", "n", "", "display name")
	f.StringVarP(&opts.command, "command", "c", "", "command to run")
	f.StringArrayVarP(&opts.args, "args", "a", nil, "command argument (repeatable)")
	f.StringArrayVarP(&opts.env, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	f.StringVarP(&opts.group, "group", "g", registry.DefaultGroup, "server group")
	f.BoolVar(&opts.disabled, "disabled", false, "add the server but keep it disabled")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func (o *addOptions) definition(extra []string) (registry.BackendDefinition, error) {
	env, err := parseEnv(o.env)
	if err != nil {
		return registry.BackendDefinition{}, err
	}
	args := append(append([]string{}, o.args...), extra...)
	def := registry.BackendDefinition{
		ID:      strings.TrimSpace(o.id),
		Name:    o.name,
		Command: o.command,
		Args:    args,
		Env:     env,
		Group:   o.group,
		Enabled: !o.disabled,
	}
	return def, def.Validate()
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid environment variable %q, expected KEY=VALUE", pair)
		}
		env[strings.TrimSpace(key)] = value
	}
	return env, nil
}

func newRemoveCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(root)
			if err != nil {
				return err
			}
			removed, err := store.Remove(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), enabledStyle.Render(fmt.Sprintf("Removed server %q", removed.DisplayName())))
			return nil
		},
	}
}

func newEnableCmd(root *rootOptions) *cobra.Command {
	return newToggleCmd(root, "enable", true)
}

func newDisableCmd(root *rootOptions) *cobra.Command {
	return newToggleCmd(root, "disable", false)
}

func newToggleCmd(root *rootOptions, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(root)
			if err != nil {
				return err
			}
			def, err := store.SetEnabled(args[0], enabled)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), enabledStyle.Render(fmt.Sprintf("%sd server %q", strings.ToUpper(verb[:1])+verb[1:], def.DisplayName())))
			return nil
		},
	}
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func newInitCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the registry file and print a quick start",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(root)
			if err != nil {
				return err
			}
			created, err := store.Init()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintln(out, enabledStyle.Render("Configuration initialized!"))
			} else {
				defs, err := store.List()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, warnStyle.Render("Configuration already exists."))
				fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("Found %d server(s) configured.", len(defs))))
			}
			fmt.Fprintln(out, dimStyle.Render("Config location: "+store.Path()))
			fmt.Fprintln(out)
			fmt.Fprintln(out, headingStyle.Render("Quick Start:"))
			steps := []struct{ title, example string }{
				{"1. Add a server:", "mcp-gateway add --id github --name GitHub --command npx --args @modelcontextprotocol/server-github"},
				{"2. List servers:", "mcp-gateway list"},
				{"3. Start gateway:", "mcp-gateway start"},
				{"4. Generate client config:", "mcp-gateway config"},
			}
			for _, step := range steps {
				fmt.Fprintln(out, stepStyle.Render(step.title))
				fmt.Fprintln(out, dimStyle.Render("   "+step.example))
			}
			return nil
		},
	}
}
