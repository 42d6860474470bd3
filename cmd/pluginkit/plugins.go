package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/macforge/pluginkit"
	"github.com/macforge/pluginkit/bundle"
)

// submitCmd represents the submit command.
var submitCmd = &cobra.Command{
	Use:   "submit <manifest.yaml>",
	Short: "Submit a plugin for validation",
	Long: `Submit a plugin manifest for validation.

The manifest declares the plugin's name, script kind, script content,
parameters, output mode, and security level. A submission that clears
every boundary check becomes installable; a rejected one reports the
failing rule.`,
	Example: `  # Submit a plugin manifest
  pluginkit submit ./echo-tool.yaml

  # Submit and install in one go
  pluginkit submit ./echo-tool.yaml --install`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		andInstall, _ := cmd.Flags().GetBool("install")
		return submitPlugin(cmd, args[0], andInstall)
	},
}

// installCmd represents the install command.
var installCmd = &cobra.Command{
	Use:   "install <plugin>",
	Short: "Install a validated plugin",
	Long: `Install the pending validated bundle for a plugin.

The descriptor is staged, verified, and atomically swapped into the
install directory. If any step fails, every applied step is undone and
the previously installed version (if any) is restored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return installPlugin(cmd, args[0])
	},
}

// activateCmd represents the activate command.
var activateCmd = &cobra.Command{
	Use:   "activate <plugin>",
	Short: "Activate an installed plugin",
	Long:  `Ask the automation engine to load an installed plugin's descriptor.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return activatePlugin(cmd, args[0])
	},
}

// removeCmd represents the remove command.
var removeCmd = &cobra.Command{
	Use:     "remove <plugin>",
	Aliases: []string{"rm", "uninstall"},
	Short:   "Remove an installed plugin",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return removePlugin(cmd, args[0])
	},
}

// pruneCmd represents the prune command.
var pruneCmd = &cobra.Command{
	Use:   "prune <plugin>",
	Short: "Drop a removed plugin's record",
	Long:  `Drop the registry record of a removed plugin. Plugins in any live state are refused; remove them first.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prunePlugin(cmd, args[0])
	},
}

// listCmd represents the list command.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known plugins",
	Long:  `List every plugin the registry knows, including removed ones.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listPlugins(cmd)
	},
}

// infoCmd represents the info command.
var infoCmd = &cobra.Command{
	Use:   "info <plugin>",
	Short: "Show plugin record details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showPluginInfo(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)

	submitCmd.Flags().Bool("install", false, "Install immediately after validation")
}

// parseIdentity accepts "name" or "namespace/name".
func parseIdentity(arg string) (pluginkit.Identity, error) {
	name := arg
	namespace := ""
	if i := strings.IndexByte(arg, '/'); i >= 0 {
		namespace, name = arg[:i], arg[i+1:]
	}
	return pluginkit.NewIdentity(name, namespace)
}

// submitPlugin loads a manifest, runs it through the pipeline, and
// optionally installs it.
func submitPlugin(cmd *cobra.Command, manifestPath string, andInstall bool) error {
	data, err := os.ReadFile(manifestPath) // nolint:gosec // Path is user-supplied
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	var sub bundle.Submission
	if err := yaml.Unmarshal(data, &sub); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	m, err := newManager()
	if err != nil {
		return err
	}

	res, err := m.Submit(cmd.Context(), sub)
	if err != nil {
		return err
	}

	for _, adv := range res.Advisories {
		fmt.Printf("advisory [%s]: %s\n", adv.RuleID, adv.Detail)
	}
	if res.Status == pluginkit.StateRejected {
		return fmt.Errorf("submission rejected by rule %s: %s", res.RuleID, res.Reason)
	}
	fmt.Printf("Validated %s (bundle %s)\n", res.Identity, shortHash(res.BundleHash))

	if !andInstall {
		return nil
	}

	ins, err := m.Install(cmd.Context(), res.Identity)
	if err != nil {
		return err
	}
	fmt.Printf("Installed %s at %s\n", ins.Identity, ins.Path)
	return nil
}

// installPlugin installs the pending validated bundle for a plugin.
func installPlugin(cmd *cobra.Command, arg string) error {
	id, err := parseIdentity(arg)
	if err != nil {
		return err
	}

	m, err := newManager()
	if err != nil {
		return err
	}

	res, err := m.Install(cmd.Context(), id)
	if err != nil {
		if res.Status == pluginkit.StateRolledBack {
			return fmt.Errorf("install rolled back: %w", err)
		}
		return err
	}
	fmt.Printf("Installed %s (bundle %s) at %s\n", res.Identity, shortHash(res.BundleHash), res.Path)
	return nil
}

// activatePlugin runs the engine feasibility check for a plugin.
func activatePlugin(cmd *cobra.Command, arg string) error {
	id, err := parseIdentity(arg)
	if err != nil {
		return err
	}

	m, err := newManager()
	if err != nil {
		return err
	}

	rec, err := m.Activate(cmd.Context(), id)
	if err != nil {
		if rec.State == pluginkit.StateInstalled {
			return fmt.Errorf("plugin stays installed: %w", err)
		}
		return err
	}
	fmt.Printf("Activated %s\n", rec.Identity)
	return nil
}

// removePlugin removes an installed plugin.
func removePlugin(cmd *cobra.Command, arg string) error {
	id, err := parseIdentity(arg)
	if err != nil {
		return err
	}

	m, err := newManager()
	if err != nil {
		return err
	}

	rec, err := m.Remove(cmd.Context(), id)
	if err != nil {
		if errors.Is(err, pluginkit.ErrNotFound) {
			return fmt.Errorf("plugin %s is not installed", id)
		}
		return err
	}
	fmt.Printf("Removed %s\n", rec.Identity)
	return nil
}

// prunePlugin drops a removed plugin's registry record.
func prunePlugin(cmd *cobra.Command, arg string) error {
	id, err := parseIdentity(arg)
	if err != nil {
		return err
	}

	m, err := newManager()
	if err != nil {
		return err
	}

	if err := m.Prune(cmd.Context(), id); err != nil {
		if errors.Is(err, pluginkit.ErrNotFound) {
			return fmt.Errorf("plugin %s is not known", id)
		}
		return err
	}
	fmt.Printf("Pruned %s\n", id)
	return nil
}

// listPlugins prints the registry in a table.
func listPlugins(cmd *cobra.Command) error {
	m, err := newManager()
	if err != nil {
		return err
	}

	records := m.List()
	if len(records) == 0 {
		fmt.Println("No plugins known.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "PLUGIN\tSTATE\tBUNDLE\tPATH")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			rec.Identity, rec.State, shortHash(rec.BundleHash), rec.Path)
	}
	return w.Flush()
}

// showPluginInfo prints one record in detail.
func showPluginInfo(cmd *cobra.Command, arg string) error {
	id, err := parseIdentity(arg)
	if err != nil {
		return err
	}

	m, err := newManager()
	if err != nil {
		return err
	}

	rec, err := m.Query(id)
	if err != nil {
		return err
	}

	fmt.Printf("Plugin:    %s\n", rec.Identity)
	fmt.Printf("State:     %s\n", rec.State)
	fmt.Printf("Bundle:    %s\n", rec.BundleHash)
	fmt.Printf("Path:      %s\n", rec.Path)
	if !rec.InstalledAt.IsZero() {
		fmt.Printf("Installed: %s\n", rec.InstalledAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Printf("Updated:   %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	if rec.LastRuleID != "" {
		fmt.Printf("Last rule: %s\n", rec.LastRuleID)
	}
	return nil
}

// shortHash abbreviates a bundle hash for display.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	if h == "" {
		return "-"
	}
	return h
}
