// Command mousebrainz-ctl edits the active profile and controls the
// mousebrainz daemon over its IPC socket.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"mousebrainz/internal/input"
	"mousebrainz/internal/ipc"
)

var version = "dev"

func defaultSocketPath() string {
	dir := xdg.RuntimeDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "mousebrainz.sock")
}

// caller is the part of ipc.Client the commands use.
type caller interface {
	Call(ctx context.Context, typ string, payload, out any) error
}

type app struct {
	socket  string
	asJSON  bool
	out     io.Writer
	connect func(socket string) caller
}

func (a *app) client() caller {
	return a.connect(a.socket)
}

// print writes v as indented JSON with --json, otherwise calls human.
func (a *app) print(v any, human func(w io.Writer)) error {
	if a.asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(a.out)
	return nil
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mousebrainz-ctl",
		Short: "Control the mousebrainz daemon",
		Long: `mousebrainz-ctl - edit rules and toggles and control the mousebrainz engine

Rules are evaluated in list order; the first enabled rule whose button and
exact modifier set match an event wins.`,
		Example: `  # Show engine state
  mousebrainz-ctl status

  # Zoom with cmd+scroll
  mousebrainz-ctl rules add -b scroll -m cmd -a zoom

  # Back button sends browser back
  mousebrainz-ctl rules add -b back -a navigation --direction back

  # Turn on smooth scrolling
  mousebrainz-ctl toggles --smooth on`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&a.socket, "socket", defaultSocketPath(), "Unix domain socket path")
	rootCmd.PersistentFlags().BoolVar(&a.asJSON, "json", false, "Print replies as JSON")

	rootCmd.AddCommand(
		newStatusCmd(a),
		newRulesCmd(a),
		newTogglesCmd(a),
		newReloadCmd(a),
		newEngineCmd(a),
	)
	return rootCmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine and profile state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st ipc.Status
			if err := a.client().Call(cmd.Context(), ipc.TypeStatus, nil, &st); err != nil {
				return err
			}
			return a.print(st, func(w io.Writer) { printStatus(w, st) })
		},
	}
}

func printStatus(w io.Writer, st ipc.Status) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "engine:\t%s\n", onOff(st.Running, "running", "stopped"))
	fmt.Fprintf(tw, "authorized:\t%s\n", onOff(st.Authorized, "yes", "no"))
	fmt.Fprintf(tw, "smooth scrolling:\t%s\n", onOff(st.SmoothScrolling, "on", "off"))
	fmt.Fprintf(tw, "invert scrolling:\t%s\n", onOff(st.InvertScrolling, "on", "off"))
	fmt.Fprintf(tw, "rules:\t%d\n", st.RuleCount)
	if st.Running {
		fmt.Fprintf(tw, "handlers:\t%d\n", st.Handlers)
	}
	if st.ProfilePath != "" {
		fmt.Fprintf(tw, "profile:\t%s\n", st.ProfilePath)
	}
	_ = tw.Flush()
}

func onOff(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

func printRules(w io.Writer, rules []input.Rule) {
	if len(rules) == 0 {
		fmt.Fprintln(w, "no rules")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tSTATE\tTRIGGER\tACTION")
	for i, r := range rules {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i, r.ID, onOff(r.Enabled, "on", "off"), r.Trigger, input.DescribeAction(r.Action))
	}
	_ = tw.Flush()
}

func newRulesCmd(a *app) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:     "rules",
		Aliases: []string{"rule", "r"},
		Short:   "List and edit rules",
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List rules in evaluation order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rs ipc.Rules
			if err := a.client().Call(cmd.Context(), ipc.TypeListRules, nil, &rs); err != nil {
				return err
			}
			return a.print(rs, func(w io.Writer) { printRules(w, rs.Rules) })
		},
	}

	var addFlags ruleFlags
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Append a rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := addFlags.rule("")
			if err != nil {
				return err
			}
			var added input.Rule
			if err := a.client().Call(cmd.Context(), ipc.TypeAddRule, r, &added); err != nil {
				return err
			}
			return a.print(added, func(w io.Writer) { fmt.Fprintln(w, added.ID) })
		},
	}
	addFlags.register(addCmd)

	var updateFlags ruleFlags
	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a rule, keeping its position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := updateFlags.rule(args[0])
			if err != nil {
				return err
			}
			if err := a.client().Call(cmd.Context(), ipc.TypeUpdateRule, r, nil); err != nil {
				return err
			}
			return a.print(r, func(w io.Writer) { fmt.Fprintln(w, "ok") })
		},
	}
	updateFlags.register(updateCmd)

	removeCmd := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a rule",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.simple(cmd.Context(), ipc.TypeRemoveRule, ipc.RuleRef{ID: args[0]})
		},
	}

	enableCmd := &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.simple(cmd.Context(), ipc.TypeSetRuleEnabled, ipc.SetRuleEnabled{ID: args[0], Enabled: true})
		},
	}

	disableCmd := &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a rule without deleting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.simple(cmd.Context(), ipc.TypeSetRuleEnabled, ipc.SetRuleEnabled{ID: args[0], Enabled: false})
		},
	}

	moveCmd := &cobra.Command{
		Use:   "move <id> <index>",
		Short: "Move a rule to a list position (0 is evaluated first)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			var rs ipc.Rules
			if err := a.client().Call(cmd.Context(), ipc.TypeMoveRule, ipc.MoveRule{ID: args[0], Index: idx}, &rs); err != nil {
				return err
			}
			return a.print(rs, func(w io.Writer) { printRules(w, rs.Rules) })
		},
	}

	rulesCmd.AddCommand(listCmd, addCmd, updateCmd, removeCmd, enableCmd, disableCmd, moveCmd)
	return rulesCmd
}

// simple sends a request whose reply carries no data and prints "ok".
func (a *app) simple(ctx context.Context, typ string, payload any) error {
	if err := a.client().Call(ctx, typ, payload, nil); err != nil {
		return err
	}
	return a.print(map[string]string{"status": ipc.StatusOK}, func(w io.Writer) { fmt.Fprintln(w, "ok") })
}

func newTogglesCmd(a *app) *cobra.Command {
	var invert, smooth string
	cmd := &cobra.Command{
		Use:   "toggles",
		Short: "Set smooth and inverted scrolling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p ipc.SetToggles
			if invert != "" {
				v, err := parseOnOff(invert)
				if err != nil {
					return fmt.Errorf("--invert: %w", err)
				}
				p.InvertScrolling = &v
			}
			if smooth != "" {
				v, err := parseOnOff(smooth)
				if err != nil {
					return fmt.Errorf("--smooth: %w", err)
				}
				p.SmoothScrolling = &v
			}
			var st ipc.Status
			if err := a.client().Call(cmd.Context(), ipc.TypeSetToggles, p, &st); err != nil {
				return err
			}
			return a.print(st, func(w io.Writer) { printStatus(w, st) })
		},
	}
	cmd.Flags().StringVar(&invert, "invert", "", "Inverted scrolling: on or off")
	cmd.Flags().StringVar(&smooth, "smooth", "", "Smooth scrolling: on or off")
	return cmd
}

func newReloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read the profile file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rs ipc.Rules
			if err := a.client().Call(cmd.Context(), ipc.TypeReloadProfile, nil, &rs); err != nil {
				return err
			}
			return a.print(rs, func(w io.Writer) { printRules(w, rs.Rules) })
		},
	}
}

func newEngineCmd(a *app) *cobra.Command {
	engineCmd := &cobra.Command{
		Use:   "engine",
		Short: "Start or stop interception",
	}
	for _, sub := range []struct {
		use, short, typ string
	}{
		{"start", "Grab the mice and apply rules", ipc.TypeEngineStart},
		{"stop", "Release the mice; input behaves natively", ipc.TypeEngineStop},
	} {
		typ := sub.typ
		engineCmd.AddCommand(&cobra.Command{
			Use:   sub.use,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var st ipc.Status
				if err := a.client().Call(cmd.Context(), typ, nil, &st); err != nil {
					return err
				}
				return a.print(st, func(w io.Writer) { printStatus(w, st) })
			},
		})
	}
	return engineCmd
}

func main() {
	a := &app{
		out:     os.Stdout,
		connect: func(socket string) caller { return ipc.NewClient(socket) },
	}
	if err := newRootCmd(a).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
