package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/esnunes/studio/internal/policy"
)

func newPolicyCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Query the repository path policy",
	}

	var opts policy.Options
	check := &cobra.Command{
		Use:   "check <path>...",
		Short: "Report whether agents may change the given repository paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			p, err := policy.NewRepoPolicy(
				policy.WithForbidden(cfg.Policy.Forbidden...),
				policy.WithAllowed(cfg.Policy.Allowed...),
				policy.WithLogger(newLogger(cfg.Log, cmd.ErrOrStderr())),
			)
			if err != nil {
				return err
			}
			return runPolicyCheck(cmd.OutOrStdout(), p, args, opts)
		},
	}
	check.Flags().BoolVar(&opts.AllowForbidden, "allow-forbidden", false, "override forbidden-path rules")
	check.Flags().BoolVar(&opts.AllowNonWhitelisted, "allow-non-whitelisted", false, "override the allowed-location whitelist")
	cmd.AddCommand(check)
	return cmd
}

var errPathsDenied = errors.New("one or more paths are denied")

func runPolicyCheck(w io.Writer, p *policy.RepoPolicy, paths []string, opts policy.Options) error {
	denied := false
	for _, raw := range paths {
		res := p.Check(raw, opts)
		switch {
		case !res.Allowed:
			denied = true
			fmt.Fprintf(w, "%s %s  %s: %s\n", color.RedString("deny "), displayPath(raw, res.Path), res.Reason, res.Message)
		case res.Override:
			fmt.Fprintf(w, "%s %s  (override)\n", color.YellowString("allow"), displayPath(raw, res.Path))
		default:
			fmt.Fprintf(w, "%s %s\n", color.GreenString("allow"), displayPath(raw, res.Path))
		}
	}
	if denied {
		return errPathsDenied
	}
	return nil
}

func displayPath(raw, normalized string) string {
	if normalized == "" || normalized == raw {
		return raw
	}
	return fmt.Sprintf("%s -> %s", raw, normalized)
}
