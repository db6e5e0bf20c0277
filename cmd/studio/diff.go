package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/esnunes/studio/internal/changes"
	"github.com/esnunes/studio/internal/models"
)

func newDiffCmd() *cobra.Command {
	var beforeFile, afterFile, path string

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Render a proposed change the way previews show it",
		Long: "Builds a change from local files and prints its summary and unified diff.\n" +
			"Omit --before for a create and --after for a delete.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := changeFromFiles(path, beforeFile, afterFile)
			if err != nil {
				return err
			}
			if err := changes.ValidateChange(c); err != nil {
				return err
			}
			cs := []models.FileChange{c}
			writeColoredReport(cmd.OutOrStdout(), changes.Report(changes.UnifiedDiffs(cs), changes.CalculateStats(cs)))
			return nil
		},
	}
	cmd.Flags().StringVar(&beforeFile, "before", "", "file with the current content")
	cmd.Flags().StringVar(&afterFile, "after", "", "file with the proposed content")
	cmd.Flags().StringVar(&path, "path", "", "repository path shown in the diff (default: the after or before file name)")
	return cmd
}

func changeFromFiles(path, beforeFile, afterFile string) (models.FileChange, error) {
	c := models.FileChange{Path: path}
	switch {
	case beforeFile == "" && afterFile == "":
		return c, errors.New("at least one of --before or --after is required")
	case beforeFile == "":
		c.Action = models.ActionCreate
	case afterFile == "":
		c.Action = models.ActionDelete
	default:
		c.Action = models.ActionUpdate
	}
	if beforeFile != "" {
		data, err := os.ReadFile(beforeFile)
		if err != nil {
			return c, fmt.Errorf("reading before file: %w", err)
		}
		s := string(data)
		c.Before = &s
	}
	if afterFile != "" {
		data, err := os.ReadFile(afterFile)
		if err != nil {
			return c, fmt.Errorf("reading after file: %w", err)
		}
		s := string(data)
		c.After = &s
	}
	if c.Path == "" {
		c.Path = afterFile
		if c.Path == "" {
			c.Path = beforeFile
		}
		c.Path = strings.TrimLeft(c.Path, "/")
	}
	return c, nil
}

func writeColoredReport(w io.Writer, report string) {
	for _, line := range strings.SplitAfter(report, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			io.WriteString(w, color.New(color.Bold).Sprint(line))
		case strings.HasPrefix(line, "@@"):
			io.WriteString(w, color.CyanString("%s", line))
		case strings.HasPrefix(line, "+"):
			io.WriteString(w, color.GreenString("%s", line))
		case strings.HasPrefix(line, "-"):
			io.WriteString(w, color.RedString("%s", line))
		default:
			io.WriteString(w, line)
		}
	}
}
