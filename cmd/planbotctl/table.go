/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"chainguard.dev/planbot/jobstore"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

var jobHeaders = []string{"ID", "Repo", "PR", "Command", "Status", "Outcome", "Age", "Duration", "Error"}

// maxErrorWidth truncates failure reasons so rows stay on one line.
const maxErrorWidth = 60

func newJobTable(w io.Writer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(jobHeaders),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{
				Left:   tw.On,
				Top:    tw.Off,
				Right:  tw.On,
				Bottom: tw.Off,
			},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

func renderJobs(w io.Writer, jobs []*jobstore.Job, now time.Time) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(w, "No jobs.")
		return err
	}
	table := newJobTable(w)
	for _, j := range jobs {
		if err := table.Append(jobRow(j, now)); err != nil {
			return err
		}
	}
	return table.Render()
}

func jobRow(j *jobstore.Job, now time.Time) []string {
	duration := "-"
	if j.StartedAt != nil {
		end := now
		if j.FinishedAt != nil {
			end = *j.FinishedAt
		}
		duration = end.Sub(*j.StartedAt).Round(time.Second).String()
	}
	outcome := string(j.OutcomeValue())
	if outcome == "" {
		outcome = "-"
	}
	return []string{
		fmt.Sprint(j.ID),
		j.Repo,
		fmt.Sprintf("#%d", j.PRNumber),
		j.Command.Token(),
		string(j.Status),
		outcome,
		now.Sub(j.CreatedAt).Round(time.Second).String(),
		duration,
		truncate(firstLine(j.ErrorMessage()), maxErrorWidth),
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
