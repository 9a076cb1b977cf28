package formatting

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// TableFormatter provides rich table output formatting
type TableFormatter struct {
	options Options
	out     io.Writer
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(options Options, out io.Writer) Formatter {
	return &TableFormatter{
		options: options,
		out:     out,
	}
}

// FormatStatus prints processing blocks and then the deployments.
func (f *TableFormatter) FormatStatus(report StatusReport) error {
	if len(report.ProcessingBlocks) == 0 {
		f.formatEmptyMessage("📋", "No processing blocks found")
	} else {
		t := f.createTable()
		t.AppendHeader(f.header("PROCESSING BLOCK", "WORKFLOW", "STATUS", "RESOURCES", "DEPENDENCIES", "DEPLOYMENT"))
		for _, pb := range report.ProcessingBlocks {
			status := pb.Status
			if status == "" {
				status = "-"
			}
			resources := "no"
			if pb.ResourcesAvailable {
				resources = "yes"
			}
			t.AppendRow(table.Row{
				text.FgHiCyan.Sprint(pb.ID),
				pb.Workflow,
				colorStatus(status),
				resources,
				orDash(strings.Join(pb.Dependencies, ", ")),
				orDash(pb.Deployment),
			})
		}
		t.Render()

		for _, pb := range report.ProcessingBlocks {
			if pb.Reason != "" {
				fmt.Fprintf(f.out, "%s %s: %s\n", text.FgRed.Sprint("✗"), pb.ID, pb.Reason)
			}
		}
	}

	if len(report.Deployments) == 0 {
		f.formatEmptyMessage("📋", "No deployments found")
		return nil
	}

	t := f.createTable()
	t.AppendHeader(f.header("DEPLOYMENT", "KIND", "PROCESSING BLOCK", "IMAGE"))
	for _, d := range report.Deployments {
		owner := orDash(d.ProcessingBlock)
		if d.Orphaned {
			owner = text.FgYellow.Sprintf("%s (gone)", d.ProcessingBlock)
		}
		t.AppendRow(table.Row{text.FgHiCyan.Sprint(d.ID), orDash(d.Kind), owner, orDash(d.Image)})
	}
	t.Render()

	if !f.options.Quiet {
		fmt.Fprintf(f.out, "\n%s %s %s, %s %s\n",
			text.FgHiBlue.Sprint("Total:"),
			text.FgHiWhite.Sprint(len(report.ProcessingBlocks)),
			text.FgHiBlue.Sprint("processing blocks"),
			text.FgHiWhite.Sprint(len(report.Deployments)),
			text.FgHiBlue.Sprint("deployments"))
	}
	return nil
}

// FormatWorkflows prints the workflow definitions of a registry document.
func (f *TableFormatter) FormatWorkflows(report WorkflowReport) error {
	if !f.options.Quiet {
		fmt.Fprintf(f.out, "%s %s (version %s)\n", text.FgGreen.Sprint("✓"), report.Source, report.Version)
	}
	if len(report.Workflows) == 0 {
		f.formatEmptyMessage("📋", "No workflows defined")
		return nil
	}

	t := f.createTable()
	t.AppendHeader(f.header("TYPE", "WORKFLOW", "VERSION", "IMAGE"))
	for _, w := range report.Workflows {
		t.AppendRow(table.Row{w.Category, text.FgHiCyan.Sprint(w.ID), w.Version, w.Image})
	}
	t.Render()
	return nil
}

// FormatData formats generic data using table logic
func (f *TableFormatter) FormatData(data interface{}) error {
	switch d := data.(type) {
	case map[string]string:
		return f.formatObjectData(d)
	case string:
		fmt.Fprintln(f.out, d)
	default:
		fmt.Fprintf(f.out, "%v\n", d)
	}
	return nil
}

// Helper methods

// createTable creates a new table with standard styling
func (f *TableFormatter) createTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetStyle(table.StyleRounded)
	return t
}

func (f *TableFormatter) header(names ...string) table.Row {
	row := make(table.Row, 0, len(names))
	for _, name := range names {
		row = append(row, text.FgHiCyan.Sprint(name))
	}
	return row
}

// formatEmptyMessage formats empty result messages
func (f *TableFormatter) formatEmptyMessage(icon, message string) {
	fmt.Fprintf(f.out, "%s %s\n", text.FgYellow.Sprint(icon), text.FgYellow.Sprint(message))
}

// formatObjectData formats object data as key-value pairs
func (f *TableFormatter) formatObjectData(data map[string]string) error {
	t := f.createTable()
	t.AppendHeader(f.header("KEY", "VALUE"))
	t.SortBy([]table.SortBy{{Number: 1, Mode: table.Asc}})

	for key, value := range data {
		if len(value) > 100 {
			value = value[:97] + "..."
		}
		t.AppendRow(table.Row{text.FgHiCyan.Sprint(key), value})
	}

	t.Render()
	return nil
}

func colorStatus(status string) string {
	switch status {
	case "FAILED":
		return text.FgRed.Sprint(status)
	case "FINISHED":
		return text.FgGreen.Sprint(status)
	case "RUNNING":
		return text.FgHiGreen.Sprint(status)
	case "WAITING", "STARTING":
		return text.FgYellow.Sprint(status)
	default:
		return status
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
