package formatting

import (
	"io"
)

// JSONFormatter provides structured JSON output formatting
type JSONFormatter struct {
	options Options
	out     io.Writer
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(options Options, out io.Writer) Formatter {
	return &JSONFormatter{
		options: options,
		out:     out,
	}
}

// FormatStatus formats the status report as JSON
func (f *JSONFormatter) FormatStatus(report StatusReport) error {
	if report.ProcessingBlocks == nil {
		report.ProcessingBlocks = []BlockStatus{}
	}
	if report.Deployments == nil {
		report.Deployments = []DeploymentStatus{}
	}
	return f.FormatData(report)
}

// FormatWorkflows formats the workflow report as JSON
func (f *JSONFormatter) FormatWorkflows(report WorkflowReport) error {
	if report.Workflows == nil {
		report.Workflows = []WorkflowEntry{}
	}
	return f.FormatData(report)
}

// FormatData formats generic data as JSON
func (f *JSONFormatter) FormatData(data interface{}) error {
	return writeJSON(f.out, data)
}
