// Package formatting renders controller state for the command line.
//
// The same report can be printed as a table for people or as JSON or YAML
// for scripts.
package formatting

import (
	"fmt"
	"io"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table" // Rich table output
	FormatJSON  OutputFormat = "json"  // JSON output
	FormatYAML  OutputFormat = "yaml"  // YAML output
)

// Formats lists the accepted values of --output.
var Formats = []OutputFormat{FormatTable, FormatJSON, FormatYAML}

// ParseFormat validates an --output value.
func ParseFormat(s string) (OutputFormat, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q (use table, json or yaml)", s)
}

// Options configures the formatter behavior
type Options struct {
	Format OutputFormat
	Quiet  bool // Suppress decorative elements
}

// BlockStatus is one processing block as seen in the config store.
type BlockStatus struct {
	ID                 string   `json:"id"`
	Workflow           string   `json:"workflow"`
	Status             string   `json:"status,omitempty"`
	ResourcesAvailable bool     `json:"resourcesAvailable"`
	Dependencies       []string `json:"dependencies,omitempty"`
	Deployment         string   `json:"deployment,omitempty"`
	Reason             string   `json:"reason,omitempty"`
}

// DeploymentStatus is one deployment record.
type DeploymentStatus struct {
	ID              string `json:"id"`
	Kind            string `json:"kind,omitempty"`
	ProcessingBlock string `json:"processingBlock,omitempty"`
	Image           string `json:"image,omitempty"`
	// Orphaned is set when the owning processing block no longer exists.
	Orphaned bool `json:"orphaned,omitempty"`
}

// StatusReport is the output of the status command.
type StatusReport struct {
	ProcessingBlocks []BlockStatus      `json:"processingBlocks"`
	Deployments      []DeploymentStatus `json:"deployments"`
}

// WorkflowEntry is one resolvable workflow version.
type WorkflowEntry struct {
	Category string `json:"category"`
	ID       string `json:"id"`
	Version  string `json:"version"`
	Image    string `json:"image"`
}

// WorkflowReport is the output of registry validate.
type WorkflowReport struct {
	Source    string          `json:"source"`
	Version   string          `json:"version"`
	Workflows []WorkflowEntry `json:"workflows"`
}

// Formatter renders reports to its writer.
type Formatter interface {
	FormatStatus(report StatusReport) error
	FormatWorkflows(report WorkflowReport) error
	FormatData(data interface{}) error
}

// New creates the formatter for options.Format writing to out
func New(options Options, out io.Writer) Formatter {
	switch options.Format {
	case FormatJSON:
		return NewJSONFormatter(options, out)
	case FormatYAML:
		return NewYAMLFormatter(options, out)
	case FormatTable:
		fallthrough
	default:
		return NewTableFormatter(options, out)
	}
}
