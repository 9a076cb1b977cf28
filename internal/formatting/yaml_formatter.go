package formatting

import (
	"fmt"
	"io"

	"sigs.k8s.io/yaml"
)

// YAMLFormatter provides YAML output formatting
type YAMLFormatter struct {
	options Options
	out     io.Writer
}

// NewYAMLFormatter creates a new YAML formatter
func NewYAMLFormatter(options Options, out io.Writer) Formatter {
	return &YAMLFormatter{
		options: options,
		out:     out,
	}
}

// FormatStatus formats the status report as YAML
func (f *YAMLFormatter) FormatStatus(report StatusReport) error {
	return f.FormatData(report)
}

// FormatWorkflows formats the workflow report as YAML
func (f *YAMLFormatter) FormatWorkflows(report WorkflowReport) error {
	return f.FormatData(report)
}

// FormatData formats generic data as YAML. Field names follow the json tags.
func (f *YAMLFormatter) FormatData(data interface{}) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	_, err = f.out.Write(out)
	return err
}
