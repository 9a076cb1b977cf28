package formatting

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

var testReport = StatusReport{
	ProcessingBlocks: []BlockStatus{
		{ID: "pb-x-1", Workflow: "batch workflow w1, version 1.0", Status: "STARTING", Deployment: "proc-pb-x-1-workflow"},
		{ID: "pb-y-1", Workflow: "batch workflow nope, version 1.0", Status: "FAILED", Reason: "No image for batch workflow nope, version 1.0: unknown workflow \"nope\""},
		{ID: "pb-z-1", Workflow: "realtime workflow r, version 2", Dependencies: []string{"pb-x-1"}},
	},
	Deployments: []DeploymentStatus{
		{ID: "proc-pb-x-1-workflow", Kind: "helm", ProcessingBlock: "pb-x-1", Image: "img:1.0"},
		{ID: "proc-pb-gone-1-workflow", Kind: "helm", ProcessingBlock: "pb-gone-1", Orphaned: true},
	},
}

func TestParseFormat(t *testing.T) {
	for _, f := range Formats {
		got, err := ParseFormat(string(f))
		assert.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := ParseFormat("console")
	assert.Error(t, err)
}

func TestTableFormatter_FormatStatus(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(Options{Format: FormatTable}, &buf).FormatStatus(testReport))

	out := buf.String()
	for _, want := range []string{"PROCESSING BLOCK", "pb-x-1", "STARTING", "proc-pb-x-1-workflow", "img:1.0", "pb-gone-1 (gone)", "unknown workflow", "Total:"} {
		assert.Contains(t, out, want)
	}
}

func TestTableFormatter_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(Options{Format: FormatTable, Quiet: true}, &buf).FormatStatus(StatusReport{}))
	assert.Contains(t, buf.String(), "No processing blocks found")
	assert.Contains(t, buf.String(), "No deployments found")
	assert.NotContains(t, buf.String(), "Total:")
}

func TestTableFormatter_FormatWorkflows(t *testing.T) {
	var buf bytes.Buffer
	err := New(Options{}, &buf).FormatWorkflows(WorkflowReport{
		Source:    "workflows.json",
		Version:   `{"date-time":"2020-05-01"}`,
		Workflows: []WorkflowEntry{{Category: "batch", ID: "w1", Version: "1.0", Image: "img:1.0"}},
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "workflows.json")
	assert.Contains(t, buf.String(), "img:1.0")
}

func TestJSONFormatter_FormatStatus(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(Options{Format: FormatJSON}, &buf).FormatStatus(testReport))

	var decoded StatusReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, testReport, decoded)

	buf.Reset()
	require.NoError(t, New(Options{Format: FormatJSON}, &buf).FormatStatus(StatusReport{}))
	assert.JSONEq(t, `{"processingBlocks": [], "deployments": []}`, buf.String())
}

func TestYAMLFormatter_FormatStatus(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(Options{Format: FormatYAML}, &buf).FormatStatus(testReport))
	assert.True(t, strings.HasPrefix(buf.String(), "deployments:"), "keys follow the json tags, sorted")

	var decoded StatusReport
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, testReport, decoded)
}

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected string
	}{
		{
			name:     "simple object",
			input:    map[string]interface{}{"name": "test", "value": 42},
			expected: "{\n  \"name\": \"test\",\n  \"value\": 42\n}\n",
		},
		{
			name:     "nil",
			input:    nil,
			expected: "null\n",
		},
		{
			name:     "html is not escaped",
			input:    map[string]string{"reason": "<none> & more"},
			expected: "{\n  \"reason\": \"<none> & more\"\n}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeJSON(&buf, tt.input))
			assert.Equal(t, tt.expected, buf.String())
		})
	}

	assert.Error(t, writeJSON(io.Discard, make(chan int)))
}
