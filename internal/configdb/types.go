package configdb

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle status of a processing block.
type Status string

const (
	// StatusStarting is set by the controller when the workflow deployment is created.
	StatusStarting Status = "STARTING"

	// StatusWaiting is set by the workflow while it waits for its resources.
	StatusWaiting Status = "WAITING"

	// StatusRunning is set by the workflow once it is executing.
	StatusRunning Status = "RUNNING"

	// StatusFinished is set by the workflow on successful completion.
	StatusFinished Status = "FINISHED"

	// StatusFailed is terminal; the reason field carries a diagnostic.
	StatusFailed Status = "FAILED"
)

// WorkflowRef identifies the workflow a processing block wants to run.
type WorkflowRef struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Version string `json:"version"`
}

// String renders the reference the way it appears in log lines and reasons.
func (w WorkflowRef) String() string {
	return fmt.Sprintf("%s workflow %s, version %s", w.Type, w.ID, w.Version)
}

// Dependency references another processing block.
type Dependency struct {
	PBID string   `json:"pb_id"`
	Kind []string `json:"kind,omitempty"`
}

// ProcessingBlock is a unit of requested work. It is immutable once created.
type ProcessingBlock struct {
	ID           string                 `json:"id"`
	SBIID        string                 `json:"sbi_id,omitempty"`
	Workflow     WorkflowRef            `json:"workflow"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	Dependencies []Dependency           `json:"dependencies,omitempty"`
}

// DependencyIDs returns the ids of the blocks this block depends on, in order.
func (pb *ProcessingBlock) DependencyIDs() []string {
	ids := make([]string, 0, len(pb.Dependencies))
	for _, dep := range pb.Dependencies {
		ids = append(ids, dep.PBID)
	}
	return ids
}

// ProcessingBlockState is the mutable state kept alongside a processing block.
//
// Entities other than the controller (the workflow itself, for instance)
// write their own fields into the same document. Fields not modelled here
// are kept in Extra and written back unchanged on update.
type ProcessingBlockState struct {
	Status             Status
	ResourcesAvailable bool
	Reason             string
	Extra              map[string]json.RawMessage
}

var stateKnownFields = []string{"status", "resources_available", "reason"}

// MarshalJSON writes the known fields over the preserved extra fields.
func (s ProcessingBlockState) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(s.Extra)+3)
	for k, v := range s.Extra {
		out[k] = v
	}
	out["status"] = s.Status
	out["resources_available"] = s.ResourcesAvailable
	if s.Reason != "" {
		out["reason"] = s.Reason
	} else {
		delete(out, "reason")
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the known fields and keeps everything else in Extra.
func (s *ProcessingBlockState) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var decoded ProcessingBlockState
	if v, ok := raw["status"]; ok {
		if err := json.Unmarshal(v, &decoded.Status); err != nil {
			return fmt.Errorf("status: %w", err)
		}
	}
	if v, ok := raw["resources_available"]; ok {
		if err := json.Unmarshal(v, &decoded.ResourcesAvailable); err != nil {
			return fmt.Errorf("resources_available: %w", err)
		}
	}
	if v, ok := raw["reason"]; ok {
		if err := json.Unmarshal(v, &decoded.Reason); err != nil {
			return fmt.Errorf("reason: %w", err)
		}
	}

	for _, k := range stateKnownFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		decoded.Extra = raw
	}

	*s = decoded
	return nil
}

// DeploymentKind names the deployment collaborator that handles a deployment.
type DeploymentKind string

// DeploymentKindHelm deployments are installed from a Helm chart.
const DeploymentKindHelm DeploymentKind = "helm"

// DeploymentArgs is handed to the deployment collaborator:
// a chart name and a flat map of chart settings.
type DeploymentArgs struct {
	Chart  string            `json:"chart"`
	Values map[string]string `json:"values,omitempty"`
}

// Deployment is a record asking the deployment collaborator to run a workload.
type Deployment struct {
	ID   string         `json:"id"`
	Kind DeploymentKind `json:"kind"`
	Args DeploymentArgs `json:"args"`
}
