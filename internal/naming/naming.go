// Package naming maps processing block ids to the ids of the deployments
// the controller creates for them, and back.
//
// Processing block ids have the form pb-<originator>-<date>-<sequence>, but
// shorter ids such as pb-x-1 are accepted wherever the deployment id carries
// the workflow suffix.
package naming

import (
	"regexp"
)

const (
	deploymentPrefix = "proc-"
	workflowSuffix   = "-workflow"
)

var (
	// workflowDeployment matches the deployment created for a processing
	// block's workflow. The suffix anchors the match, so the processing block
	// id may contain any number of hyphen separated segments.
	workflowDeployment = regexp.MustCompile(`^proc-(?P<pb_id>pb-[0-9a-zA-Z-]+?)-workflow$`)

	// processingDeployment matches any other processing deployment belonging
	// to a processing block. Without a fixed suffix, the id must have the
	// full pb-<originator>-<date>-<sequence> shape to be recognised.
	processingDeployment = regexp.MustCompile(`^proc-(?P<pb_id>pb-[0-9a-zA-Z]+-[0-9]{8}-[0-9]+)(?:-.+)?$`)
)

// DeploymentID returns the id of the workflow deployment for pbID.
func DeploymentID(pbID string) string {
	return deploymentPrefix + pbID + workflowSuffix
}

// MatchDeployment returns the processing block id owning deployID. The
// second result is false for deployments that do not follow the naming
// convention; those belong to someone else and must be left alone.
func MatchDeployment(deployID string) (string, bool) {
	if m := workflowDeployment.FindStringSubmatch(deployID); m != nil {
		return m[workflowDeployment.SubexpIndex("pb_id")], true
	}
	if m := processingDeployment.FindStringSubmatch(deployID); m != nil {
		return m[processingDeployment.SubexpIndex("pb_id")], true
	}
	return "", false
}

// IsWorkflowDeployment reports whether deployID is the workflow deployment
// of some processing block.
func IsWorkflowDeployment(deployID string) bool {
	return workflowDeployment.MatchString(deployID)
}

// Reversible reports whether the workflow deployment of pbID matches back
// to pbID. A block with any other id must not be launched: its deployment
// would never be recognised as orphaned.
func Reversible(pbID string) bool {
	owner, ok := MatchDeployment(DeploymentID(pbID))
	return ok && owner == pbID
}
