package types

import "time"

// ActionKind names a remediation action.
type ActionKind string

const (
	ActionDeletePod         ActionKind = "delete_pod"
	ActionRestartPod        ActionKind = "restart_pod"
	ActionRestartDeployment ActionKind = "restart_deployment"
	ActionScaleDown         ActionKind = "scale_down"
	ActionScaleUp           ActionKind = "scale_up"
	ActionRollback          ActionKind = "rollback"
)

// ActionKinds lists every kind the executor knows how to run.
var ActionKinds = []ActionKind{
	ActionDeletePod,
	ActionRestartPod,
	ActionRestartDeployment,
	ActionScaleDown,
	ActionScaleUp,
	ActionRollback,
}

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	for _, known := range ActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ActionSpec is a concrete remediation decision. Namespace is always set.
type ActionSpec struct {
	Kind           ActionKind        `json:"type"`
	Source         Source            `json:"source"`
	Rule           string            `json:"rule"`
	Priority       string            `json:"priority"`
	Namespace      string            `json:"namespace"`
	PodName        string            `json:"pod_name,omitempty"`
	ContainerName  string            `json:"container_name,omitempty"`
	DeploymentName string            `json:"deployment_name,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Status is the terminal outcome of handling an alert.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
	StatusNoAction Status = "no_action"
)

// Verbs reported in ActionResult.Action.
const (
	VerbDeleted    = "deleted"
	VerbRestarted  = "restarted"
	VerbScaledDown = "scaled_down"
	VerbScaledUp   = "scaled_up"
	VerbRolledBack = "rolled_back"
)

// ActionResult describes what the executor did (or why it did nothing).
type ActionResult struct {
	Status     Status      `json:"status"`
	Action     string      `json:"action,omitempty"`
	Kind       ActionKind  `json:"type,omitempty"`
	Namespace  string      `json:"namespace,omitempty"`
	Pod        string      `json:"pod,omitempty"`
	Deployment string      `json:"deployment,omitempty"`
	Replicas   *int32      `json:"replicas,omitempty"`
	Revision   int64       `json:"revision,omitempty"`
	Message    string      `json:"message,omitempty"`
	Spec       *ActionSpec `json:"spec,omitempty"`
}

// Incident is the record kept for every handled alert.
type Incident struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Event     AlertEvent   `json:"event"`
	Result    ActionResult `json:"result"`
	Duration  string       `json:"duration"`
}
