package rules

import (
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/autoheal-remediator/internal/types"
)

// Metadata keys read by the decider, in precedence order.
var (
	namespaceKeys  = []string{"k8s.ns.name", "namespace"}
	podKeys        = []string{"k8s.pod.name", "pod"}
	containerKeys  = []string{"k8s.container.name", "container"}
	deploymentKeys = []string{"k8s.deployment.name", "deployment"}
)

// DefaultNamespace is used when an alert carries no namespace.
const DefaultNamespace = "default"

// Decider turns alert events into action specs using the active rule table.
type Decider struct {
	store *Store
	log   *logrus.Logger
}

// NewDecider creates a decider reading rules from store.
func NewDecider(store *Store, log *logrus.Logger) *Decider {
	return &Decider{store: store, log: log}
}

// Decide returns the action for event, or ok=false when no rule applies or
// the priority is below the rule's threshold. It has no side effects.
func (d *Decider) Decide(event types.AlertEvent) (spec types.ActionSpec, ok bool) {
	entry, found := d.store.Table().Lookup(event.Source, event.Rule)
	if !found {
		d.log.WithFields(logrus.Fields{"source": event.Source, "rule": event.Rule}).Debug("No rule for event")
		return types.ActionSpec{}, false
	}
	if !Satisfies(event.Priority, entry.Threshold) {
		d.log.WithFields(logrus.Fields{
			"source": event.Source, "rule": event.Rule,
			"priority": event.Priority, "threshold": entry.Threshold,
		}).Debug("Priority below threshold")
		return types.ActionSpec{}, false
	}

	namespace := firstOf(event.Metadata, namespaceKeys)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return types.ActionSpec{
		Kind:           entry.Action,
		Source:         event.Source,
		Rule:           event.Rule,
		Priority:       event.Priority,
		Namespace:      namespace,
		PodName:        firstOf(event.Metadata, podKeys),
		ContainerName:  firstOf(event.Metadata, containerKeys),
		DeploymentName: firstOf(event.Metadata, deploymentKeys),
		Metadata:       copyMetadata(event.Metadata),
	}, true
}

func firstOf(metadata map[string]string, keys []string) string {
	for _, k := range keys {
		if v := metadata[k]; v != "" {
			return v
		}
	}
	return ""
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
