// Package executor carries out remediation actions against the cluster and
// reports each outcome as a types.ActionResult. It never retries: a failed
// call is reported as StatusError and retry policy is left to the caller.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/autoheal-remediator/internal/cluster"
	"github.com/invisible-tech/autoheal-remediator/internal/types"
)

// Replica bounds for scale actions.
const (
	MinReplicas int32 = 1
	MaxReplicas int32 = 10
)

// Executor runs ActionSpecs against a cluster.Client.
type Executor struct {
	client   cluster.Client
	resolver *cluster.OwnerResolver
	log      *logrus.Logger
	now      func() time.Time
}

// New creates an executor.
func New(client cluster.Client, log *logrus.Logger) *Executor {
	return &Executor{
		client:   client,
		resolver: cluster.NewOwnerResolver(client),
		log:      log,
		now:      time.Now,
	}
}

// Execute runs spec and returns its result.
func (e *Executor) Execute(ctx context.Context, spec types.ActionSpec) types.ActionResult {
	e.log.WithFields(logrus.Fields{
		"type": spec.Kind, "namespace": spec.Namespace,
		"pod": spec.PodName, "deployment": spec.DeploymentName,
	}).Info("Executing remediation action")

	switch spec.Kind {
	case types.ActionDeletePod, types.ActionRestartPod:
		return e.deletePod(ctx, spec)
	case types.ActionRestartDeployment:
		return e.withDeployment(ctx, spec, e.restartDeployment)
	case types.ActionScaleDown:
		return e.withDeployment(ctx, spec, func(ctx context.Context, spec types.ActionSpec, name string) types.ActionResult {
			return e.scale(ctx, spec, name, -1)
		})
	case types.ActionScaleUp:
		return e.withDeployment(ctx, spec, func(ctx context.Context, spec types.ActionSpec, name string) types.ActionResult {
			return e.scale(ctx, spec, name, +1)
		})
	case types.ActionRollback:
		return e.withDeployment(ctx, spec, e.rollback)
	default:
		e.log.WithField("type", spec.Kind).Warn("Unknown action type")
		return errorResult(spec, fmt.Errorf("unknown action type: %q", spec.Kind))
	}
}

func (e *Executor) deletePod(ctx context.Context, spec types.ActionSpec) types.ActionResult {
	if spec.PodName == "" {
		return errorResult(spec, fmt.Errorf("pod name not provided"))
	}
	err := e.client.DeletePod(ctx, spec.Namespace, spec.PodName, 0)
	switch {
	case cluster.IsNotFound(err):
		e.log.WithFields(logrus.Fields{"pod": spec.PodName, "namespace": spec.Namespace}).Warn("Pod already gone")
		return types.ActionResult{Status: types.StatusNotFound, Kind: spec.Kind, Namespace: spec.Namespace, Pod: spec.PodName, Message: err.Error()}
	case err != nil:
		return errorResult(spec, err)
	}
	e.log.WithFields(logrus.Fields{"pod": spec.PodName, "namespace": spec.Namespace}).Info("Deleted pod")
	return types.ActionResult{Status: types.StatusSuccess, Action: types.VerbDeleted, Kind: spec.Kind, Namespace: spec.Namespace, Pod: spec.PodName}
}

type deploymentAction func(ctx context.Context, spec types.ActionSpec, deployment string) types.ActionResult

// withDeployment runs fn on the named deployment, resolving it from the pod
// when no name is given.
func (e *Executor) withDeployment(ctx context.Context, spec types.ActionSpec, fn deploymentAction) types.ActionResult {
	name := spec.DeploymentName
	if name == "" && spec.PodName != "" {
		resolved, err := e.resolver.ResolveDeployment(ctx, spec.PodName, spec.Namespace)
		if err != nil {
			return errorResult(spec, fmt.Errorf("deployment name not found for pod %s/%s: %w", spec.Namespace, spec.PodName, err))
		}
		e.log.WithFields(logrus.Fields{"pod": spec.PodName, "deployment": resolved, "namespace": spec.Namespace}).Debug("Resolved deployment from pod")
		name = resolved
	}
	if name == "" {
		return errorResult(spec, fmt.Errorf("deployment name not found"))
	}
	return fn(ctx, spec, name)
}

func (e *Executor) restartDeployment(ctx context.Context, spec types.ActionSpec, name string) types.ActionResult {
	if _, err := e.client.GetDeployment(ctx, spec.Namespace, name); err != nil {
		return e.deploymentFailure(spec, name, err)
	}
	patch, err := json.Marshal(map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{
					"annotations": map[string]string{
						cluster.RestartedAtAnnotation: e.now().UTC().Format(time.RFC3339),
					},
				},
			},
		},
	})
	if err != nil {
		return errorResult(spec, err)
	}
	if _, err := e.client.PatchDeployment(ctx, spec.Namespace, name, patch); err != nil {
		return e.deploymentFailure(spec, name, err)
	}
	e.log.WithFields(logrus.Fields{"deployment": name, "namespace": spec.Namespace}).Info("Restarted deployment")
	return types.ActionResult{Status: types.StatusSuccess, Action: types.VerbRestarted, Kind: spec.Kind, Namespace: spec.Namespace, Deployment: name}
}

func (e *Executor) scale(ctx context.Context, spec types.ActionSpec, name string, delta int32) types.ActionResult {
	d, err := e.client.GetDeployment(ctx, spec.Namespace, name)
	if err != nil {
		return e.deploymentFailure(spec, name, err)
	}
	// Only an unset count defaults to 1; an explicit 0 is scaled from 0.
	current := int32(1)
	if d.Spec.Replicas != nil {
		current = *d.Spec.Replicas
	}
	replicas := NextReplicas(current, delta)

	patch, err := json.Marshal(map[string]interface{}{
		"spec": map[string]interface{}{"replicas": replicas},
	})
	if err != nil {
		return errorResult(spec, err)
	}
	if _, err := e.client.PatchDeployment(ctx, spec.Namespace, name, patch); err != nil {
		return e.deploymentFailure(spec, name, err)
	}

	verb := types.VerbScaledUp
	if delta < 0 {
		verb = types.VerbScaledDown
	}
	e.log.WithFields(logrus.Fields{
		"deployment": name, "namespace": spec.Namespace, "from": current, "to": replicas,
	}).Info("Scaled deployment")
	return types.ActionResult{Status: types.StatusSuccess, Action: verb, Kind: spec.Kind, Namespace: spec.Namespace, Deployment: name, Replicas: &replicas}
}

func (e *Executor) rollback(ctx context.Context, spec types.ActionSpec, name string) types.ActionResult {
	revision, err := e.client.RollbackDeployment(ctx, spec.Namespace, name)
	if err != nil {
		return e.deploymentFailure(spec, name, err)
	}
	e.log.WithFields(logrus.Fields{"deployment": name, "namespace": spec.Namespace, "revision": revision}).Info("Rolled back deployment")
	return types.ActionResult{Status: types.StatusSuccess, Action: types.VerbRolledBack, Kind: spec.Kind, Namespace: spec.Namespace, Deployment: name, Revision: revision}
}

func (e *Executor) deploymentFailure(spec types.ActionSpec, name string, err error) types.ActionResult {
	if cluster.IsNotFound(err) {
		e.log.WithFields(logrus.Fields{"deployment": name, "namespace": spec.Namespace}).Warn("Deployment not found")
		return types.ActionResult{Status: types.StatusNotFound, Kind: spec.Kind, Namespace: spec.Namespace, Deployment: name, Message: err.Error()}
	}
	r := errorResult(spec, err)
	r.Deployment = name
	return r
}

// NextReplicas returns the replica count after one scale step. Scaling down
// never goes below MinReplicas and scaling up never above MaxReplicas; the
// other bound is not applied, so an oversized deployment still shrinks by one.
func NextReplicas(current, delta int32) int32 {
	if delta < 0 {
		if n := current + delta; n > MinReplicas {
			return n
		}
		return MinReplicas
	}
	if n := current + delta; n < MaxReplicas {
		return n
	}
	return MaxReplicas
}

func errorResult(spec types.ActionSpec, err error) types.ActionResult {
	return types.ActionResult{
		Status:     types.StatusError,
		Kind:       spec.Kind,
		Namespace:  spec.Namespace,
		Pod:        spec.PodName,
		Deployment: spec.DeploymentName,
		Message:    err.Error(),
	}
}
