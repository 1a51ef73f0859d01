// Package cluster is the boundary between the remediation engine and the
// Kubernetes control plane: a narrow Client interface, its client-go
// implementation, and owner resolution from pods to deployments.
package cluster

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
)

// Annotation keys written or read on deployments.
const (
	RestartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"
	RevisionAnnotation    = "deployment.kubernetes.io/revision"
)

// TokenIdentity is the outcome of a TokenReview.
type TokenIdentity struct {
	Authenticated bool
	Username      string
	Groups        []string
}

// Client is everything the engine needs from the cluster. Missing resources
// are reported as *NotFoundError, every other failure as *TransportError.
type Client interface {
	GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error)
	DeletePod(ctx context.Context, namespace, name string, gracePeriodSeconds int64) error
	GetReplicaSet(ctx context.Context, namespace, name string) (*appsv1.ReplicaSet, error)
	GetDeployment(ctx context.Context, namespace, name string) (*appsv1.Deployment, error)
	ListDeployments(ctx context.Context, namespace, labelSelector string) ([]appsv1.Deployment, error)
	// PatchDeployment applies a JSON merge patch.
	PatchDeployment(ctx context.Context, namespace, name string, patch []byte) (*appsv1.Deployment, error)
	// RollbackDeployment reverts the deployment's pod template to the previous
	// revision and returns that revision number.
	RollbackDeployment(ctx context.Context, namespace, name string) (int64, error)
	ReviewToken(ctx context.Context, token string) (TokenIdentity, error)
}
