package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
)

// appLabelPrefix matches app.kubernetes.io/name and anything sharing its prefix.
const appLabelPrefix = "app.kubernetes.io/name"

// OwnerResolver maps a pod to the deployment that manages it.
type OwnerResolver struct {
	client Client
}

// NewOwnerResolver creates a resolver backed by client.
func NewOwnerResolver(client Client) *OwnerResolver {
	return &OwnerResolver{client: client}
}

// ResolveDeployment returns the name of the deployment owning the pod.
// The owner chain (pod -> ReplicaSet -> Deployment) is tried first; if the
// pod has no such chain its app labels are matched against deployments.
// A missing pod or an unresolvable pod yields a *NotFoundError.
func (r *OwnerResolver) ResolveDeployment(ctx context.Context, podName, namespace string) (string, error) {
	pod, err := r.client.GetPod(ctx, namespace, podName)
	if err != nil {
		return "", err
	}
	name, err := r.WalkOwnerChain(ctx, pod)
	if err == nil {
		return name, nil
	}
	if !IsNotFound(err) {
		return "", err
	}
	return r.MatchByLabels(ctx, pod)
}

// WalkOwnerChain follows the pod's first owner reference to a ReplicaSet and
// that ReplicaSet's first owner reference to a Deployment. Only first owners
// are considered.
func (r *OwnerResolver) WalkOwnerChain(ctx context.Context, pod *corev1.Pod) (string, error) {
	unresolved := &NotFoundError{Kind: "deployment", Namespace: pod.Namespace, Name: "owner of pod " + pod.Name}
	if len(pod.OwnerReferences) == 0 || pod.OwnerReferences[0].Kind != "ReplicaSet" {
		return "", unresolved
	}
	rs, err := r.client.GetReplicaSet(ctx, pod.Namespace, pod.OwnerReferences[0].Name)
	if err != nil {
		return "", err
	}
	if len(rs.OwnerReferences) == 0 || rs.OwnerReferences[0].Kind != "Deployment" || rs.OwnerReferences[0].Name == "" {
		return "", unresolved
	}
	return rs.OwnerReferences[0].Name, nil
}

// MatchByLabels looks at the pod's labels in key order and, for the first key
// that is "app" or starts with app.kubernetes.io/name, returns the first
// deployment in the namespace carrying that exact label.
func (r *OwnerResolver) MatchByLabels(ctx context.Context, pod *corev1.Pod) (string, error) {
	keys := make([]string, 0, len(pod.Labels))
	for k := range pod.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if k != "app" && !strings.HasPrefix(k, appLabelPrefix) {
			continue
		}
		selector := labels.SelectorFromSet(labels.Set{k: pod.Labels[k]}).String()
		deployments, err := r.client.ListDeployments(ctx, pod.Namespace, selector)
		if err != nil {
			return "", err
		}
		if len(deployments) > 0 {
			return deployments[0].Name, nil
		}
		return "", &NotFoundError{Kind: "deployment", Namespace: pod.Namespace, Name: fmt.Sprintf("matching %s", selector)}
	}
	return "", &NotFoundError{Kind: "deployment", Namespace: pod.Namespace, Name: "owner of pod " + pod.Name}
}
