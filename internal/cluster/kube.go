package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	authenticationv1 "k8s.io/api/authentication/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8stypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
)

// ErrNoPreviousRevision is returned by RollbackDeployment when the deployment
// has no older ReplicaSet to go back to.
var ErrNoPreviousRevision = errors.New("no previous revision to roll back to")

// podTemplateHashLabel is added by the deployment controller to every
// ReplicaSet template and must not be copied back into the deployment.
const podTemplateHashLabel = "pod-template-hash"

// Kube implements Client on top of a client-go clientset.
type Kube struct {
	clientset kubernetes.Interface
}

// NewKube wraps clientset.
func NewKube(clientset kubernetes.Interface) *Kube {
	return &Kube{clientset: clientset}
}

func translate(err error, op, kind, namespace, name string) error {
	if err == nil {
		return nil
	}
	if apierrors.IsNotFound(err) {
		return &NotFoundError{Kind: kind, Namespace: namespace, Name: name}
	}
	return &TransportError{Op: fmt.Sprintf("%s %s %s/%s", op, kind, namespace, name), Err: err}
}

func (k *Kube) GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	pod, err := k.clientset.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, translate(err, "get", "pod", namespace, name)
	}
	return pod, nil
}

func (k *Kube) DeletePod(ctx context.Context, namespace, name string, gracePeriodSeconds int64) error {
	err := k.clientset.CoreV1().Pods(namespace).Delete(ctx, name, metav1.DeleteOptions{
		GracePeriodSeconds: &gracePeriodSeconds,
	})
	return translate(err, "delete", "pod", namespace, name)
}

func (k *Kube) GetReplicaSet(ctx context.Context, namespace, name string) (*appsv1.ReplicaSet, error) {
	rs, err := k.clientset.AppsV1().ReplicaSets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, translate(err, "get", "replicaset", namespace, name)
	}
	return rs, nil
}

func (k *Kube) GetDeployment(ctx context.Context, namespace, name string) (*appsv1.Deployment, error) {
	d, err := k.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, translate(err, "get", "deployment", namespace, name)
	}
	return d, nil
}

func (k *Kube) ListDeployments(ctx context.Context, namespace, labelSelector string) ([]appsv1.Deployment, error) {
	list, err := k.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, &TransportError{Op: fmt.Sprintf("list deployments %s (%s)", namespace, labelSelector), Err: err}
	}
	return list.Items, nil
}

func (k *Kube) PatchDeployment(ctx context.Context, namespace, name string, patch []byte) (*appsv1.Deployment, error) {
	return k.patchDeployment(ctx, namespace, name, k8stypes.MergePatchType, patch)
}

func (k *Kube) patchDeployment(ctx context.Context, namespace, name string, pt k8stypes.PatchType, patch []byte) (*appsv1.Deployment, error) {
	d, err := k.clientset.AppsV1().Deployments(namespace).Patch(ctx, name, pt, patch, metav1.PatchOptions{})
	if err != nil {
		return nil, translate(err, "patch", "deployment", namespace, name)
	}
	return d, nil
}

// RollbackDeployment follows `kubectl rollout undo`: find the owned
// ReplicaSet with the highest revision below the current one and replace the
// deployment's pod template with it.
func (k *Kube) RollbackDeployment(ctx context.Context, namespace, name string) (int64, error) {
	d, err := k.GetDeployment(ctx, namespace, name)
	if err != nil {
		return 0, err
	}
	selector, err := metav1.LabelSelectorAsSelector(d.Spec.Selector)
	if err != nil {
		return 0, fmt.Errorf("deployment %s/%s: invalid selector: %w", namespace, name, err)
	}
	list, err := k.clientset.AppsV1().ReplicaSets(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return 0, &TransportError{Op: fmt.Sprintf("list replicasets %s", namespace), Err: err}
	}

	var owned []*appsv1.ReplicaSet
	var newest int64
	for i := range list.Items {
		rs := &list.Items[i]
		if !ownedByDeployment(rs.OwnerReferences, name) {
			continue
		}
		owned = append(owned, rs)
		if rev := revisionOf(rs.Annotations); rev > newest {
			newest = rev
		}
	}

	// Without a revision annotation the newest owned ReplicaSet is live.
	current := revisionOf(d.Annotations)
	if current <= 0 {
		current = newest
	}

	var target *appsv1.ReplicaSet
	var targetRev int64
	for _, rs := range owned {
		rev := revisionOf(rs.Annotations)
		if rev <= 0 || rev >= current {
			continue
		}
		if rev > targetRev {
			target, targetRev = rs, rev
		}
	}
	if target == nil {
		return 0, fmt.Errorf("deployment %s/%s: %w", namespace, name, ErrNoPreviousRevision)
	}

	template := target.Spec.Template.DeepCopy()
	delete(template.Labels, podTemplateHashLabel)
	patch, err := json.Marshal([]map[string]interface{}{
		{"op": "replace", "path": "/spec/template", "value": template},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal rollback patch: %w", err)
	}
	if _, err := k.patchDeployment(ctx, namespace, name, k8stypes.JSONPatchType, patch); err != nil {
		return 0, err
	}
	return targetRev, nil
}

func (k *Kube) ReviewToken(ctx context.Context, token string) (TokenIdentity, error) {
	review, err := k.clientset.AuthenticationV1().TokenReviews().Create(ctx, &authenticationv1.TokenReview{
		Spec: authenticationv1.TokenReviewSpec{Token: token},
	}, metav1.CreateOptions{})
	if err != nil {
		return TokenIdentity{}, &TransportError{Op: "create tokenreview", Err: err}
	}
	return TokenIdentity{
		Authenticated: review.Status.Authenticated,
		Username:      review.Status.User.Username,
		Groups:        review.Status.User.Groups,
	}, nil
}

func revisionOf(annotations map[string]string) int64 {
	rev, err := strconv.ParseInt(annotations[RevisionAnnotation], 10, 64)
	if err != nil {
		return 0
	}
	return rev
}

func ownedByDeployment(refs []metav1.OwnerReference, name string) bool {
	for _, ref := range refs {
		if ref.Kind == "Deployment" && ref.Name == name {
			return true
		}
	}
	return false
}
