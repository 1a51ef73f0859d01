package executor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/invisible-tech/autoheal-remediator/internal/cluster"
	"github.com/invisible-tech/autoheal-remediator/internal/types"
)

func newTestExecutor(objects ...runtime.Object) (*Executor, *fake.Clientset) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	cs := fake.NewSimpleClientset(objects...)
	e := New(cluster.NewKube(cs), log)
	e.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	return e, cs
}

func deployment(namespace, name string, replicas *int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: map[string]string{"app": name}},
		Spec: appsv1.DeploymentSpec{
			Replicas: replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": name}},
			Template: corev1.PodTemplateSpec{ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": name}}},
		},
	}
}

func pod(namespace, name string, labels map[string]string, owners ...metav1.OwnerReference) *corev1.Pod {
	return &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: labels, OwnerReferences: owners}}
}

func replicas(n int32) *int32 { return &n }

func getDeployment(t *testing.T, cs *fake.Clientset, namespace, name string) *appsv1.Deployment {
	t.Helper()
	d, err := cs.AppsV1().Deployments(namespace).Get(context.Background(), name, metav1.GetOptions{})
	require.NoError(t, err)
	return d
}

func TestExecute_DeletePod(t *testing.T) {
	for _, kind := range []types.ActionKind{types.ActionDeletePod, types.ActionRestartPod} {
		t.Run(string(kind), func(t *testing.T) {
			e, cs := newTestExecutor(pod("ns1", "p1", nil))
			res := e.Execute(context.Background(), types.ActionSpec{Kind: kind, Namespace: "ns1", PodName: "p1"})

			assert.Equal(t, types.StatusSuccess, res.Status)
			assert.Equal(t, types.VerbDeleted, res.Action)
			assert.Equal(t, "p1", res.Pod)
			_, err := cs.CoreV1().Pods("ns1").Get(context.Background(), "p1", metav1.GetOptions{})
			assert.True(t, err != nil, "pod should be gone")
		})
	}
}

func TestExecute_DeleteMissingPodIsNotFound(t *testing.T) {
	e, _ := newTestExecutor()
	res := e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionDeletePod, Namespace: "ns1", PodName: "ghost"})
	assert.Equal(t, types.StatusNotFound, res.Status)
	assert.Equal(t, "ghost", res.Pod)
}

func TestExecute_DeletePodTwice(t *testing.T) {
	e, _ := newTestExecutor(pod("ns1", "p1", nil))
	spec := types.ActionSpec{Kind: types.ActionDeletePod, Namespace: "ns1", PodName: "p1"}
	assert.Equal(t, types.StatusSuccess, e.Execute(context.Background(), spec).Status)
	assert.Equal(t, types.StatusNotFound, e.Execute(context.Background(), spec).Status)
}

func TestExecute_DeletePodWithoutName(t *testing.T) {
	e, _ := newTestExecutor()
	res := e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionDeletePod, Namespace: "ns1"})
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Message, "pod name")
}

func TestExecute_DeletePodTransportError(t *testing.T) {
	e, cs := newTestExecutor(pod("ns1", "p1", nil))
	cs.PrependReactor("delete", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("apiserver unavailable")
	})
	res := e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionDeletePod, Namespace: "ns1", PodName: "p1"})
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Message, "apiserver unavailable")
	assert.Contains(t, res.Message, "ns1/p1")
}

func TestExecute_RestartDeployment(t *testing.T) {
	e, cs := newTestExecutor(deployment("ns1", "web", replicas(2)))
	res := e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionRestartDeployment, Namespace: "ns1", DeploymentName: "web"})

	require.Equal(t, types.StatusSuccess, res.Status, res.Message)
	assert.Equal(t, types.VerbRestarted, res.Action)
	assert.Equal(t, "web", res.Deployment)
	d := getDeployment(t, cs, "ns1", "web")
	assert.Equal(t, "2026-10-19T12:00:00Z", d.Spec.Template.Annotations[cluster.RestartedAtAnnotation])
	assert.Equal(t, "web", d.Spec.Template.Labels["app"], "patch must not clobber template labels")

	again := e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionRestartDeployment, Namespace: "ns1", DeploymentName: "web"})
	assert.Equal(t, types.StatusSuccess, again.Status)
}

func TestExecute_RestartDeploymentResolvesFromPod(t *testing.T) {
	e, cs := newTestExecutor(
		deployment("ns1", "web", nil),
		pod("ns1", "web-abc-1", nil, metav1.OwnerReference{Kind: "ReplicaSet", Name: "web-abc"}),
		&appsv1.ReplicaSet{ObjectMeta: metav1.ObjectMeta{
			Name: "web-abc", Namespace: "ns1",
			OwnerReferences: []metav1.OwnerReference{{Kind: "Deployment", Name: "web"}},
		}},
	)
	res := e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionRestartDeployment, Namespace: "ns1", PodName: "web-abc-1"})
	require.Equal(t, types.StatusSuccess, res.Status, res.Message)
	assert.Equal(t, "web", res.Deployment)
	assert.NotEmpty(t, getDeployment(t, cs, "ns1", "web").Spec.Template.Annotations[cluster.RestartedAtAnnotation])
}

func TestExecute_RestartDeploymentUnresolvable(t *testing.T) {
	e, _ := newTestExecutor(pod("ns1", "bare", nil))
	res := e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionRestartDeployment, Namespace: "ns1", PodName: "bare"})
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Message, "deployment name not found")

	res = e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionRestartDeployment, Namespace: "ns1"})
	assert.Equal(t, types.StatusError, res.Status)
}

func TestExecute_RestartMissingDeployment(t *testing.T) {
	e, _ := newTestExecutor()
	res := e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionRestartDeployment, Namespace: "ns1", DeploymentName: "gone"})
	assert.Equal(t, types.StatusNotFound, res.Status)
	assert.Equal(t, "gone", res.Deployment)
}

func TestExecute_Scale(t *testing.T) {
	tests := []struct {
		name    string
		kind    types.ActionKind
		current *int32
		want    int32
		verb    string
	}{
		{"down from 3", types.ActionScaleDown, replicas(3), 2, types.VerbScaledDown},
		{"down at floor", types.ActionScaleDown, replicas(1), 1, types.VerbScaledDown},
		{"down unset", types.ActionScaleDown, nil, 1, types.VerbScaledDown},
		{"down above ceiling", types.ActionScaleDown, replicas(15), 14, types.VerbScaledDown},
		{"up from 3", types.ActionScaleUp, replicas(3), 4, types.VerbScaledUp},
		{"up at ceiling", types.ActionScaleUp, replicas(10), 10, types.VerbScaledUp},
		{"up unset", types.ActionScaleUp, nil, 2, types.VerbScaledUp},
		{"up from explicit zero", types.ActionScaleUp, replicas(0), 1, types.VerbScaledUp},
		{"down from explicit zero", types.ActionScaleDown, replicas(0), 1, types.VerbScaledDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, cs := newTestExecutor(deployment("ns1", "d1", tt.current))
			res := e.Execute(context.Background(), types.ActionSpec{Kind: tt.kind, Namespace: "ns1", DeploymentName: "d1"})
			require.Equal(t, types.StatusSuccess, res.Status, res.Message)
			assert.Equal(t, tt.verb, res.Action)
			require.NotNil(t, res.Replicas)
			assert.Equal(t, tt.want, *res.Replicas)
			assert.Equal(t, tt.want, *getDeployment(t, cs, "ns1", "d1").Spec.Replicas)
		})
	}
}

func TestExecute_ScaleRoundTrip(t *testing.T) {
	for n := int32(1); n <= 10; n++ {
		e, cs := newTestExecutor(deployment("ns1", "d1", replicas(n)))
		e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionScaleDown, Namespace: "ns1", DeploymentName: "d1"})
		e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionScaleUp, Namespace: "ns1", DeploymentName: "d1"})
		got := *getDeployment(t, cs, "ns1", "d1").Spec.Replicas
		want := n
		if n == 1 {
			want = 2
		}
		assert.Equal(t, want, got, "down then up from %d", n)
	}
}

func TestNextReplicas_Bounds(t *testing.T) {
	for n := int32(1); n <= 10; n++ {
		down := NextReplicas(n, -1)
		up := NextReplicas(n, +1)
		assert.GreaterOrEqual(t, down, MinReplicas)
		assert.LessOrEqual(t, up, MaxReplicas)
		if n > MinReplicas {
			assert.Equal(t, n, NextReplicas(down, +1))
		}
		if n < MaxReplicas {
			assert.Equal(t, n, NextReplicas(up, -1))
		}
	}
	assert.Equal(t, MinReplicas, NextReplicas(1, -1))
	assert.Equal(t, MaxReplicas, NextReplicas(10, +1))
}

func TestExecute_ScaleMissingDeployment(t *testing.T) {
	e, _ := newTestExecutor()
	res := e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionScaleDown, Namespace: "ns1", DeploymentName: "d1"})
	assert.Equal(t, types.StatusNotFound, res.Status)
}

func TestExecute_ScaleWithoutTarget(t *testing.T) {
	e, _ := newTestExecutor()
	res := e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionScaleUp, Namespace: "ns1"})
	assert.Equal(t, types.StatusError, res.Status)
}

func TestExecute_ScalePatchFailure(t *testing.T) {
	e, cs := newTestExecutor(deployment("ns1", "d1", replicas(3)))
	cs.PrependReactor("patch", "deployments", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("conflict storm")
	})
	res := e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionScaleDown, Namespace: "ns1", DeploymentName: "d1"})
	assert.Equal(t, types.StatusError, res.Status)
	assert.Equal(t, "d1", res.Deployment)
	assert.Contains(t, res.Message, "conflict storm")
}

func TestExecute_Rollback(t *testing.T) {
	d := deployment("ns1", "web", replicas(1))
	d.Annotations = map[string]string{cluster.RevisionAnnotation: "2"}
	old := &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name: "web-1", Namespace: "ns1", Labels: map[string]string{"app": "web"},
			Annotations:     map[string]string{cluster.RevisionAnnotation: "1"},
			OwnerReferences: []metav1.OwnerReference{{Kind: "Deployment", Name: "web"}},
		},
		Spec: appsv1.ReplicaSetSpec{Template: corev1.PodTemplateSpec{
			ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": "web"}},
			Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "web", Image: "web:1"}}},
		}},
	}
	e, cs := newTestExecutor(d, old)
	res := e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionRollback, Namespace: "ns1", DeploymentName: "web"})
	require.Equal(t, types.StatusSuccess, res.Status, res.Message)
	assert.Equal(t, types.VerbRolledBack, res.Action)
	assert.Equal(t, int64(1), res.Revision)
	assert.Equal(t, "web:1", getDeployment(t, cs, "ns1", "web").Spec.Template.Spec.Containers[0].Image)
}

func TestExecute_RollbackMissing(t *testing.T) {
	e, _ := newTestExecutor()
	res := e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionRollback, Namespace: "ns1", DeploymentName: "web"})
	assert.Equal(t, types.StatusNotFound, res.Status)
}

func TestExecute_RollbackNoHistory(t *testing.T) {
	e, _ := newTestExecutor(deployment("ns1", "web", nil))
	res := e.Execute(context.Background(), types.ActionSpec{Kind: types.ActionRollback, Namespace: "ns1", DeploymentName: "web"})
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Message, "no previous revision")
}

func TestExecute_UnknownKind(t *testing.T) {
	e, cs := newTestExecutor()
	res := e.Execute(context.Background(), types.ActionSpec{Kind: "drain_node", Namespace: "ns1"})
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Message, "drain_node")
	assert.Empty(t, cs.Actions())
}
