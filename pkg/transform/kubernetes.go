package transform

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/yaml"

	"github.com/kappal-app/agentstack/pkg/docker"
	"github.com/kappal-app/agentstack/pkg/stack"
	"github.com/kappal-app/agentstack/pkg/volumes"
)

// WorkspaceStorage is the size requested for a persisted directory mount.
const WorkspaceStorage = "1Gi"

// Manifest is one rendered Kubernetes object.
type Manifest struct {
	Kind    string
	Name    string
	Content []byte
}

// Combine joins manifests into one multi-document YAML stream.
func Combine(manifests []Manifest) []byte {
	var buf bytes.Buffer
	for i, m := range manifests {
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(m.Content)
	}
	return buf.Bytes()
}

// KubernetesManifests translates the plan to a namespace holding one
// Deployment and Service per service. Mounted files become Secrets, mounted
// directories become PersistentVolumeClaims, and the init flag becomes a
// shared process namespace so the pause container reaps orphans.
func (t *Transformer) KubernetesManifests() ([]Manifest, error) {
	namespace := sanitizeName(t.plan.Project)
	var objects []interface{}

	objects = append(objects, &corev1.Namespace{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Namespace"},
		ObjectMeta: metav1.ObjectMeta{Name: namespace, Labels: t.labels("")},
	})

	for _, svc := range t.plan.Services {
		name := sanitizeName(svc.Name)
		labels := t.labels(svc.Name)
		meta := metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: labels}

		podVolumes, mounts, extra, err := t.volumeObjects(namespace, svc)
		if err != nil {
			return nil, err
		}
		objects = append(objects, extra...)

		env := make([]corev1.EnvVar, 0, len(svc.Environment))
		keys := make([]string, 0, len(svc.Environment))
		for k := range svc.Environment {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, corev1.EnvVar{Name: k, Value: svc.Environment[k]})
		}

		replicas := int32(1)
		podSpec := corev1.PodSpec{
			Containers: []corev1.Container{{
				Name:  name,
				Image: svc.Image,
				Env:   env,
				Ports: []corev1.ContainerPort{{
					ContainerPort: int32(svc.Port.ContainerPort),
					Protocol:      corev1.ProtocolTCP,
				}},
				VolumeMounts: mounts,
			}},
			Volumes: podVolumes,
		}
		if svc.Init {
			share := true
			podSpec.ShareProcessNamespace = &share
		}

		objects = append(objects, &appsv1.Deployment{
			TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
			ObjectMeta: meta,
			Spec: appsv1.DeploymentSpec{
				Replicas: &replicas,
				Selector: &metav1.LabelSelector{MatchLabels: labels},
				// Workspace volumes are ReadWriteOnce.
				Strategy: appsv1.DeploymentStrategy{Type: appsv1.RecreateDeploymentStrategyType},
				Template: corev1.PodTemplateSpec{
					ObjectMeta: metav1.ObjectMeta{Labels: labels},
					Spec:       podSpec,
				},
			},
		})

		objects = append(objects, &corev1.Service{
			TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
			ObjectMeta: meta,
			Spec: corev1.ServiceSpec{
				Selector: labels,
				Ports: []corev1.ServicePort{{
					Name:       "http",
					Port:       int32(svc.Port.HostPort),
					TargetPort: intstr.FromInt(svc.Port.ContainerPort),
					Protocol:   corev1.ProtocolTCP,
				}},
			},
		})
	}

	manifests := make([]Manifest, 0, len(objects))
	for _, obj := range objects {
		content, err := yaml.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("failed to render manifest: %w", err)
		}
		kind, name := describe(obj)
		manifests = append(manifests, Manifest{Kind: kind, Name: name, Content: content})
	}
	return manifests, nil
}

// volumeObjects builds the pod volumes and mounts of svc along with the
// Secrets and claims backing them.
func (t *Transformer) volumeObjects(namespace string, svc stack.ServiceDescriptor) ([]corev1.Volume, []corev1.VolumeMount, []interface{}, error) {
	var (
		podVolumes []corev1.Volume
		mounts     []corev1.VolumeMount
		objects    []interface{}
	)
	for i, v := range svc.Volumes {
		volName := fmt.Sprintf("%s-vol-%d", sanitizeName(svc.Name), i)
		info, err := os.Stat(v.HostPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("service %s: %w", svc.Name, err)
		}

		if info.IsDir() {
			objects = append(objects, &corev1.PersistentVolumeClaim{
				TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "PersistentVolumeClaim"},
				ObjectMeta: metav1.ObjectMeta{Name: volName, Namespace: namespace, Labels: t.labels(svc.Name)},
				Spec: corev1.PersistentVolumeClaimSpec{
					AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
					Resources: corev1.VolumeResourceRequirements{
						Requests: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse(WorkspaceStorage)},
					},
				},
			})
			podVolumes = append(podVolumes, corev1.Volume{
				Name: volName,
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: volName},
				},
			})
			mounts = append(mounts, corev1.VolumeMount{Name: volName, MountPath: v.ContainerPath, ReadOnly: v.ReadOnly})
			continue
		}

		secret, key, err := t.fileSecret(namespace, volName, svc.Name, v)
		if err != nil {
			return nil, nil, nil, err
		}
		objects = append(objects, secret)
		podVolumes = append(podVolumes, corev1.Volume{
			Name: volName,
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{SecretName: volName},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{
			Name:      volName,
			MountPath: v.ContainerPath,
			SubPath:   key,
			ReadOnly:  true,
		})
	}
	return podVolumes, mounts, objects, nil
}

func (t *Transformer) fileSecret(namespace, name, service string, v volumes.Resolution) (*corev1.Secret, string, error) {
	content, err := os.ReadFile(v.HostPath)
	if err != nil {
		return nil, "", fmt.Errorf("service %s: failed to read %s: %w", service, v.HostPath, err)
	}
	key := path.Base(v.ContainerPath)
	return &corev1.Secret{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Secret"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: t.labels(service)},
		Type:       corev1.SecretTypeOpaque,
		Data:       map[string][]byte{key: content},
	}, key, nil
}

// labels are the agentstack labels of service with values valid for
// Kubernetes.
func (t *Transformer) labels(service string) map[string]string {
	labels := docker.Labels(t.plan.Project, service, "")
	for k, v := range labels {
		labels[k] = labelValue(v)
	}
	return labels
}

func describe(obj interface{}) (kind, name string) {
	switch o := obj.(type) {
	case *corev1.Namespace:
		return o.Kind, o.Name
	case *corev1.Secret:
		return o.Kind, o.Name
	case *corev1.PersistentVolumeClaim:
		return o.Kind, o.Name
	case *appsv1.Deployment:
		return o.Kind, o.Name
	case *corev1.Service:
		return o.Kind, o.Name
	default:
		return "", ""
	}
}
