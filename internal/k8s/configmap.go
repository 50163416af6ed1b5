package k8s

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	managedByLabel    = "app.kubernetes.io/managed-by"
	managedBy         = "threshold-learner"
	updatedAnnotation = "threshold-learner/updated-at"
)

var invalidKeyChars = regexp.MustCompile(`[^-._a-zA-Z0-9]`)

// ConfigMapKey maps a parameter name to a valid ConfigMap data key.
func ConfigMapKey(parameter string) string {
	return invalidKeyChars.ReplaceAllString(parameter, "_")
}

// Publisher writes the learned thresholds into one ConfigMap, one key per
// parameter, so alert rules and sidecars can read them.
type Publisher struct {
	cs        kubernetes.Interface
	namespace string
	name      string
	now       func() time.Time
}

func NewPublisher(cs kubernetes.Interface, namespace, name string) *Publisher {
	return &Publisher{cs: cs, namespace: namespace, name: name, now: time.Now}
}

// Publish creates the ConfigMap or replaces its data.
func (p *Publisher) Publish(ctx context.Context, thresholds map[string]float64) error {
	data := make(map[string]string, len(thresholds))
	for param, v := range thresholds {
		data[ConfigMapKey(param)] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	stamp := p.now().UTC().Format(time.RFC3339)

	cms := p.cs.CoreV1().ConfigMaps(p.namespace)
	cur, err := cms.Get(ctx, p.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		cm := &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{
				Name:        p.name,
				Namespace:   p.namespace,
				Labels:      map[string]string{managedByLabel: managedBy},
				Annotations: map[string]string{updatedAnnotation: stamp},
			},
			Data: data,
		}
		if _, err := cms.Create(ctx, cm, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("create configmap %s/%s: %w", p.namespace, p.name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("get configmap %s/%s: %w", p.namespace, p.name, err)
	}
	cur.Data = data
	if cur.Annotations == nil {
		cur.Annotations = map[string]string{}
	}
	cur.Annotations[updatedAnnotation] = stamp
	if _, err := cms.Update(ctx, cur, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update configmap %s/%s: %w", p.namespace, p.name, err)
	}
	return nil
}
