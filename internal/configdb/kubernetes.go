package configdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/watch"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"proccontrol/pkg/logging"
)

// DefaultConfigMapName is the ConfigMap holding the keyspace when no other
// name is configured.
const DefaultConfigMapName = "sdp-config"

// KubernetesBackend keeps the whole keyspace in a single ConfigMap.
//
// A snapshot is one read of the ConfigMap and a commit is one update that
// carries the resourceVersion that was read, so any concurrent writer makes
// the commit fail with ErrConflict. The ConfigMap is created by the first
// commit if it does not exist yet.
type KubernetesBackend struct {
	client    client.WithWatch
	namespace string
	name      string
}

// NewKubernetesBackend creates a backend on an existing client.
func NewKubernetesBackend(c client.WithWatch, namespace, name string) *KubernetesBackend {
	if name == "" {
		name = DefaultConfigMapName
	}
	return &KubernetesBackend{
		client:    c,
		namespace: namespace,
		name:      name,
	}
}

// NewKubernetesBackendForConfig creates a client for restConfig and a backend on it.
func NewKubernetesBackendForConfig(restConfig *rest.Config, namespace, name string) (*KubernetesBackend, error) {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	c, err := client.NewWithWatch(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return NewKubernetesBackend(c, namespace, name), nil
}

// Snapshot implements Backend.
func (b *KubernetesBackend) Snapshot(ctx context.Context) (Snapshot, error) {
	data, rv, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	return &kubernetesSnapshot{
		backend: b,
		rv:      rv,
		data:    data,
		reads:   newReadSet(),
	}, nil
}

// Close implements Backend.
func (b *KubernetesBackend) Close() error {
	return nil
}

func (b *KubernetesBackend) key() client.ObjectKey {
	return client.ObjectKey{Namespace: b.namespace, Name: b.name}
}

// load reads the ConfigMap and decodes its data. A missing ConfigMap is an
// empty keyspace with an empty resourceVersion.
func (b *KubernetesBackend) load(ctx context.Context) (map[string][]byte, string, error) {
	var cm corev1.ConfigMap
	if err := b.client.Get(ctx, b.key(), &cm); err != nil {
		if apierrors.IsNotFound(err) {
			return map[string][]byte{}, "", nil
		}
		return nil, "", fmt.Errorf("get configmap %s/%s: %w", b.namespace, b.name, err)
	}
	return decodeConfigMapData(cm.Data), cm.ResourceVersion, nil
}

func decodeConfigMapData(in map[string]string) map[string][]byte {
	out := make(map[string][]byte, len(in))
	for k, v := range in {
		key, err := decodeKey(k)
		if err != nil {
			logging.Warn("ConfigDB", "Ignoring configmap entry %q: %v", k, err)
			continue
		}
		out[key] = []byte(v)
	}
	return out
}

// encodeKey maps a store key onto the ConfigMap key alphabet [-._a-zA-Z0-9].
// '/' becomes '.', and '.' and '_' are escaped as "_d" and "_u".
func encodeKey(key string) (string, error) {
	var sb strings.Builder
	for _, r := range key {
		switch {
		case r == '/':
			sb.WriteByte('.')
		case r == '.':
			sb.WriteString("_d")
		case r == '_':
			sb.WriteString("_u")
		case r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			sb.WriteRune(r)
		default:
			return "", fmt.Errorf("key %q contains %q which cannot be stored in a configmap", key, r)
		}
	}
	return sb.String(), nil
}

func decodeKey(encoded string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		switch c {
		case '.':
			sb.WriteByte('/')
		case '_':
			if i+1 >= len(encoded) {
				return "", errors.New("dangling escape")
			}
			i++
			switch encoded[i] {
			case 'd':
				sb.WriteByte('.')
			case 'u':
				sb.WriteByte('_')
			default:
				return "", fmt.Errorf("unknown escape _%c", encoded[i])
			}
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

type kubernetesSnapshot struct {
	backend   *KubernetesBackend
	rv        string
	data      map[string][]byte
	reads     readSet
	committed bool
}

func (s *kubernetesSnapshot) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.reads.addKey(key)
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *kubernetesSnapshot) List(_ context.Context, prefix string) ([]string, error) {
	s.reads.addPrefix(prefix)
	var keys []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *kubernetesSnapshot) Commit(ctx context.Context, ops []Op) error {
	if s.committed {
		return errors.New("snapshot already committed")
	}

	next := make(map[string][]byte, len(s.data)+len(ops))
	for k, v := range s.data {
		next[k] = v
	}
	for _, op := range ops {
		if op.Delete {
			delete(next, op.Key)
		} else {
			next[op.Key] = op.Value
		}
	}

	encoded := make(map[string]string, len(next))
	for k, v := range next {
		ek, err := encodeKey(k)
		if err != nil {
			return err
		}
		encoded[ek] = string(v)
	}

	b := s.backend
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:       b.namespace,
			Name:            b.name,
			ResourceVersion: s.rv,
		},
		Data: encoded,
	}

	var err error
	if s.rv == "" {
		err = b.client.Create(ctx, cm)
	} else {
		err = b.client.Update(ctx, cm)
	}
	switch {
	case err == nil:
	case apierrors.IsConflict(err), apierrors.IsAlreadyExists(err), apierrors.IsNotFound(err):
		return ErrConflict
	default:
		return fmt.Errorf("write configmap %s/%s: %w", b.namespace, b.name, err)
	}

	s.committed = true
	s.rv = cm.ResourceVersion
	s.data = next
	return nil
}

// changed reports whether any key covered by the read set differs between
// the snapshot and current.
func (s *kubernetesSnapshot) changed(current map[string][]byte) bool {
	seen := make(map[string]struct{}, len(s.data)+len(current))
	for k := range s.data {
		seen[k] = struct{}{}
	}
	for k := range current {
		seen[k] = struct{}{}
	}
	for k := range seen {
		if !s.reads.empty() && !s.reads.covers(k) {
			continue
		}
		old, inOld := s.data[k]
		cur, inCur := current[k]
		if inOld != inCur || !bytes.Equal(old, cur) {
			return true
		}
	}
	return false
}

func (s *kubernetesSnapshot) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		return false, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := s.backend
	// Events for other ConfigMaps in the namespace are filtered below.
	w, err := b.client.Watch(waitCtx, &corev1.ConfigMapList{}, client.InNamespace(b.namespace))
	if err != nil {
		return false, fmt.Errorf("watch configmap %s/%s: %w", b.namespace, b.name, err)
	}
	defer w.Stop()

	// Changes made between the snapshot and the start of the watch are not
	// delivered as events.
	current, rv, err := b.load(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, err
	}
	if rv != s.rv && s.changed(current) {
		return true, nil
	}

	for {
		select {
		case ev, ok := <-w.ResultChan():
			if !ok {
				// The server closed the watch; report a change so the caller
				// re-reads rather than missing one.
				return waitCtx.Err() == nil, ctx.Err()
			}
			if ev.Type == watch.Error {
				return true, nil
			}
			cm, ok := ev.Object.(*corev1.ConfigMap)
			if !ok || cm.Name != b.name {
				continue
			}
			data := decodeConfigMapData(cm.Data)
			if ev.Type == watch.Deleted {
				data = map[string][]byte{}
			}
			if s.changed(data) {
				return true, nil
			}
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return false, err
			}
			return false, nil
		}
	}
}
