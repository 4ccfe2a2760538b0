package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/policyedge/gateway/internal/metrics"
)

type fakeEngine struct {
	mu           sync.Mutex
	published    map[string]string
	publishes    []string
	deletes      []string
	failWith     error
	publishDelay time.Duration
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{published: make(map[string]string)}
}

func (f *fakeEngine) Publish(_ context.Context, identifier, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishDelay > 0 {
		time.Sleep(f.publishDelay)
	}
	if f.failWith != nil {
		return f.failWith
	}
	f.published[identifier] = content
	f.publishes = append(f.publishes, identifier)
	return nil
}

func (f *fakeEngine) Delete(_ context.Context, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	delete(f.published, identifier)
	f.deletes = append(f.deletes, identifier)
	return nil
}

func (f *fakeEngine) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.publishes)
}

func (f *fakeEngine) has(identifier string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.published[identifier]
	return ok
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeRule(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestSyncer(t *testing.T, engine EngineClient) (*Syncer, string, string) {
	t.Helper()
	baseDir := t.TempDir()
	dynamicDir := t.TempDir()
	s := NewSyncer(testLogger(), engine, baseDir, dynamicDir, 0, nil)
	return s, baseDir, dynamicDir
}

func TestIdentifier(t *testing.T) {
	require.Equal(t, "base:policy", Identifier("base", "policy.rego"))
	require.Equal(t, "dynamic:cms", Identifier("dynamic", "cms.rego"))
	require.Equal(t, "base:audit_retention", Identifier("base", filepath.Join("audit", "retention.rego")))
}

func TestForceReload_PublishesBasePolicy(t *testing.T) {
	engine := newFakeEngine()
	s, baseDir, _ := newTestSyncer(t, engine)
	writeRule(t, baseDir, "policy.rego", "package test\nallow = true\n")

	status := s.ForceReload(context.Background())

	require.Equal(t, 1, status.BasePolicyCount)
	require.Equal(t, 0, status.DynamicPolicyCount)
	require.Empty(t, status.LastError)
	require.Contains(t, engine.published, "base:policy")
	require.Equal(t, "package test\nallow = true\n", engine.published["base:policy"])
}

func TestForceReload_IsIdempotent(t *testing.T) {
	engine := newFakeEngine()
	s, baseDir, _ := newTestSyncer(t, engine)
	writeRule(t, baseDir, "policy.rego", "package test\nallow = true\n")

	first := s.ForceReload(context.Background())
	second := s.ForceReload(context.Background())

	require.Equal(t, first.BasePolicyCount, second.BasePolicyCount)
	require.Equal(t, first.DynamicPolicyCount, second.DynamicPolicyCount)
	// The store is cleared first, so each reload republishes everything.
	require.Equal(t, 2, engine.publishCount())
}

func TestSyncDynamic_DetectsNewFiles(t *testing.T) {
	engine := newFakeEngine()
	s, _, dynamicDir := newTestSyncer(t, engine)

	s.ForceReload(context.Background())
	before := s.Status()

	writeRule(t, dynamicDir, "cms.rego", "package gatekeeper\nallow = true\n")
	s.SyncDynamic(context.Background())

	status := s.Status()
	require.Contains(t, engine.published, "dynamic:cms")
	require.Equal(t, before.DynamicPolicyCount+1, status.DynamicPolicyCount)
	require.Equal(t, before.LastError, status.LastError)
}

func TestSyncDynamic_UnchangedFilesSkipNetworkIO(t *testing.T) {
	engine := newFakeEngine()
	s, _, dynamicDir := newTestSyncer(t, engine)
	writeRule(t, dynamicDir, "cms.rego", "package gatekeeper\nallow = true\n")

	s.ForceReload(context.Background())
	published := engine.publishCount()

	s.SyncDynamic(context.Background())
	s.SyncDynamic(context.Background())

	require.Equal(t, published, engine.publishCount())
}

func TestSyncDynamic_ChangedContentRepublishes(t *testing.T) {
	engine := newFakeEngine()
	s, _, dynamicDir := newTestSyncer(t, engine)
	writeRule(t, dynamicDir, "cms.rego", "package gatekeeper\nallow = true\n")
	s.ForceReload(context.Background())

	writeRule(t, dynamicDir, "cms.rego", "package gatekeeper\nallow = false\n")
	s.SyncDynamic(context.Background())

	require.Equal(t, "package gatekeeper\nallow = false\n", engine.published["dynamic:cms"])
}

func TestSyncDynamic_RemovedFileIsRetracted(t *testing.T) {
	engine := newFakeEngine()
	s, _, dynamicDir := newTestSyncer(t, engine)
	writeRule(t, dynamicDir, "cms.rego", "package gatekeeper\nallow = true\n")
	s.ForceReload(context.Background())
	require.Equal(t, 1, s.Status().DynamicPolicyCount)

	require.NoError(t, os.Remove(filepath.Join(dynamicDir, "cms.rego")))
	s.SyncDynamic(context.Background())

	require.Equal(t, []string{"dynamic:cms"}, engine.deletes)
	require.Equal(t, 0, s.Status().DynamicPolicyCount)

	// One delete per removed identifier; a second pass issues no more.
	s.SyncDynamic(context.Background())
	require.Len(t, engine.deletes, 1)
}

func TestReconcile_PublishFailureKeepsStaleRecordAndRetries(t *testing.T) {
	engine := newFakeEngine()
	s, _, dynamicDir := newTestSyncer(t, engine)
	writeRule(t, dynamicDir, "cms.rego", "package gatekeeper\nallow = true\n")
	s.ForceReload(context.Background())

	engine.failWith = errors.New("engine unavailable")
	writeRule(t, dynamicDir, "cms.rego", "package gatekeeper\nallow = false\n")
	s.SyncDynamic(context.Background())

	status := s.Status()
	require.NotEmpty(t, status.LastError)
	require.Contains(t, status.LastError, "dynamic:cms")
	// Old content is still what we believe published.
	require.Equal(t, "package gatekeeper\nallow = true\n", engine.published["dynamic:cms"])

	engine.failWith = nil
	s.SyncDynamic(context.Background())
	require.Equal(t, "package gatekeeper\nallow = false\n", engine.published["dynamic:cms"])
}

func TestReconcile_MissingDirectoryIsEmpty(t *testing.T) {
	engine := newFakeEngine()
	s := NewSyncer(testLogger(), engine, filepath.Join(t.TempDir(), "absent"), "", 0, nil)

	status := s.ForceReload(context.Background())

	require.Equal(t, 0, status.BasePolicyCount)
	require.Empty(t, status.LastError)
}

func TestReconcile_PublishesInSortedPathOrder(t *testing.T) {
	engine := newFakeEngine()
	s, baseDir, _ := newTestSyncer(t, engine)
	for _, name := range []string{"zz.rego", "aa.rego", "mm.rego"} {
		writeRule(t, baseDir, name, fmt.Sprintf("package %s\n", name[:2]))
	}

	s.ForceReload(context.Background())

	require.Equal(t, []string{"base:aa", "base:mm", "base:zz"}, engine.publishes)
}

func TestReconcile_IgnoresNonRuleFiles(t *testing.T) {
	engine := newFakeEngine()
	s, baseDir, _ := newTestSyncer(t, engine)
	writeRule(t, baseDir, "policy.rego", "package test\n")
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "README.md"), []byte("docs"), 0o644))

	status := s.ForceReload(context.Background())

	require.Equal(t, 1, status.BasePolicyCount)
}

func TestStartStop(t *testing.T) {
	engine := newFakeEngine()
	dynamicDir := t.TempDir()
	writeRule(t, dynamicDir, "cms.rego", "package gatekeeper\n")
	s := NewSyncer(testLogger(), engine, "", dynamicDir, 10*time.Millisecond, nil)

	s.Start(context.Background())
	require.True(t, engine.has("dynamic:cms"))

	writeRule(t, dynamicDir, "late.rego", "package late\n")
	require.Eventually(t, func() bool {
		return s.Status().DynamicPolicyCount == 2
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop() // idempotent
}

func TestStop_WithoutStart(t *testing.T) {
	s := NewSyncer(testLogger(), newFakeEngine(), "", "", 0, nil)
	s.Stop()
}

func TestStop_ThenStartStillReloads(t *testing.T) {
	engine := newFakeEngine()
	baseDir := t.TempDir()
	writeRule(t, baseDir, "policy.rego", "package test\nallow = true\n")
	s := NewSyncer(testLogger(), engine, baseDir, t.TempDir(), 10*time.Millisecond, nil)

	s.Stop()
	s.Start(context.Background())

	require.True(t, engine.has("base:policy"))
	require.Equal(t, 1, s.Status().BasePolicyCount)
	s.Stop()
}

func TestSyncDynamic_ReadFailureKeepsPublishedPolicy(t *testing.T) {
	engine := newFakeEngine()
	s, _, dynamicDir := newTestSyncer(t, engine)
	writeRule(t, dynamicDir, "cms.rego", "package gatekeeper\nallow = true\n")
	s.ForceReload(context.Background())
	require.True(t, engine.has("dynamic:cms"))

	// Swap the file for a symlink to a directory: the scan still lists
	// it, but reading it fails.
	path := filepath.Join(dynamicDir, "cms.rego")
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Symlink(t.TempDir(), path))

	s.SyncDynamic(context.Background())

	status := s.Status()
	require.Contains(t, status.LastError, "fail to read")
	require.Empty(t, engine.deletes)
	require.True(t, engine.has("dynamic:cms"))
	require.Equal(t, 1, status.DynamicPolicyCount)
}

func TestSyncDynamic_RemovedDirectoryRetractsPolicies(t *testing.T) {
	engine := newFakeEngine()
	s, _, dynamicDir := newTestSyncer(t, engine)
	writeRule(t, dynamicDir, "cms.rego", "package gatekeeper\nallow = true\n")
	s.ForceReload(context.Background())
	require.Equal(t, 1, s.Status().DynamicPolicyCount)

	require.NoError(t, os.RemoveAll(dynamicDir))
	s.SyncDynamic(context.Background())

	status := s.Status()
	require.Equal(t, []string{"dynamic:cms"}, engine.deletes)
	require.Equal(t, 0, status.DynamicPolicyCount)
	require.Empty(t, status.LastError)
}

func TestForceReload_TimesEachNamespaceSeparately(t *testing.T) {
	engine := newFakeEngine()
	engine.publishDelay = 50 * time.Millisecond

	registry := metrics.NewRegistry(testLogger())
	syncMetrics := metrics.NewSyncMetrics()
	syncMetrics.Register(registry)

	baseDir := t.TempDir()
	writeRule(t, baseDir, "policy.rego", "package test\nallow = true\n")
	s := NewSyncer(testLogger(), engine, baseDir, t.TempDir(), 0, syncMetrics)

	baseCountBefore, baseSumBefore := passDuration(t, registry, NamespaceBase)
	dynCountBefore, dynSumBefore := passDuration(t, registry, NamespaceDynamic)

	s.ForceReload(context.Background())

	baseCount, baseSum := passDuration(t, registry, NamespaceBase)
	dynCount, dynSum := passDuration(t, registry, NamespaceDynamic)

	require.Equal(t, baseCountBefore+1, baseCount)
	require.Equal(t, dynCountBefore+1, dynCount)
	// The slow base publish must not bleed into the empty dynamic pass.
	require.GreaterOrEqual(t, baseSum-baseSumBefore, 0.05)
	require.Less(t, dynSum-dynSumBefore, 0.05)
}

func passDuration(t *testing.T, registry *metrics.Registry, namespace string) (uint64, float64) {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "gateway_sync_pass_duration_seconds" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "namespace" && label.GetValue() == namespace {
					histogram := metric.GetHistogram()
					return histogram.GetSampleCount(), histogram.GetSampleSum()
				}
			}
		}
	}
	return 0, 0
}
