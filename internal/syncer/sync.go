package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/policyedge/gateway/internal/metrics"
)

const (
	// RuleFileExt is the extension rule files must carry to be picked up.
	RuleFileExt = ".rego"

	// NamespaceBase holds policies bundled with the deployment; they are
	// reconciled on startup and forced reloads only.
	NamespaceBase = "base"
	// NamespaceDynamic holds policies that may change at runtime; the
	// background loop re-reconciles them every poll interval.
	NamespaceDynamic = "dynamic"

	stopTimeout = 30 * time.Second
)

// EngineClient is the subset of the remote engine client the syncer needs.
type EngineClient interface {
	Publish(ctx context.Context, identifier, content string) error
	Delete(ctx context.Context, identifier string) error
}

// policyRecord is the syncer's belief about one published policy. Records
// never leave the package except as aggregate counts.
type policyRecord struct {
	contentHash string
	sourcePath  string
}

// Status is a point-in-time snapshot of synchronization state. Values are
// copies; mutating a snapshot has no effect on the syncer.
type Status struct {
	LastFullSync       time.Time `json:"last_full_sync"`
	LastDynamicSync    time.Time `json:"last_dynamic_sync"`
	BasePolicyCount    int       `json:"policy_count"`
	DynamicPolicyCount int       `json:"dynamic_policy_count"`
	LastError          string    `json:"last_error,omitempty"`
}

// Syncer mirrors on-disk rule files into the remote engine's policy store.
// The reconciliation store and status share one mutex; the background loop
// and forced reloads never interleave their filesystem scans.
type Syncer struct {
	logger       *logrus.Logger
	client       EngineClient
	baseDir      string
	dynamicDir   string
	pollInterval time.Duration
	metrics      *metrics.SyncMetrics

	mu     sync.Mutex
	loaded map[string]policyRecord
	status Status

	startOnce   sync.Once
	stopOnce    sync.Once
	loopStarted bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

func NewSyncer(
	logger *logrus.Logger,
	client EngineClient,
	baseDir, dynamicDir string,
	pollInterval time.Duration,
	syncMetrics *metrics.SyncMetrics,
) *Syncer {
	return &Syncer{
		logger:       logger.WithField("component", "policy-syncer").Logger,
		client:       client,
		baseDir:      baseDir,
		dynamicDir:   dynamicDir,
		pollInterval: pollInterval,
		metrics:      syncMetrics,
		loaded:       make(map[string]policyRecord),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Identifier builds the store key for a rule file: namespace, then the
// relative path with separators flattened to "_" and the extension stripped.
// Two files that normalize to the same identifier within a namespace are
// indistinguishable; the lexicographically later path wins.
func Identifier(namespace, relPath string) string {
	name := strings.TrimSuffix(relPath, RuleFileExt)
	name = strings.ReplaceAll(filepath.ToSlash(name), "/", "_")
	return namespace + ":" + name
}

// ForceReload clears the reconciliation store and republishes every rule
// file currently on disk. Per-file failures are recorded in the status
// rather than returned; the next pass retries them.
func (s *Syncer) ForceReload(ctx context.Context) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	passID := uuid.New().String()
	start := time.Now()
	s.logger.WithField("pass_id", passID).Info("starting full policy reload")

	s.loaded = make(map[string]policyRecord)
	s.status.LastError = ""

	baseStart := time.Now()
	baseSeen := s.reconcileDirectory(ctx, s.baseDir, NamespaceBase)
	baseDuration := time.Since(baseStart)

	dynamicStart := time.Now()
	dynamicSeen := s.reconcileDirectory(ctx, s.dynamicDir, NamespaceDynamic)
	dynamicDuration := time.Since(dynamicStart)

	now := time.Now()
	s.status.LastFullSync = now
	s.status.LastDynamicSync = now
	s.status.BasePolicyCount = s.countNamespace(NamespaceBase)
	s.status.DynamicPolicyCount = s.countNamespace(NamespaceDynamic)

	s.metrics.RecordPass(NamespaceBase, baseDuration, s.status.BasePolicyCount)
	s.metrics.RecordPass(NamespaceDynamic, dynamicDuration, s.status.DynamicPolicyCount)

	s.logger.WithFields(logrus.Fields{
		"pass_id":       passID,
		"base_files":    baseSeen,
		"dynamic_files": dynamicSeen,
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Info("full policy reload finished")

	return s.status
}

// SyncDynamic runs one reconciliation pass over the dynamic directory only.
func (s *Syncer) SyncDynamic(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.reconcileDirectory(ctx, s.dynamicDir, NamespaceDynamic)
	s.status.LastDynamicSync = time.Now()
	s.status.DynamicPolicyCount = s.countNamespace(NamespaceDynamic)

	s.metrics.RecordPass(NamespaceDynamic, time.Since(start), s.status.DynamicPolicyCount)
}

// reconcileDirectory scans one directory, publishes new or changed rule
// files, and retracts files that disappeared since the previous pass.
// Caller holds the lock. A missing directory counts as empty, not an error.
// Returns the number of rule files seen.
func (s *Syncer) reconcileDirectory(ctx context.Context, dir, namespace string) int {
	if dir == "" {
		return 0
	}

	files, err := listRuleFiles(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.recordError(namespace, fmt.Errorf("fail to scan %s: %w", dir, err))
			return 0
		}
		// A vanished directory counts as empty: fall through so the
		// stale sweep retracts whatever it used to contain.
		files = nil
	}

	seen := make(map[string]struct{}, len(files))
	for _, relPath := range files {
		identifier := Identifier(namespace, relPath)
		sourcePath := filepath.Join(dir, relPath)
		// The file is still on disk, so it is never stale; a failed read
		// below must not feed the delete sweep.
		seen[identifier] = struct{}{}

		content, err := os.ReadFile(sourcePath)
		if err != nil {
			s.recordError(namespace, fmt.Errorf("fail to read %s: %w", sourcePath, err))
			continue
		}

		sum := sha256.Sum256(content)
		hash := hex.EncodeToString(sum[:])

		if rec, ok := s.loaded[identifier]; ok && rec.contentHash == hash {
			s.metrics.RecordSkip(namespace)
			continue
		}

		if err := s.client.Publish(ctx, identifier, string(content)); err != nil {
			// Keep the stale record so the next pass retries the publish.
			s.recordError(namespace, fmt.Errorf("fail to publish %s: %w", identifier, err))
			continue
		}
		s.loaded[identifier] = policyRecord{contentHash: hash, sourcePath: sourcePath}
		s.metrics.RecordPublish(namespace)
		s.logger.WithFields(logrus.Fields{
			"identifier": identifier,
			"source":     sourcePath,
		}).Info("published policy")
	}

	prefix := namespace + ":"
	var stale []string
	for identifier := range s.loaded {
		if strings.HasPrefix(identifier, prefix) {
			if _, ok := seen[identifier]; !ok {
				stale = append(stale, identifier)
			}
		}
	}
	sort.Strings(stale)

	for _, identifier := range stale {
		if err := s.client.Delete(ctx, identifier); err != nil {
			// Record survives; the delete is retried next pass.
			s.recordError(namespace, fmt.Errorf("fail to retract %s: %w", identifier, err))
			continue
		}
		delete(s.loaded, identifier)
		s.metrics.RecordDelete(namespace)
		s.logger.WithField("identifier", identifier).Info("retracted policy")
	}

	return len(files)
}

// listRuleFiles returns rule-file paths relative to dir, sorted so publish
// order is deterministic across passes.
func listRuleFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), RuleFileExt) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (s *Syncer) countNamespace(namespace string) int {
	prefix := namespace + ":"
	count := 0
	for identifier := range s.loaded {
		if strings.HasPrefix(identifier, prefix) {
			count++
		}
	}
	return count
}

func (s *Syncer) recordError(namespace string, err error) {
	s.status.LastError = err.Error()
	s.metrics.RecordError(namespace)
	s.logger.Error(err)
}

// Start performs one synchronous full reload, then launches the background
// loop that re-reconciles the dynamic namespace every poll interval. The
// loop only runs when a dynamic directory and a positive interval are
// configured; base policies are never re-scanned periodically.
func (s *Syncer) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.ForceReload(ctx)

		if s.dynamicDir == "" || s.pollInterval <= 0 {
			close(s.doneCh)
			return
		}

		// Stop may already have been requested; don't launch a loop
		// that would exit on its first select.
		select {
		case <-s.stopCh:
			close(s.doneCh)
			return
		default:
		}

		s.mu.Lock()
		s.loopStarted = true
		s.mu.Unlock()
		go s.pollLoop(ctx)
	})
}

func (s *Syncer) pollLoop(ctx context.Context) {
	defer close(s.doneCh)
	s.logger.WithField("poll_interval", s.pollInterval.String()).Info("starting dynamic policy polling")
	for {
		select {
		case <-s.stopCh:
			s.logger.Info("stop requested: exiting dynamic policy polling")
			return
		case <-ctx.Done():
			s.logger.Info("context done: exiting dynamic policy polling")
			return
		case <-time.After(s.pollInterval):
			s.SyncDynamic(ctx)
		}
	}
}

// Stop signals the background loop to exit after any in-flight pass and
// waits for it, bounded by stopTimeout. Safe to call more than once, and
// before Start: a later Start still performs its synchronous reload.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	s.mu.Lock()
	started := s.loopStarted
	s.mu.Unlock()
	if !started {
		return
	}

	select {
	case <-s.doneCh:
	case <-time.After(stopTimeout):
		s.logger.Warn("timed out waiting for polling loop to stop")
	}
}

// Status returns a defensive copy of the current synchronization state.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
