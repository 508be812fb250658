package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"scribe-backend/application/ports"
	"scribe-backend/domain/core/valueobjects"
)

// AgentPolicy configures one extraction kind's agent endpoint and failure
// handling
type AgentPolicy struct {
	Endpoint         string `yaml:"endpoint"`
	FallbackEndpoint string `yaml:"fallback_endpoint"`
	Policy           string `yaml:"policy"` // fail_closed | fail_open_to_alternate
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// policiesFile is the on-disk shape of the policy configuration
type policiesFile struct {
	Kinds map[string]AgentPolicy `yaml:"kinds"`
}

const defaultAgentTimeout = 30 * time.Second

// PolicyStore holds the per-kind agent policies and hot-reloads them when
// the policy file changes. It implements ports.PolicyProvider.
type PolicyStore struct {
	mu    sync.RWMutex
	kinds map[valueobjects.ExtractionKind]AgentPolicy

	path    string
	baseURL string
	logger  *zap.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewPolicyStore loads the policy file, falling back to defaults derived
// from the agent base URL when the file does not exist. Every kind defaults
// to fail-closed.
func NewPolicyStore(path, baseURL string, logger *zap.Logger) (*PolicyStore, error) {
	s := &PolicyStore{
		kinds:   make(map[valueobjects.ExtractionKind]AgentPolicy),
		path:    path,
		baseURL: baseURL,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

// PolicyFor returns the kind's failure policy. Unknown or unset policies
// resolve to fail-closed.
func (s *PolicyStore) PolicyFor(kind valueobjects.ExtractionKind) ports.FailurePolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.kinds[kind]; ok && p.Policy == string(ports.FailOpenToAlternate) {
		return ports.FailOpenToAlternate
	}
	return ports.FailClosed
}

// EndpointFor returns the kind's agent endpoint
func (s *PolicyStore) EndpointFor(kind valueobjects.ExtractionKind) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.kinds[kind]; ok && p.Endpoint != "" {
		return p.Endpoint
	}
	return s.defaultEndpoint(kind)
}

// FallbackEndpointFor returns the kind's alternate generation endpoint
func (s *PolicyStore) FallbackEndpointFor(kind valueobjects.ExtractionKind) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.kinds[kind]; ok && p.FallbackEndpoint != "" {
		return p.FallbackEndpoint, true
	}
	return "", false
}

// TimeoutFor returns the kind's per-request agent timeout
func (s *PolicyStore) TimeoutFor(kind valueobjects.ExtractionKind) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.kinds[kind]; ok && p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return defaultAgentTimeout
}

// Watch starts hot-reloading the policy file. Reload failures keep the
// previous policies in place.
func (s *PolicyStore) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	s.watcher = watcher

	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		s.watcher = nil
		s.logger.Warn("Policy file not watchable, hot reload disabled",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return nil
	}

	go s.watchLoop()
	s.logger.Info("Policy hot reloading enabled", zap.String("path", s.path))
	return nil
}

// Stop stops the policy watcher
func (s *PolicyStore) Stop() {
	if s.watcher != nil {
		close(s.stopCh)
		s.watcher.Close()
	}
}

func (s *PolicyStore) watchLoop() {
	var debounceTimer *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := s.load(); err != nil {
						s.logger.Error("Policy reload failed, keeping previous policies",
							zap.String("path", s.path),
							zap.Error(err),
						)
						return
					}
					s.logger.Info("Reloaded extraction policies", zap.String("path", s.path))
				})
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("Policy watcher error", zap.Error(err))

		case <-s.stopCh:
			return
		}
	}
}

func (s *PolicyStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("No policy file, using defaults",
				zap.String("path", s.path),
				zap.String("baseURL", s.baseURL),
			)
			s.mu.Lock()
			s.kinds = make(map[valueobjects.ExtractionKind]AgentPolicy)
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	var file policiesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}

	kinds := make(map[valueobjects.ExtractionKind]AgentPolicy, len(file.Kinds))
	for name, policy := range file.Kinds {
		kind, err := valueobjects.ParseExtractionKind(name)
		if err != nil {
			return fmt.Errorf("policy file: %w", err)
		}
		if policy.Policy != "" &&
			policy.Policy != string(ports.FailClosed) &&
			policy.Policy != string(ports.FailOpenToAlternate) {
			return fmt.Errorf("policy file: unknown failure policy %q for kind %s", policy.Policy, name)
		}
		kinds[kind] = policy
	}

	s.mu.Lock()
	s.kinds = kinds
	s.mu.Unlock()
	return nil
}

func (s *PolicyStore) defaultEndpoint(kind valueobjects.ExtractionKind) string {
	return fmt.Sprintf("%s/v1/extract/%s", s.baseURL, string(kind))
}
