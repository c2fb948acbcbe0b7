package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"ephemeral_chat/pkg/errors"
	"ephemeral_chat/pkg/logger"
)

// storageFileName is the fixed storage key for the participant handle.
// Created once, never cleared by this package.
const storageFileName = "participant_id"

// Provider allocates and persists one opaque pseudonymous participant
// handle per state directory. Purely local, no network.
type Provider struct {
	dir string
	log logger.Logger

	mu     sync.Mutex
	handle string
}

func NewProvider(stateDir string, log logger.Logger) *Provider {
	return &Provider{dir: stateDir, log: log}
}

// Handle returns the persistent participant handle, creating and
// storing it on first use. If storage is unavailable the handle is
// still returned, valid for this process only.
func (p *Provider) Handle() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != "" {
		return p.handle
	}

	if h, err := p.load(); err == nil {
		p.handle = h
		return h
	}

	p.handle = uuid.New().String()
	if err := p.store(p.handle); err != nil {
		p.log.Warn("participant handle not persisted, using volatile identity", "error", err)
	}
	return p.handle
}

func (p *Provider) load() (string, error) {
	if p.dir == "" {
		return "", errors.ErrStorageUnavailable
	}
	data, err := os.ReadFile(filepath.Join(p.dir, storageFileName))
	if err != nil {
		return "", err
	}
	h := strings.TrimSpace(string(data))
	if h == "" {
		return "", fmt.Errorf("empty identity file")
	}
	return h, nil
}

func (p *Provider) store(handle string) error {
	if p.dir == "" {
		return errors.ErrStorageUnavailable
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(p.dir, storageFileName)
	if err := os.WriteFile(path, []byte(handle+"\n"), 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}
