package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const localRefPrefix = "local:"

type localStore struct {
	basePath string
	logger   *zap.Logger
}

// NewLocalStore keeps attachments under basePath/<kind>/yyyy/mm
func NewLocalStore(basePath string, logger *zap.Logger) (AttachmentStore, error) {
	if basePath == "" {
		basePath = "./data"
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	s := &localStore{
		basePath: abs,
		logger:   logger,
	}

	// Ensure all directories exist
	if err := s.ensureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create attachment directories: %w", err)
	}

	logger.Info("Local attachment store initialized",
		zap.String("base_path", abs),
	)

	return s, nil
}

func (s *localStore) ensureDirectories() error {
	for _, kind := range []Kind{KindSignature, KindCompleted} {
		dir := filepath.Join(s.basePath, string(kind))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (s *localStore) Store(ctx context.Context, kind Kind, name, contentType string, data []byte) (string, error) {
	rel := filepath.ToSlash(filepath.Join(string(kind), objectName(name, time.Now())))
	full := filepath.Join(s.basePath, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	// write to a temp file first so readers never see a partial attachment
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to move attachment into place: %w", err)
	}

	s.logger.Debug("Attachment stored",
		zap.String("ref", localRefPrefix+rel),
		zap.Int("size", len(data)),
	)
	return localRefPrefix + rel, nil
}

func (s *localStore) Load(ctx context.Context, ref string) ([]byte, error) {
	full, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return data, nil
}

func (s *localStore) URL(ctx context.Context, ref string) (string, error) {
	if _, err := s.resolve(ref); err != nil {
		return "", err
	}
	return "", nil
}

// resolve maps a reference back to a path inside basePath
func (s *localStore) resolve(ref string) (string, error) {
	if !strings.HasPrefix(ref, localRefPrefix) {
		return "", fmt.Errorf("not a local attachment reference: %q", ref)
	}
	full := filepath.Join(s.basePath, filepath.FromSlash(strings.TrimPrefix(ref, localRefPrefix)))
	if !strings.HasPrefix(full, s.basePath+string(os.PathSeparator)) {
		return "", fmt.Errorf("attachment reference escapes base path: %q", ref)
	}
	return full, nil
}
