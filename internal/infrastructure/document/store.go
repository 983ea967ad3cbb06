package document

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
)

var Module = fx.Module("document",
	fx.Provide(NewAttachmentStore),
)

// Kind selects the folder (or key prefix) an attachment is stored under
type Kind string

const (
	KindSignature Kind = "signatures"
	KindCompleted Kind = "completed"
)

// AttachmentStore persists binary payloads and hands back an opaque reference
type AttachmentStore interface {
	Store(ctx context.Context, kind Kind, name, contentType string, data []byte) (ref string, err error)
	Load(ctx context.Context, ref string) ([]byte, error)

	// URL returns a time-limited download link, or "" when the backend cannot serve links
	URL(ctx context.Context, ref string) (string, error)
}

func NewAttachmentStore(cfg *config.Config, logger *zap.Logger) (AttachmentStore, error) {
	switch cfg.Storage.Provider {
	case config.StorageProviderS3:
		return NewS3Store(context.Background(), cfg, logger)
	case config.StorageProviderLocal, "":
		return NewLocalStore(cfg.Storage.BasePath, logger)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// objectName builds a collision-free name: yyyy/mm/<uuid>-<sanitized name>
func objectName(name string, now time.Time) string {
	base := unsafeChars.ReplaceAllString(filepath.Base(name), "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "attachment"
	}
	return fmt.Sprintf("%04d/%02d/%s-%s", now.Year(), int(now.Month()), uuid.NewString(), base)
}
