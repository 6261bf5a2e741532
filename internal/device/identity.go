package device

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/stafflinehq/staffline/internal/cache"
	"github.com/stafflinehq/staffline/internal/record"
	"go.uber.org/zap"
)

const fallbackLabel = "device"

// IdentityConfig configures the device identity provider.
type IdentityConfig struct {
	Store cache.Store
	Clock func() time.Time
	// Label supplies a best-effort human-readable platform hint. Defaults to
	// the host name.
	Label  func() (string, error)
	Logger *zap.Logger
}

// Identity derives and persists the stable per-installation identifier used to
// scope duplicate detection and attribute writes.
type Identity struct {
	store  cache.Store
	clock  func() time.Time
	label  func() (string, error)
	logger *zap.Logger

	mu     sync.Mutex
	cached string
}

// NewIdentity constructs the identity provider.
func NewIdentity(cfg IdentityConfig) (*Identity, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("device: cache store is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	label := cfg.Label
	if label == nil {
		label = os.Hostname
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Identity{store: cfg.Store, clock: clock, label: label, logger: logger}, nil
}

// DeviceID returns the persisted installation identifier, generating and
// storing one on first use. It never fails: if the store is unreachable the
// generated value is still returned so the engine always has an identity.
func (i *Identity) DeviceID(ctx context.Context) string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cached != "" {
		return i.cached
	}

	if raw, err := i.store.Get(ctx, record.DeviceIDKey); err == nil {
		var stored string
		if err := json.Unmarshal(raw, &stored); err == nil && stored != "" {
			i.cached = stored
			return stored
		}
	}

	generated := i.generate()
	encoded, err := json.Marshal(generated)
	if err == nil {
		if err := i.store.Set(ctx, record.DeviceIDKey, encoded); err != nil {
			i.logger.Warn("device id not persisted", zap.Error(err))
		}
	}
	i.cached = generated
	return generated
}

func (i *Identity) generate() string {
	label, err := i.label()
	if err != nil || strings.TrimSpace(label) == "" {
		label = fallbackLabel
	}
	return fmt.Sprintf("%s_%d", sanitizeLabel(label), i.clock().UTC().UnixMilli())
}

// sanitizeLabel reduces a platform hint to the identifier alphabet so the
// device id can double as a document field value.
func sanitizeLabel(label string) string {
	var builder strings.Builder
	for _, ch := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-', ch == '_', ch == '.':
			builder.WriteRune(ch)
		case ch == ' ':
			builder.WriteRune('-')
		}
	}
	if builder.Len() == 0 {
		return fallbackLabel
	}
	return builder.String()
}
