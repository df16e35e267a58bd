package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// InstanceLease keeps a self-registration key for this gateway process
// alive under cfg.Prefix so controller/internal/controller/instance.go's
// watchInstances (unmodified, on the control-plane side) can report
// this instance without knowing anything about the gateway beyond the
// key shape it already watches.
type InstanceLease struct {
	client *clientv3.Client
	cfg    InstanceRegistryConfig
	id     string
	logger *zap.SugaredLogger
}

type instanceRecord struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	StartedAt    string `json:"started_at"`
	RegisteredAt string `json:"registered_at"`
}

// NewInstanceLease builds a lease for instance id; id should be stable
// across restarts of the same physical instance (hostname, or a
// configured instance name) so stale entries don't accumulate.
func NewInstanceLease(client *clientv3.Client, cfg InstanceRegistryConfig, id string, logger *zap.SugaredLogger) *InstanceLease {
	return &InstanceLease{client: client, cfg: cfg, id: id, logger: logger}
}

// Run registers the instance and keeps its lease alive until ctx is
// cancelled, re-registering on session loss the same way
// controller/internal/controller/election.go's campaignAndRun
// re-campaigns after losing leadership.
func (l *InstanceLease) Run(ctx context.Context) error {
	if !l.cfg.Enabled {
		return nil
	}
	ttl := l.cfg.LeaseTTLSecs
	if ttl <= 0 {
		ttl = 15
	}
	key := strings.TrimRight(l.cfg.Prefix, "/") + "/" + l.id

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := l.registerOnce(ctx, key, ttl); err != nil && l.logger != nil {
			l.logger.Warnw("instance lease cycle ended", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(3 * time.Second):
		}
	}
}

func (l *InstanceLease) registerOnce(ctx context.Context, key string, ttl int) error {
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(ttl))
	if err != nil {
		return fmt.Errorf("create instance lease session: %w", err)
	}
	defer session.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	record := instanceRecord{ID: l.id, Status: "serving", StartedAt: now, RegisteredAt: now}
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}

	if _, err := l.client.Put(ctx, key, string(body), clientv3.WithLease(session.Lease())); err != nil {
		return fmt.Errorf("register instance %s: %w", key, err)
	}
	if l.logger != nil {
		l.logger.Infow("instance registered", "key", key, "ttl", ttl)
	}

	select {
	case <-ctx.Done():
		return nil
	case <-session.Done():
		return fmt.Errorf("instance lease session expired")
	}
}
