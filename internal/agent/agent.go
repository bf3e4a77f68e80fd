// Package agent owns the stores and the serialized ingest point that turns
// adapter SHDR lines into observations and asset updates.
package agent

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/shopfloor/mtcagent/internal/asset"
	"github.com/shopfloor/mtcagent/internal/metrics"
	"github.com/shopfloor/mtcagent/internal/schema"
	"github.com/shopfloor/mtcagent/internal/shdr"
	"github.com/shopfloor/mtcagent/internal/store"
)

// Timestamp format used for agent-generated observations (registration
// UNAVAILABLE seeding). Adapter timestamps are passed through verbatim.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	Registry *schema.Registry
	Store    *store.Store
	Assets   *asset.Store
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Assets == nil {
		return errors.New("asset store is required")
	}
	return nil
}

// Agent serializes all writes to the data and asset stores. Readers query
// the stores directly.
type Agent struct {
	log        *slog.Logger
	clock      clockwork.Clock
	registry   *schema.Registry
	store      *store.Store
	assets     *asset.Store
	parser     *shdr.Parser
	instanceID uint64

	mu sync.Mutex // single-writer ingest discipline
}

func New(cfg *Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	id := uuid.New()
	return &Agent{
		log:        cfg.Logger,
		clock:      cfg.Clock,
		registry:   cfg.Registry,
		store:      cfg.Store,
		assets:     cfg.Assets,
		parser:     shdr.NewParser(cfg.Logger, cfg.Registry),
		instanceID: binary.BigEndian.Uint64(id[:8]) >> 12,
	}, nil
}

func (a *Agent) InstanceID() uint64 { return a.instanceID }

// RegisterDevice indexes a device schema and seeds every data item with an
// UNAVAILABLE observation so current responses are total from boot. A
// duplicate uuid is rejected and the existing registration wins.
func (a *Agent) RegisterDevice(d *schema.Device) error {
	if err := a.registry.Register(d); err != nil {
		return err
	}

	ts := a.clock.Now().UTC().Format(timestampLayout)
	a.mu.Lock()
	defer a.mu.Unlock()
	walk, err := a.registry.Walk(d.UUID)
	if err != nil {
		return err
	}
	for _, ci := range walk {
		for _, di := range ci.DataItems {
			obs := store.Observation{
				DeviceUUID: d.UUID,
				DataItemID: di.ID,
				Category:   di.Category,
				Timestamp:  ts,
			}
			if di.Category == schema.CategoryCondition {
				obs.Condition = &store.Condition{Level: store.LevelUnavailable}
			} else {
				obs.Value = "UNAVAILABLE"
			}
			if seq, ok := a.store.Ingest(obs); ok {
				metrics.Observations.Inc()
				metrics.LastSequence.Set(float64(seq))
			}
		}
	}
	a.log.Info("registered device", "uuid", d.UUID, "name", d.Name)
	return nil
}

// Ingest applies one SHDR line from the device with the given uuid. Parse
// and lookup failures are logged and discarded; they never propagate.
func (a *Agent) Ingest(deviceUUID, line string) {
	parsed, err := a.parser.Parse(deviceUUID, line)
	if err != nil {
		metrics.IngestDiscards.WithLabelValues("parse").Inc()
		a.log.Warn("discarding SHDR line", "device", deviceUUID, "error", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, item := range parsed.Items {
		obs := store.Observation{
			DeviceUUID: deviceUUID,
			DataItemID: item.DataItem.ID,
			Category:   item.DataItem.Category,
			Timestamp:  parsed.TimestampRaw,
		}
		if item.DataItem.Category == schema.CategoryCondition {
			obs.Condition = &store.Condition{
				Level:          item.Values[0],
				NativeCode:     item.Values[1],
				NativeSeverity: item.Values[2],
				Qualifier:      item.Values[3],
				Message:        item.Values[4],
			}
		} else {
			obs.Value = item.Values[0]
		}

		seq, ok := a.store.Ingest(obs)
		if !ok {
			metrics.DuplicatesSuppressed.Inc()
			continue
		}
		metrics.Observations.Inc()
		metrics.LastSequence.Set(float64(seq))
	}

	for _, cmd := range parsed.Assets {
		a.applyAssetCommand(deviceUUID, parsed.TimestampRaw, cmd)
	}
}

func (a *Agent) applyAssetCommand(deviceUUID, ts string, cmd shdr.AssetCommand) {
	switch cmd.Op {
	case shdr.AssetUpsert:
		if err := a.assets.Upsert(deviceUUID, cmd.AssetID, cmd.Type, cmd.XML, ts); err != nil {
			metrics.IngestDiscards.WithLabelValues("asset").Inc()
			a.log.Warn("discarding asset command", "device", deviceUUID, "asset", cmd.AssetID, "error", err)
			return
		}
		metrics.AssetOps.WithLabelValues("upsert").Inc()
	case shdr.AssetUpdate:
		patches := make([]asset.Patch, len(cmd.Patches))
		for i, p := range cmd.Patches {
			patches[i] = asset.Patch{Key: p.Key, Value: p.Value}
		}
		if err := a.assets.Update(cmd.AssetID, ts, patches); err != nil {
			metrics.IngestDiscards.WithLabelValues("asset").Inc()
			a.log.Warn("discarding asset update", "device", deviceUUID, "asset", cmd.AssetID, "error", err)
			return
		}
		metrics.AssetOps.WithLabelValues("update").Inc()
	case shdr.AssetRemove:
		if err := a.assets.Remove(cmd.AssetID, ts); err != nil {
			metrics.IngestDiscards.WithLabelValues("asset").Inc()
			a.log.Warn("discarding asset removal", "device", deviceUUID, "asset", cmd.AssetID, "error", err)
			return
		}
		metrics.AssetOps.WithLabelValues("remove").Inc()
	}
	metrics.AssetCount.Set(float64(a.assets.Count()))
}
