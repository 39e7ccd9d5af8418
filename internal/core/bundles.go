package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Bundle is a configuration with its resolved endpoint, schedule and data
// selectors. Endpoint and schedule are null when unset or dangling.
type Bundle struct {
	EgressConfig   Configuration  `json:"egressconfig"`
	EgressEndpoint *Endpoint      `json:"egress_endpoint"`
	Schedule       *Schedule      `json:"schedule"`
	DataSelectors  []DataSelector `json:"data_selectors"`
}

// Bundle cache keys.
const (
	cacheKeyAll     = "all"
	cacheKeyEnabled = "enabled"
)

// Bundles returns one bundle per configuration in insertion order. With
// enabledOnly, disabled configurations are filtered out before the join.
func (s *Service) Bundles(ctx context.Context, enabledOnly bool) ([]Bundle, error) {
	key := cacheKeyAll
	if enabledOnly {
		key = cacheKeyEnabled
	}

	var cached []Bundle
	gen, hit, cacheable := s.cacheGet(ctx, key, &cached)
	if hit {
		return cached, nil
	}

	var out []Bundle
	err := WithTx(ctx, s.store, func(tx Tx) error {
		var filter Filter
		if enabledOnly {
			filter = Filter{"enabled": true}
		}
		rows, err := tx.List(ctx, TableConfigs, filter)
		if err != nil {
			return fmt.Errorf("list configurations: %w", err)
		}
		out = make([]Bundle, 0, len(rows))
		for _, r := range rows {
			b, err := assemble(ctx, tx, r)
			if err != nil {
				return err
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cacheable {
		s.cacheSet(ctx, key, gen, out)
	}
	return out, nil
}

// Bundle returns the bundle of one configuration.
func (s *Service) Bundle(ctx context.Context, id string) (*Bundle, error) {
	key := "config:" + id

	var cached Bundle
	gen, hit, cacheable := s.cacheGet(ctx, key, &cached)
	if hit {
		return &cached, nil
	}

	var out Bundle
	err := WithTx(ctx, s.store, func(tx Tx) error {
		r, err := tx.Get(ctx, TableConfigs, Key{id})
		if err != nil {
			return err
		}
		out, err = assemble(ctx, tx, r)
		return err
	})
	if err != nil {
		return nil, err
	}

	if cacheable {
		s.cacheSet(ctx, key, gen, out)
	}
	return &out, nil
}

func assemble(ctx context.Context, tx Tx, cfgRow Row) (Bundle, error) {
	var b Bundle
	b.EgressConfig.fromRow(cfgRow)
	b.DataSelectors = []DataSelector{}

	if id := cfgRow.Text("endpointid"); id != "" {
		row, err := optionalRow(ctx, tx, TableEndpoints, id)
		if err != nil {
			return b, err
		}
		if row != nil {
			b.EgressEndpoint = &Endpoint{}
			b.EgressEndpoint.fromRow(row)
		}
	}

	if id := cfgRow.Text("scheduleid"); id != "" {
		row, err := optionalRow(ctx, tx, TableSchedules, id)
		if err != nil {
			return b, err
		}
		if row != nil {
			b.Schedule = &Schedule{}
			b.Schedule.fromRow(row)
		}
	}

	ids, err := selectorIDs(ctx, tx, b.EgressConfig.ID)
	if err != nil {
		return b, err
	}
	b.EgressConfig.DataSelectorIDs = ids
	for _, id := range ids {
		row, err := optionalRow(ctx, tx, TableSelectors, id)
		if err != nil {
			return b, err
		}
		if row == nil {
			continue
		}
		var ds DataSelector
		ds.fromRow(row)
		b.DataSelectors = append(b.DataSelectors, ds)
	}
	return b, nil
}

func optionalRow(ctx context.Context, tx Tx, table TableID, id string) (Row, error) {
	row, err := tx.Get(ctx, table, Key{id})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", table, id, err)
	}
	return row, nil
}

// cacheGet decodes a cached entry into v. On a miss it returns the
// generation to store the fresh read under; cacheable is false when the
// cache could not be read at all.
func (s *Service) cacheGet(ctx context.Context, key string, v any) (gen int64, hit, cacheable bool) {
	data, gen, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("bundle cache read", "key", key, "error", err)
		return 0, false, false
	}
	if !ok {
		return gen, false, true
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("bundle cache decode", "key", key, "error", err)
		return gen, false, true
	}
	return gen, true, true
}

func (s *Service) cacheSet(ctx context.Context, key string, gen int64, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("bundle cache encode", "key", key, "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, gen, data); err != nil {
		slog.Warn("bundle cache write", "key", key, "error", err)
	}
}
