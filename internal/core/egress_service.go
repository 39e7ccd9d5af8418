package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Page limits a list call.
type Page struct {
	Skip  int
	Limit int
}

// DefaultPageLimit applies when Page.Limit is zero.
const DefaultPageLimit = 100

func (p Page) apply(rows []Row) []Row {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if p.Skip >= len(rows) {
		return nil
	}
	if p.Skip > 0 {
		rows = rows[p.Skip:]
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// CreateEndpoint stores a new endpoint. A blank id is generated.
func (s *Service) CreateEndpoint(ctx context.Context, in Endpoint) (*Endpoint, error) {
	return createEntity(ctx, s, &in, nil, nil)
}

// GetEndpoint returns one endpoint.
func (s *Service) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	return getEntity[Endpoint](ctx, s, id)
}

// ListEndpoints returns endpoints in insertion order.
func (s *Service) ListEndpoints(ctx context.Context, p Page) ([]Endpoint, error) {
	return listEntities[Endpoint](ctx, s, p)
}

// UpdateEndpoint writes the fields present in in.
func (s *Service) UpdateEndpoint(ctx context.Context, id string, in Endpoint) (*Endpoint, error) {
	return updateEntity(ctx, s, id, &in, nil, nil)
}

// DeleteEndpoint removes an endpoint no configuration references.
func (s *Service) DeleteEndpoint(ctx context.Context, id string) error {
	return s.Delete(ctx, EntityEndpoint, id)
}

// CreateSchedule stores a new schedule. A blank id is generated.
func (s *Service) CreateSchedule(ctx context.Context, in Schedule) (*Schedule, error) {
	return createEntity(ctx, s, &in, nil, nil)
}

// GetSchedule returns one schedule.
func (s *Service) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	return getEntity[Schedule](ctx, s, id)
}

// ListSchedules returns schedules in insertion order.
func (s *Service) ListSchedules(ctx context.Context, p Page) ([]Schedule, error) {
	return listEntities[Schedule](ctx, s, p)
}

// UpdateSchedule writes the fields present in in.
func (s *Service) UpdateSchedule(ctx context.Context, id string, in Schedule) (*Schedule, error) {
	return updateEntity(ctx, s, id, &in, nil, nil)
}

// DeleteSchedule removes a schedule no configuration references.
func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	return s.Delete(ctx, EntitySchedule, id)
}

// CreateDataSelector stores a new data selector. A blank id is generated.
func (s *Service) CreateDataSelector(ctx context.Context, in DataSelector) (*DataSelector, error) {
	return createEntity(ctx, s, &in, nil, nil)
}

// GetDataSelector returns one data selector.
func (s *Service) GetDataSelector(ctx context.Context, id string) (*DataSelector, error) {
	return getEntity[DataSelector](ctx, s, id)
}

// ListDataSelectors returns data selectors in insertion order.
func (s *Service) ListDataSelectors(ctx context.Context, p Page) ([]DataSelector, error) {
	return listEntities[DataSelector](ctx, s, p)
}

// UpdateDataSelector writes the fields present in in.
func (s *Service) UpdateDataSelector(ctx context.Context, id string, in DataSelector) (*DataSelector, error) {
	return updateEntity(ctx, s, id, &in, nil, nil)
}

// DeleteDataSelector removes a data selector no configuration maps.
func (s *Service) DeleteDataSelector(ctx context.Context, id string) error {
	return s.Delete(ctx, EntitySelector, id)
}

// CreateConfiguration stores a new configuration. The id is required and the
// name, when given, must equal it. Referenced endpoint, schedule and data
// selectors must exist.
func (s *Service) CreateConfiguration(ctx context.Context, in Configuration) (*Configuration, error) {
	return createEntity(ctx, s, &in,
		func(tx Tx) error { return checkConfigurationRefs(ctx, tx, &in) },
		func(tx Tx) error { return mapSelectors(ctx, tx, &in) },
	)
}

// GetConfiguration returns one configuration with its selector ids.
func (s *Service) GetConfiguration(ctx context.Context, id string) (*Configuration, error) {
	var out *Configuration
	err := WithTx(ctx, s.store, func(tx Tx) error {
		c, err := readEntity[Configuration](ctx, tx, id)
		if err != nil {
			return err
		}
		if c.DataSelectorIDs, err = selectorIDs(ctx, tx, id); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// ListConfigurations returns configurations in insertion order.
func (s *Service) ListConfigurations(ctx context.Context, p Page) ([]Configuration, error) {
	var out []Configuration
	err := WithTx(ctx, s.store, func(tx Tx) error {
		rows, err := tx.List(ctx, TableConfigs, nil)
		if err != nil {
			return err
		}
		for _, r := range p.apply(rows) {
			var c Configuration
			c.fromRow(r)
			if c.DataSelectorIDs, err = selectorIDs(ctx, tx, c.ID); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

// UpdateConfiguration writes the fields present in in. The name cannot change.
func (s *Service) UpdateConfiguration(ctx context.Context, id string, in Configuration) (*Configuration, error) {
	return updateEntity(ctx, s, id, &in,
		func(tx Tx) error { return checkConfigurationRefs(ctx, tx, &in) },
		func(tx Tx) error { return mapSelectors(ctx, tx, &in) },
	)
}

// DeleteConfiguration removes a configuration and its selector mapping.
func (s *Service) DeleteConfiguration(ctx context.Context, id string) error {
	return s.Delete(ctx, EntityConfiguration, id)
}

// checkConfigurationRefs verifies the endpoint and schedule a configuration
// names before it is written.
func checkConfigurationRefs(ctx context.Context, tx Tx, c *Configuration) error {
	refs := []struct {
		field string
		table TableID
		id    *string
	}{
		{"endpointid", TableEndpoints, c.EndpointID},
		{"scheduleid", TableSchedules, c.ScheduleID},
	}
	for _, ref := range refs {
		if ref.id == nil || *ref.id == "" {
			continue
		}
		if err := mustExist(ctx, tx, ref.table, ref.field, *ref.id); err != nil {
			return err
		}
	}
	return nil
}

// mapSelectors replaces the selector mapping when DataSelectorIDs is present.
// Duplicate ids collapse and every id must exist.
func mapSelectors(ctx context.Context, tx Tx, c *Configuration) error {
	if c.DataSelectorIDs == nil {
		return nil
	}

	if _, err := tx.DeleteWhere(ctx, TableConfigSelects, Filter{"ec_id": c.ID}); err != nil {
		return fmt.Errorf("clear selector mapping: %w", err)
	}
	seen := make(map[string]bool, len(c.DataSelectorIDs))
	ids := make([]string, 0, len(c.DataSelectorIDs))
	for _, ds := range c.DataSelectorIDs {
		if seen[ds] {
			continue
		}
		seen[ds] = true
		if err := mustExist(ctx, tx, TableSelectors, "dataSelectorIds", ds); err != nil {
			return err
		}
		if err := tx.Insert(ctx, TableConfigSelects, Row{"ec_id": c.ID, "ds_id": ds}); err != nil {
			return fmt.Errorf("map selector %s: %w", ds, err)
		}
		ids = append(ids, ds)
	}
	c.DataSelectorIDs = ids
	return nil
}

func mustExist(ctx context.Context, tx Tx, table TableID, field, id string) error {
	_, err := tx.Get(ctx, table, Key{id})
	if errors.Is(err, ErrNotFound) {
		return &Error{
			Kind:  KindUnresolvableReference,
			Table: TableConfigs,
			Field: field,
			Ref:   id,
			Msg:   fmt.Sprintf("%s %q does not exist", table, id),
		}
	}
	return err
}

func selectorIDs(ctx context.Context, tx Tx, configID string) ([]string, error) {
	rows, err := tx.List(ctx, TableConfigSelects, Filter{"ec_id": configID})
	if err != nil {
		return nil, fmt.Errorf("list selector mapping: %w", err)
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.Text("ds_id")
	}
	return ids, nil
}

// entityPtr constrains the egress entity types to their pointer methods.
type entityPtr[T any] interface {
	*T
	record
}

func createEntity[T any, P entityPtr[T]](ctx context.Context, s *Service, in P, before, after func(Tx) error) (*T, error) {
	e := in.entity()
	if in.key() == "" && e != EntityConfiguration {
		in.setKey(uuid.NewString())
	}
	in.defaults()
	if err := in.validate(true); err != nil {
		return nil, err
	}

	row := in.toRow()
	row["id"] = in.key()
	if err := checkLengths(e.Table(), row); err != nil {
		return nil, err
	}

	var out *T
	err := WithTx(ctx, s.store, func(tx Tx) error {
		if before != nil {
			if err := before(tx); err != nil {
				return err
			}
		}
		if err := tx.Insert(ctx, e.Table(), row); err != nil {
			return err
		}
		if after != nil {
			if err := after(tx); err != nil {
				return err
			}
		}
		var err error
		out, err = readBound[T, P](ctx, tx, in.key())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.entityChanged(ctx, e, in.key(), "created")
	return out, nil
}

func updateEntity[T any, P entityPtr[T]](ctx context.Context, s *Service, id string, in P, before, after func(Tx) error) (*T, error) {
	e := in.entity()
	if in.key() != "" && in.key() != id {
		return nil, Invalid(e.Table(), "id", "id %q does not match %q", in.key(), id)
	}
	in.setKey(id)
	if err := in.validate(false); err != nil {
		return nil, err
	}

	row := in.toRow()
	if err := checkLengths(e.Table(), row); err != nil {
		return nil, err
	}

	var out *T
	err := WithTx(ctx, s.store, func(tx Tx) error {
		if _, err := tx.GetForUpdate(ctx, e.Table(), Key{id}); err != nil {
			return err
		}
		if before != nil {
			if err := before(tx); err != nil {
				return err
			}
		}
		if len(row) > 0 {
			if err := tx.Update(ctx, e.Table(), Key{id}, row); err != nil {
				return err
			}
		}
		if after != nil {
			if err := after(tx); err != nil {
				return err
			}
		}
		var err error
		out, err = readBound[T, P](ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.entityChanged(ctx, e, id, "updated")
	return out, nil
}

func getEntity[T any, P entityPtr[T]](ctx context.Context, s *Service, id string) (*T, error) {
	var out *T
	err := WithTx(ctx, s.store, func(tx Tx) error {
		var err error
		out, err = readEntity[T, P](ctx, tx, id)
		return err
	})
	return out, err
}

func listEntities[T any, P entityPtr[T]](ctx context.Context, s *Service, p Page) ([]T, error) {
	var zero T
	table := P(&zero).entity().Table()

	var out []T
	err := WithTx(ctx, s.store, func(tx Tx) error {
		rows, err := tx.List(ctx, table, nil)
		if err != nil {
			return err
		}
		page := p.apply(rows)
		out = make([]T, len(page))
		for i, r := range page {
			P(&out[i]).fromRow(r)
		}
		return nil
	})
	return out, err
}

func readEntity[T any, P entityPtr[T]](ctx context.Context, tx Tx, id string) (*T, error) {
	var out T
	row, err := tx.Get(ctx, P(&out).entity().Table(), Key{id})
	if err != nil {
		return nil, err
	}
	P(&out).fromRow(row)
	return &out, nil
}

// readBound rereads an entity after a write, including the selector mapping
// for configurations.
func readBound[T any, P entityPtr[T]](ctx context.Context, tx Tx, id string) (*T, error) {
	out, err := readEntity[T, P](ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if c, ok := any(out).(*Configuration); ok {
		if c.DataSelectorIDs, err = selectorIDs(ctx, tx, id); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func checkLengths(table TableID, row Row) error {
	def := MustGet(table)
	for col, v := range row {
		spec, ok := def.Field(col)
		if !ok {
			continue
		}
		if err := CheckLength(v, spec); err != nil {
			return Invalid(table, col, "%s", err.Error())
		}
	}
	return nil
}

// entityChanged drops cached bundles and publishes the change. Both run
// after commit; failures are logged only.
func (s *Service) entityChanged(ctx context.Context, e Entity, id, action string) {
	if err := s.cache.Invalidate(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("invalidate bundle cache", "entity", e, "id", id, "error", err)
	}
	s.publish(ctx, Change{
		Event: string(e) + "." + action,
		Table: e.Table(),
		ID:    id,
	})
}
