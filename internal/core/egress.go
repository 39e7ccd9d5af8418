package core

// egress.go defines the egress entities: endpoints, schedules, data
// selectors and the configurations that tie them together.
//
// Attribute fields are pointers. On input a nil field is absent and is left
// untouched by Update; on output a nil field is a stored NULL. JSON decoding
// matches field names case-insensitively, so "endpointId" and "endpointid"
// both land on EndpointID.

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

// Entity names an egress entity kind.
type Entity string

const (
	EntityEndpoint      Entity = "egress_endpoint"
	EntitySchedule      Entity = "schedule"
	EntitySelector      Entity = "data_selector"
	EntityConfiguration Entity = "configuration"
)

// Table returns the table backing the entity.
func (e Entity) Table() TableID {
	switch e {
	case EntityEndpoint:
		return TableEndpoints
	case EntitySchedule:
		return TableSchedules
	case EntitySelector:
		return TableSelectors
	case EntityConfiguration:
		return TableConfigs
	}
	return ""
}

// Label returns a human-readable name for messages.
func (e Entity) Label() string {
	switch e {
	case EntityEndpoint:
		return "egress endpoint"
	case EntitySchedule:
		return "schedule"
	case EntitySelector:
		return "data selector"
	case EntityConfiguration:
		return "configuration"
	}
	return string(e)
}

// ParseEntity maps a route segment or kind name to an Entity.
func ParseEntity(s string) (Entity, bool) {
	switch s {
	case "egress_endpoint", "egress_endpoints", "endpoint":
		return EntityEndpoint, true
	case "schedule", "schedules":
		return EntitySchedule, true
	case "data_selector", "data_selectors", "selector":
		return EntitySelector, true
	case "configuration", "configurations":
		return EntityConfiguration, true
	}
	return "", false
}

// Timestamps are the store-managed audit columns.
type Timestamps struct {
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func timestampsFromRow(r Row) Timestamps {
	var ts Timestamps
	if t, ok := r[ColCreatedAt].(time.Time); ok {
		ts.CreatedAt = &t
	}
	if t, ok := r[ColUpdatedAt].(time.Time); ok {
		ts.UpdatedAt = &t
	}
	return ts
}

// Endpoint is an egress destination.
type Endpoint struct {
	ID                          string  `json:"id"`
	Endpoint                    *string `json:"endpoint"`
	Username                    *string `json:"username"`
	Password                    *string `json:"password"`
	ClientID                    *string `json:"clientid"`
	ClientSecret                *string `json:"clientsecret"`
	DebugExpiration             *string `json:"debugexpiration"`
	TokenEndpoint               *string `json:"tokenendpoint"`
	ValidateEndpointCertificate *bool   `json:"validateendpointcertificate"`
	Timestamps
}

func (e *Endpoint) entity() Entity { return EntityEndpoint }
func (e *Endpoint) key() string { return e.ID }
func (e *Endpoint) setKey(id string) { e.ID = id }

func (e *Endpoint) defaults() {
	if e.ValidateEndpointCertificate == nil {
		v := true
		e.ValidateEndpointCertificate = &v
	}
}

func (e *Endpoint) toRow() Row {
	r := Row{}
	putText(r, "endpoint", e.Endpoint)
	putText(r, "username", e.Username)
	putText(r, "password", e.Password)
	putText(r, "clientid", e.ClientID)
	putText(r, "clientsecret", e.ClientSecret)
	putText(r, "debugexpiration", e.DebugExpiration)
	putText(r, "tokenendpoint", e.TokenEndpoint)
	putBool(r, "validateendpointcertificate", e.ValidateEndpointCertificate)
	return r
}

func (e *Endpoint) fromRow(r Row) {
	*e = Endpoint{
		ID:                          r.Text("id"),
		Endpoint:                    textPtr(r, "endpoint"),
		Username:                    textPtr(r, "username"),
		Password:                    textPtr(r, "password"),
		ClientID:                    textPtr(r, "clientid"),
		ClientSecret:                textPtr(r, "clientsecret"),
		DebugExpiration:             textPtr(r, "debugexpiration"),
		TokenEndpoint:               textPtr(r, "tokenendpoint"),
		ValidateEndpointCertificate: boolPtr(r, "validateendpointcertificate"),
		Timestamps:                  timestampsFromRow(r),
	}
}

func (e *Endpoint) validate(creating bool) error {
	if creating && e.Endpoint == nil {
		return Invalid(TableEndpoints, "endpoint", "endpoint is required")
	}
	if err := validateURL(TableEndpoints, "endpoint", e.Endpoint); err != nil {
		return err
	}
	return validateURL(TableEndpoints, "tokenendpoint", e.TokenEndpoint)
}

// Schedule controls how often a configuration egresses.
type Schedule struct {
	ID        string  `json:"id"`
	Period    *string `json:"period"`
	StartTime *string `json:"starttime"`
	Timestamps
}

func (s *Schedule) entity() Entity { return EntitySchedule }
func (s *Schedule) key() string { return s.ID }
func (s *Schedule) setKey(id string) { s.ID = id }
func (s *Schedule) defaults() {}

func (s *Schedule) toRow() Row {
	r := Row{}
	putText(r, "period", s.Period)
	putText(r, "starttime", s.StartTime)
	return r
}

func (s *Schedule) fromRow(r Row) {
	*s = Schedule{
		ID:         r.Text("id"),
		Period:     textPtr(r, "period"),
		StartTime:  textPtr(r, "starttime"),
		Timestamps: timestampsFromRow(r),
	}
}

func (s *Schedule) validate(creating bool) error {
	if creating && s.Period == nil {
		return Invalid(TableSchedules, "period", "period is required")
	}
	if err := validatePeriod(TableSchedules, "period", s.Period); err != nil {
		return err
	}
	if s.StartTime != nil && *s.StartTime != "" {
		if _, err := time.Parse(time.RFC3339, *s.StartTime); err != nil {
			return Invalid(TableSchedules, "starttime", "starttime %q is not an RFC 3339 timestamp", *s.StartTime)
		}
	}
	return nil
}

// DataSelector filters the streams a configuration egresses.
type DataSelector struct {
	ID               string  `json:"id"`
	StreamFilter     *string `json:"streamfilter"`
	AbsoluteDeadband *string `json:"absolutedeadband"`
	PercentChange    *string `json:"percentchange"`
	ExpirationPeriod *string `json:"expirationperiod"`
	Timestamps
}

func (d *DataSelector) entity() Entity { return EntitySelector }
func (d *DataSelector) key() string { return d.ID }
func (d *DataSelector) setKey(id string) { d.ID = id }
func (d *DataSelector) defaults() {}

func (d *DataSelector) toRow() Row {
	r := Row{}
	putText(r, "streamfilter", d.StreamFilter)
	putText(r, "absolutedeadband", d.AbsoluteDeadband)
	putText(r, "percentchange", d.PercentChange)
	putText(r, "expirationperiod", d.ExpirationPeriod)
	return r
}

func (d *DataSelector) fromRow(r Row) {
	*d = DataSelector{
		ID:               r.Text("id"),
		StreamFilter:     textPtr(r, "streamfilter"),
		AbsoluteDeadband: textPtr(r, "absolutedeadband"),
		PercentChange:    textPtr(r, "percentchange"),
		ExpirationPeriod: textPtr(r, "expirationperiod"),
		Timestamps:       timestampsFromRow(r),
	}
}

func (d *DataSelector) validate(bool) error {
	for _, f := range []struct {
		name string
		v    *string
	}{{"absolutedeadband", d.AbsoluteDeadband}, {"percentchange", d.PercentChange}} {
		if f.v == nil || *f.v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(*f.v, 64); err != nil {
			return Invalid(TableSelectors, f.name, "%s %q is not a number", f.name, *f.v)
		}
	}
	return validatePeriod(TableSelectors, "expirationperiod", d.ExpirationPeriod)
}

// Configuration binds an endpoint, a schedule and data selectors.
// Its id is also its name and never changes.
type Configuration struct {
	ID           string  `json:"id"`
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	Enabled      *bool   `json:"enabled"`
	EndpointID   *string `json:"endpointid"`
	ScheduleID   *string `json:"scheduleid"`
	NamespaceID  *string `json:"namespaceid"`
	Backfill     *bool   `json:"backfill"`
	StreamPrefix *string `json:"streamprefix"`
	TypePrefix   *string `json:"typeprefix"`

	// DataSelectorIDs replaces the selector mapping when present on input.
	// On output it lists the mapped selectors in mapping order.
	DataSelectorIDs []string `json:"dataSelectorIds,omitempty"`

	Timestamps
}

func (c *Configuration) entity() Entity { return EntityConfiguration }
func (c *Configuration) key() string { return c.ID }
func (c *Configuration) setKey(id string) { c.ID = id }

func (c *Configuration) defaults() {
	if c.Name == nil || *c.Name == "" {
		id := c.ID
		c.Name = &id
	}
	if c.Enabled == nil {
		v := true
		c.Enabled = &v
	}
	if c.NamespaceID == nil {
		ns := "default"
		c.NamespaceID = &ns
	}
	if c.Backfill == nil {
		v := false
		c.Backfill = &v
	}
}

func (c *Configuration) toRow() Row {
	r := Row{}
	if c.Name != nil && *c.Name == "" {
		r["name"] = c.ID
	} else {
		putText(r, "name", c.Name)
	}
	putText(r, "description", c.Description)
	putBool(r, "enabled", c.Enabled)
	putRef(r, "endpointid", c.EndpointID)
	putRef(r, "scheduleid", c.ScheduleID)
	putText(r, "namespaceid", c.NamespaceID)
	putBool(r, "backfill", c.Backfill)
	putText(r, "streamprefix", c.StreamPrefix)
	putText(r, "typeprefix", c.TypePrefix)
	return r
}

func (c *Configuration) fromRow(r Row) {
	*c = Configuration{
		ID:           r.Text("id"),
		Name:         textPtr(r, "name"),
		Description:  textPtr(r, "description"),
		Enabled:      boolPtr(r, "enabled"),
		EndpointID:   textPtr(r, "endpointid"),
		ScheduleID:   textPtr(r, "scheduleid"),
		NamespaceID:  textPtr(r, "namespaceid"),
		Backfill:     boolPtr(r, "backfill"),
		StreamPrefix: textPtr(r, "streamprefix"),
		TypePrefix:   textPtr(r, "typeprefix"),
		Timestamps:   timestampsFromRow(r),
	}
}

func (c *Configuration) validate(creating bool) error {
	if creating && c.ID == "" {
		return Invalid(TableConfigs, "id", "configuration id is required")
	}
	if c.Name != nil && *c.Name != "" && c.ID != "" && *c.Name != c.ID {
		return Invalid(TableConfigs, "name", "configuration name %q must equal its id %q", *c.Name, c.ID)
	}
	return nil
}

// record is implemented by every egress entity pointer.
type record interface {
	entity() Entity
	key() string
	setKey(string)
	defaults()
	toRow() Row
	fromRow(Row)
	validate(creating bool) error
}

func putText(r Row, col string, v *string) {
	if v != nil {
		r[col] = *v
	}
}

// putRef writes a reference column; an empty id clears it.
func putRef(r Row, col string, v *string) {
	switch {
	case v == nil:
	case *v == "":
		r[col] = nil
	default:
		r[col] = *v
	}
}

func putBool(r Row, col string, v *bool) {
	if v != nil {
		r[col] = *v
	}
}

func textPtr(r Row, col string) *string {
	if r[col] == nil {
		return nil
	}
	s := r.Text(col)
	return &s
}

func boolPtr(r Row, col string) *bool {
	b, ok := r[col].(bool)
	if !ok {
		return nil
	}
	return &b
}

func validateURL(table TableID, field string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	u, err := url.Parse(*v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Invalid(table, field, "%s %q is not an absolute http(s) URL", field, *v)
	}
	return nil
}

// maxPeriodDays keeps every period within time.Duration.
const maxPeriodDays = 106750

var periodPattern = regexp.MustCompile(`^(?:(\d+)\.)?(\d{1,2}):([0-5]\d):([0-5]\d)(?:\.\d+)?$`)

// ParsePeriod parses a "[d.]h:mm:ss" period such as "0:00:15" or "1.02:00:00".
func ParsePeriod(s string) (time.Duration, error) {
	m := periodPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("period %q is not in [d.]h:mm:ss form", s)
	}
	var days, hours, mins, secs int64
	if m[1] != "" {
		var err error
		days, err = strconv.ParseInt(m[1], 10, 64)
		if err != nil || days > maxPeriodDays {
			return 0, fmt.Errorf("period %q exceeds %d days", s, maxPeriodDays)
		}
	}
	hours, _ = strconv.ParseInt(m[2], 10, 64)
	mins, _ = strconv.ParseInt(m[3], 10, 64)
	secs, _ = strconv.ParseInt(m[4], 10, 64)
	if hours > 23 {
		return 0, fmt.Errorf("period %q has more than 23 hours", s)
	}
	return time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second, nil
}

func validatePeriod(table TableID, field string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	if _, err := ParsePeriod(*v); err != nil {
		return Invalid(table, field, "%s", err.Error())
	}
	return nil
}
