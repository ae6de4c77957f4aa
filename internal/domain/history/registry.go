package history

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
)

// PartitionPrefix is prepended to a table name to form its history partition.
const PartitionPrefix = "history_"

var (
	tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,54}$`)
	fieldNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
)

// Table describes one tracked table.
type Table struct {
	Name      string `json:"table_name" yaml:"table_name"`
	IDField   string `json:"id_field" yaml:"id_field"`
	Partition string `json:"partition" yaml:"partition"`
}

// NewTable validates names and fills defaults.
// The identity field defaults to "<table>_id".
func NewTable(name, idField string) (Table, error) {
	name = strings.TrimSpace(name)
	idField = strings.TrimSpace(idField)
	if !tableNamePattern.MatchString(name) {
		return Table{}, apperror.NewValidation("invalid table name").WithDetail("table", name)
	}
	if idField == "" {
		idField = name + "_id"
	}
	if !fieldNamePattern.MatchString(idField) {
		return Table{}, apperror.NewValidation("invalid identity field name").
			WithDetail("table", name).
			WithDetail("field", idField)
	}
	return Table{Name: name, IDField: idField, Partition: PartitionName(name)}, nil
}

// PartitionName returns the history partition for a table.
func PartitionName(table string) string {
	return PartitionPrefix + table
}

// EntityID extracts the identity value of a row.
// Accepts id.ID, canonical identifier text, or 16 raw bytes.
func (t Table) EntityID(row *entity.Record) (id.ID, error) {
	v, ok := row.Get(t.IDField)
	if !ok || v == nil {
		return id.Nil(), apperror.NewValidation("identity field is missing").
			WithDetail("table", t.Name).
			WithDetail("field", t.IDField)
	}
	out, err := toID(v)
	if err != nil {
		return id.Nil(), apperror.NewValidation("identity field is not an identifier").
			WithDetail("table", t.Name).
			WithDetail("field", t.IDField).
			WithCause(err)
	}
	if id.IsNil(out) {
		return id.Nil(), apperror.NewValidation("identity field is nil").
			WithDetail("table", t.Name).
			WithDetail("field", t.IDField)
	}
	return out, nil
}

func toID(v any) (id.ID, error) {
	switch x := v.(type) {
	case id.ID:
		return x, nil
	case *id.ID:
		if x == nil {
			return id.Nil(), nil
		}
		return *x, nil
	case string:
		return id.Parse(x)
	case []byte:
		if len(x) == 16 {
			var out id.ID
			copy(out[:], x)
			return out, nil
		}
		return id.Parse(string(x))
	case [16]byte:
		return id.ID(x), nil
	default:
		return id.Nil(), apperror.NewValidation("unsupported identifier type")
	}
}

// PartitionProvisioner creates history partitions. Implemented by stores.
type PartitionProvisioner interface {
	// Provision creates the partition for t. Must be idempotent.
	Provision(ctx context.Context, t Table) error

	// Partitions lists every provisioned table.
	Partitions(ctx context.Context) ([]Table, error)
}

// Registry stores tracked table definitions.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]Table
	store  PartitionProvisioner
}

// NewRegistry creates a registry that provisions partitions through store.
func NewRegistry(store PartitionProvisioner) *Registry {
	return &Registry{
		tables: make(map[string]Table),
		store:  store,
	}
}

// Register starts tracking a table and provisions its history partition.
// Registering again with the same identity field is a no-op.
func (r *Registry) Register(ctx context.Context, name, idField string) (Table, error) {
	t, err := NewTable(name, idField)
	if err != nil {
		return Table{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tables[t.Name]; ok {
		if existing.IDField != t.IDField {
			return Table{}, apperror.NewValidation("table already registered with a different identity field").
				WithDetail("table", t.Name).
				WithDetail("id_field", existing.IDField)
		}
		return existing, nil
	}

	if err := r.store.Provision(ctx, t); err != nil {
		return Table{}, err
	}
	r.tables[t.Name] = t
	return t, nil
}

// Load hydrates the registry from partitions already provisioned in the store.
func (r *Registry) Load(ctx context.Context) error {
	tables, err := r.store.Partitions(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tables {
		r.tables[t.Name] = t
	}
	return nil
}

// Get returns a table definition.
func (r *Registry) Get(name string) (Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[name]
	return t, ok
}

// Lookup is Get that fails with TABLE_NOT_REGISTERED.
func (r *Registry) Lookup(name string) (Table, error) {
	t, ok := r.Get(name)
	if !ok {
		return Table{}, apperror.NewNotRegistered(name)
	}
	return t, nil
}

// List returns all tables sorted by name.
func (r *Registry) List() []Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Table, 0, len(r.tables))
	for _, t := range r.tables {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}
