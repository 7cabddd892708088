package uow_test

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unison/dialect"
	entsql "github.com/syssam/unison/dialect/sql"
	"github.com/syssam/unison/schema"
	"github.com/syssam/unison/uow"
)

// Shared test entities. The zoo fixtures cover one-to-many and
// many-to-one, the user fixtures a natural (mutable) primary key, the
// item fixtures a many-to-many through an association table, the
// employee fixture a self-referential one-to-many, the person/customer
// pair joined-table inheritance, and the widget fixtures a post-update
// reference cycle.

type Zoo struct {
	ID      int64
	Name    string
	Animals []*Animal
}

type Animal struct {
	ID       int64
	Name     string
	ZooID    int64
	Position int64
	Zoo      *Zoo
}

type User struct {
	Username  string
	Fullname  string
	Addresses []*Address
}

type Address struct {
	ID       int64
	Email    string
	Username string
}

type Crate struct {
	ID    int64
	Label string
	Tools []*Tool
}

// Tool carries its foreign key as a pointer: nil is SQL NULL.
type Tool struct {
	ID      int64
	Name    string
	CrateID *int64
}

type Employee struct {
	ID        int64
	Name      string
	ManagerID int64
	Reports   []*Employee
}

type Person struct {
	ID   int64
	Name string
}

// Customer rows split across the person and customer tables.
type Customer struct {
	ID   int64
	Name string
	Tier string
}

type Widget struct {
	ID         int64
	Name       string
	FavoriteID int64
	Entries    []*Entry
	Favorite   *Entry
}

type Entry struct {
	ID       int64
	Caption  string
	WidgetID int64
}

type Item struct {
	ID       int64
	Name     string
	Keywords []*Keyword
}

type Keyword struct {
	ID   int64
	Word string
}

// zooConfig adjusts the zoo registry fixture: the one-to-many's cascade
// and ordering, and whether the animal's foreign key accepts NULL.
type zooConfig struct {
	cascade       schema.Cascade
	orderColumn   string
	reorder       bool
	nonNullableFK bool
}

type zooOption func(*zooConfig)

func withCascade(c schema.Cascade) zooOption {
	return func(cfg *zooConfig) { cfg.cascade = c }
}

func withNonNullableFK() zooOption {
	return func(cfg *zooConfig) { cfg.nonNullableFK = true }
}

func withOrdering(reorder bool) zooOption {
	return func(cfg *zooConfig) {
		cfg.orderColumn = "position"
		cfg.reorder = reorder
	}
}

func zooRegistry(t *testing.T, opts ...zooOption) *schema.Registry {
	t.Helper()
	cfg := &zooConfig{cascade: schema.Cascade{SaveUpdate: true}}
	for _, opt := range opts {
		opt(cfg)
	}
	rel := &schema.Relationship{
		Name:            "animals",
		Kind:            schema.OneToMany,
		Target:          "animal",
		Cascade:         cfg.cascade,
		OrderColumn:     cfg.orderColumn,
		ReorderOnAppend: cfg.reorder,
	}
	reg, err := schema.NewRegistry(
		&schema.Mapper{
			Label:     "zoo",
			Prototype: &Zoo{},
			Columns: []*schema.Column{
				{Name: "id", PrimaryKey: true, AutoIncrement: true},
				{Name: "name"},
			},
			Rels: []*schema.Relationship{rel},
		},
		&schema.Mapper{
			Label:     "animal",
			Prototype: &Animal{},
			Columns: []*schema.Column{
				{Name: "id", PrimaryKey: true, AutoIncrement: true},
				{Name: "name"},
				{Name: "zoo_id", Nullable: !cfg.nonNullableFK},
				{Name: "position"},
			},
		},
	)
	require.NoError(t, err)
	return reg
}

func userRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		&schema.Mapper{
			Label:     "user",
			Prototype: &User{},
			Columns: []*schema.Column{
				{Name: "username", PrimaryKey: true},
				{Name: "fullname"},
			},
			Rels: []*schema.Relationship{
				{Name: "addresses", Kind: schema.OneToMany, Target: "address", ForeignKey: "username"},
			},
		},
		&schema.Mapper{
			Label:     "address",
			Prototype: &Address{},
			Columns: []*schema.Column{
				{Name: "id", PrimaryKey: true, AutoIncrement: true},
				{Name: "email"},
				{Name: "username", Nullable: true},
			},
		},
	)
	require.NoError(t, err)
	return reg
}

func crateRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		&schema.Mapper{
			Label:     "crate",
			Prototype: &Crate{},
			Columns: []*schema.Column{
				{Name: "id", PrimaryKey: true, AutoIncrement: true},
				{Name: "label"},
			},
			Rels: []*schema.Relationship{
				{Name: "tools", Kind: schema.OneToMany, Target: "tool", Cascade: schema.Cascade{SaveUpdate: true}},
			},
		},
		&schema.Mapper{
			Label:     "tool",
			Prototype: &Tool{},
			Columns: []*schema.Column{
				{Name: "id", PrimaryKey: true, AutoIncrement: true},
				{Name: "name"},
				{Name: "crate_id", Nullable: true},
			},
		},
	)
	require.NoError(t, err)
	return reg
}

func employeeRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		&schema.Mapper{
			Label:     "employee",
			Prototype: &Employee{},
			Columns: []*schema.Column{
				{Name: "id", PrimaryKey: true, AutoIncrement: true},
				{Name: "name"},
				{Name: "manager_id", Nullable: true},
			},
			Rels: []*schema.Relationship{
				{
					Name:       "reports",
					Kind:       schema.OneToMany,
					Target:     "employee",
					ForeignKey: "manager_id",
					Cascade:    schema.Cascade{SaveUpdate: true},
				},
			},
		},
	)
	require.NoError(t, err)
	return reg
}

func personRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		&schema.Mapper{
			Label:     "person",
			Prototype: &Person{},
			Columns: []*schema.Column{
				{Name: "id", PrimaryKey: true, AutoIncrement: true},
				{Name: "name"},
			},
		},
		&schema.Mapper{
			Label:     "customer",
			Prototype: &Customer{},
			Extends:   "person",
			Columns: []*schema.Column{
				{Name: "id", PrimaryKey: true},
				{Name: "tier"},
			},
		},
	)
	require.NoError(t, err)
	return reg
}

func widgetRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		&schema.Mapper{
			Label:     "widget",
			Prototype: &Widget{},
			Columns: []*schema.Column{
				{Name: "id", PrimaryKey: true, AutoIncrement: true},
				{Name: "name"},
				{Name: "favorite_id", Nullable: true},
			},
			Rels: []*schema.Relationship{
				{Name: "entries", Kind: schema.OneToMany, Target: "entry", ForeignKey: "widget_id", Cascade: schema.Cascade{SaveUpdate: true}},
				{Name: "favorite", Kind: schema.ManyToOne, Target: "entry", ForeignKey: "favorite_id", PostUpdate: true},
			},
		},
		&schema.Mapper{
			Label:     "entry",
			Prototype: &Entry{},
			Columns: []*schema.Column{
				{Name: "id", PrimaryKey: true, AutoIncrement: true},
				{Name: "caption"},
				{Name: "widget_id", Nullable: true},
			},
		},
	)
	require.NoError(t, err)
	return reg
}

func itemRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		&schema.Mapper{
			Label:     "item",
			Prototype: &Item{},
			Columns: []*schema.Column{
				{Name: "id", PrimaryKey: true, AutoIncrement: true},
				{Name: "name"},
			},
			Rels: []*schema.Relationship{
				{Name: "keywords", Kind: schema.ManyToMany, Target: "keyword", SecondaryTable: "item_keywords"},
			},
		},
		&schema.Mapper{
			Label:     "keyword",
			Prototype: &Keyword{},
			Columns: []*schema.Column{
				{Name: "id", PrimaryKey: true, AutoIncrement: true},
				{Name: "word"},
			},
		},
	)
	require.NoError(t, err)
	return reg
}

// mockSession returns a session backed by sqlmock with exact-string query
// matching, so tests assert the full statement stream in order.
func mockSession(t *testing.T, reg *schema.Registry, opts ...uow.Option) (*uow.Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	drv := entsql.OpenDB(dialect.MySQL, db)
	opts = append([]uow.Option{uow.WithDriver(drv)}, opts...)
	return uow.NewSession(reg, opts...), mock
}
