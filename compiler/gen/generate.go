package gen

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dave/jennifer/jen"
	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/syssam/unison/compiler/load"
	"github.com/syssam/unison/schema"
)

const schemaPkg = "github.com/syssam/unison/schema"

// Generate writes Go source for the document's entities into the target
// directory: one file per entity plus a registry.go wiring the mappers.
func Generate(doc *load.Document, opts ...Option) error {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return err
	}
	if cfg.Target == "" {
		return NewConfigError("Target", nil, "no target directory")
	}
	if cfg.Package == "" {
		cfg.Package = doc.Package
	}
	g := &generator{cfg: cfg, doc: doc, caser: cases.Title(language.English), rules: inflect.NewDefaultRuleset()}
	if err := os.MkdirAll(cfg.Target, 0o755); err != nil {
		return NewGenerationError("", cfg.Target, "creating target directory", err)
	}
	for _, e := range doc.Entities {
		f := g.newFile()
		g.genEntity(f, e)
		if err := g.writeFile(f, snake(e.Name)+".go"); err != nil {
			return NewGenerationError(e.Name, snake(e.Name)+".go", "writing entity file", err)
		}
	}
	f := g.newFile()
	g.genRegistry(f)
	if err := g.writeFile(f, "registry.go"); err != nil {
		return NewGenerationError("", "registry.go", "writing registry file", err)
	}
	return nil
}

type generator struct {
	cfg   *Config
	doc   *load.Document
	caser cases.Caser
	rules *inflect.Ruleset
}

// genEntity emits the struct for one entity.
func (g *generator) genEntity(f *jen.File, e *load.Entity) {
	f.Commentf("%s is the mapped entity for the %q table.", g.typeName(e.Name), g.table(e))
	f.Type().Id(g.typeName(e.Name)).StructFunc(func(s *jen.Group) {
		for _, c := range e.Columns {
			s.Id(g.fieldName(c)).Add(goType(c))
		}
		for _, r := range e.Rels {
			target := g.typeName(r.Target)
			switch r.RelKind() {
			case schema.ManyToOne:
				s.Id(g.relField(r)).Op("*").Id(target)
			default:
				s.Id(g.relField(r)).Index().Op("*").Id(target)
			}
		}
	})
}

// genRegistry emits a NewRegistry constructor wiring every entity's mapper.
func (g *generator) genRegistry(f *jen.File) {
	f.Comment("NewRegistry builds the mapping registry for this package's entities.")
	f.Func().Id("NewRegistry").Params().Params(
		jen.Op("*").Qual(schemaPkg, "Registry"), jen.Error(),
	).Block(
		jen.Return(jen.Qual(schemaPkg, "NewRegistry").CallFunc(func(args *jen.Group) {
			for _, e := range g.doc.Entities {
				args.Add(g.mapperLit(e))
			}
		})),
	)
}

// mapperLit builds the *schema.Mapper composite literal for an entity.
func (g *generator) mapperLit(e *load.Entity) jen.Code {
	fields := jen.Dict{
		jen.Id("Label"):     jen.Lit(e.Name),
		jen.Id("Prototype"): jen.Op("&").Id(g.typeName(e.Name)).Values(),
		jen.Id("Table"):     jen.Lit(g.table(e)),
		jen.Id("Columns"): jen.Index().Op("*").Qual(schemaPkg, "Column").ValuesFunc(func(cols *jen.Group) {
			for _, c := range e.Columns {
				cols.Add(g.columnLit(c))
			}
		}),
	}
	if e.Extends != "" {
		fields[jen.Id("Extends")] = jen.Lit(e.Extends)
	}
	if len(e.Rels) > 0 {
		fields[jen.Id("Rels")] = jen.Index().Op("*").Qual(schemaPkg, "Relationship").ValuesFunc(func(rels *jen.Group) {
			for _, r := range e.Rels {
				rels.Add(g.relLit(r))
			}
		})
	}
	return jen.Op("&").Qual(schemaPkg, "Mapper").Values(fields)
}

func (g *generator) columnLit(c *load.Column) jen.Code {
	fields := jen.Dict{
		jen.Id("Name"):  jen.Lit(c.Name),
		jen.Id("Field"): jen.Lit(g.fieldName(c)),
	}
	if c.PrimaryKey {
		fields[jen.Id("PrimaryKey")] = jen.True()
	}
	if c.Nullable {
		fields[jen.Id("Nullable")] = jen.True()
	}
	if c.AutoIncrement {
		fields[jen.Id("AutoIncrement")] = jen.True()
	}
	if c.DefaultUUID {
		fields[jen.Id("DefaultUUID")] = jen.True()
	}
	return jen.Values(fields)
}

func (g *generator) relLit(r *load.Rel) jen.Code {
	fields := jen.Dict{
		jen.Id("Name"):   jen.Lit(r.Name),
		jen.Id("Kind"):   jen.Qual(schemaPkg, kindIdent[r.RelKind()]),
		jen.Id("Target"): jen.Lit(r.Target),
		jen.Id("Field"):  jen.Lit(g.relField(r)),
	}
	if r.ForeignKey != "" {
		fields[jen.Id("ForeignKey")] = jen.Lit(r.ForeignKey)
	}
	if r.SecondaryTable != "" {
		fields[jen.Id("SecondaryTable")] = jen.Lit(r.SecondaryTable)
		fields[jen.Id("SecondaryParentColumn")] = jen.Lit(r.SecondaryParentColumn)
		fields[jen.Id("SecondaryTargetColumn")] = jen.Lit(r.SecondaryTargetColumn)
	}
	if r.Cascade != "" {
		// Validated during load, so the parse cannot fail here.
		c, _ := schema.ParseCascade(r.Cascade)
		cf := jen.Dict{}
		if c.SaveUpdate {
			cf[jen.Id("SaveUpdate")] = jen.True()
		}
		if c.Delete {
			cf[jen.Id("Delete")] = jen.True()
		}
		if c.DeleteOrphan {
			cf[jen.Id("DeleteOrphan")] = jen.True()
		}
		if c.Merge {
			cf[jen.Id("Merge")] = jen.True()
		}
		fields[jen.Id("Cascade")] = jen.Qual(schemaPkg, "Cascade").Values(cf)
	}
	if r.PassiveDeletes {
		fields[jen.Id("PassiveDeletes")] = jen.True()
	}
	if r.PostUpdate {
		fields[jen.Id("PostUpdate")] = jen.True()
	}
	if r.OrderColumn != "" {
		fields[jen.Id("OrderColumn")] = jen.Lit(r.OrderColumn)
	}
	if r.ReorderOnAppend {
		fields[jen.Id("ReorderOnAppend")] = jen.True()
	}
	return jen.Values(fields)
}

// table returns the entity's table name, pluralizing the entity name
// when the document does not name one.
func (g *generator) table(e *load.Entity) string {
	if e.Table != "" {
		return e.Table
	}
	return g.rules.Pluralize(snake(e.Name))
}

// typeName returns the exported Go type name for an entity.
func (g *generator) typeName(name string) string {
	return g.export(name)
}

// fieldName returns the Go struct field for a column, honoring an
// explicit field override.
func (g *generator) fieldName(c *load.Column) string {
	if c.Field != "" {
		return c.Field
	}
	return g.export(c.Name)
}

func (g *generator) relField(r *load.Rel) string {
	if r.Field != "" {
		return r.Field
	}
	return g.export(r.Name)
}

// export turns a snake_case document name into an exported Go
// identifier. Identifier segments that are well-known initialisms keep
// their upper-case form.
func (g *generator) export(name string) string {
	parts := strings.Split(name, "_")
	for i, p := range parts {
		if initialism := strings.ToUpper(p); acronyms[initialism] {
			parts[i] = initialism
			continue
		}
		parts[i] = g.caser.String(p)
	}
	return strings.Join(parts, "")
}

var kindIdent = map[schema.RelKind]string{
	schema.OneToMany:         "OneToMany",
	schema.ManyToOne:         "ManyToOne",
	schema.ManyToMany:        "ManyToMany",
	schema.AssociationObject: "AssociationObject",
}

var acronyms = map[string]bool{
	"ID": true, "URL": true, "URI": true, "API": true, "UUID": true,
	"SKU": true, "HTTP": true, "JSON": true, "SQL": true,
}

func goType(c *load.Column) jen.Code {
	switch c.GoType() {
	case "time.Time":
		return jen.Qual("time", "Time")
	case "[]byte":
		return jen.Index().Byte()
	default:
		return jen.Id(c.GoType())
	}
}

// snake converts an entity name to its snake_case file name.
func snake(name string) string {
	return strings.ToLower(name)
}

// newFile creates a new Jennifer file with the header comment.
func (g *generator) newFile() *jen.File {
	f := jen.NewFile(g.cfg.Package)
	f.HeaderComment(g.cfg.Header)
	return f
}

// writeFile writes a jennifer file directly to disk (no buffering).
func (g *generator) writeFile(f *jen.File, filename string) error {
	out, err := os.Create(filepath.Join(g.cfg.Target, filename))
	if err != nil {
		return err
	}
	defer out.Close()

	// Jennifer renders with correct imports and formatting.
	return f.Render(out)
}
