package query

// Condition is a node of a WHERE expression tree.
type Condition interface {
	render(b *builder, nested bool)
}

type comparison struct {
	column string
	op     string
	value  any
}

func (c comparison) render(b *builder, _ bool) {
	if c.value == nil && (c.op == "=" || c.op == "<>") {
		b.ident(c.column)
		if c.op == "=" {
			b.write(" IS NULL")
		} else {
			b.write(" IS NOT NULL")
		}
		return
	}
	b.ident(c.column)
	b.write(" " + c.op + " ")
	b.value(c.value)
}

// Eq matches column = value. A nil value renders IS NULL.
func Eq(column string, value any) Condition { return comparison{column, "=", value} }

// Ne matches column <> value. A nil value renders IS NOT NULL.
func Ne(column string, value any) Condition   { return comparison{column, "<>", value} }
func Lt(column string, value any) Condition   { return comparison{column, "<", value} }
func Le(column string, value any) Condition   { return comparison{column, "<=", value} }
func Gt(column string, value any) Condition   { return comparison{column, ">", value} }
func Ge(column string, value any) Condition   { return comparison{column, ">=", value} }
func Like(column string, value any) Condition { return comparison{column, "LIKE", value} }

type membership struct {
	column string
	not    bool
	values []any
}

func (m membership) render(b *builder, _ bool) {
	if len(m.values) == 0 {
		// IN () is invalid SQL; an empty set matches nothing.
		if m.not {
			b.write("1 = 1")
		} else {
			b.write("1 = 0")
		}
		return
	}
	b.ident(m.column)
	if m.not {
		b.write(" NOT IN (")
	} else {
		b.write(" IN (")
	}
	for i, v := range m.values {
		if i > 0 {
			b.write(", ")
		}
		b.value(v)
	}
	b.write(")")
}

func In(column string, values ...any) Condition    { return membership{column, false, values} }
func NotIn(column string, values ...any) Condition { return membership{column, true, values} }

type between struct {
	column    string
	not       bool
	low, high any
}

func (c between) render(b *builder, _ bool) {
	b.ident(c.column)
	if c.not {
		b.write(" NOT BETWEEN ")
	} else {
		b.write(" BETWEEN ")
	}
	b.value(c.low)
	b.write(" AND ")
	b.value(c.high)
}

func Between(column string, low, high any) Condition    { return between{column, false, low, high} }
func NotBetween(column string, low, high any) Condition { return between{column, true, low, high} }

type nullCheck struct {
	column string
	not    bool
}

func (c nullCheck) render(b *builder, _ bool) {
	b.ident(c.column)
	if c.not {
		b.write(" IS NOT NULL")
	} else {
		b.write(" IS NULL")
	}
}

func IsNull(column string) Condition    { return nullCheck{column, false} }
func IsNotNull(column string) Condition { return nullCheck{column, true} }

type group struct {
	op    string
	items []Condition
}

func (g group) render(b *builder, nested bool) {
	if nested {
		b.write("(")
	}
	for i, c := range g.items {
		if i > 0 {
			b.write(" " + g.op + " ")
		}
		c.render(b, true)
	}
	if nested {
		b.write(")")
	}
}

// And joins conditions with AND. Nil conditions are skipped; And of nothing
// is nil and And of one condition is that condition.
func And(conds ...Condition) Condition { return join("AND", conds) }

// Or joins conditions with OR, with the same nil handling as And.
func Or(conds ...Condition) Condition { return join("OR", conds) }

func join(op string, conds []Condition) Condition {
	items := make([]Condition, 0, len(conds))
	for _, c := range conds {
		if c != nil {
			items = append(items, c)
		}
	}
	switch len(items) {
	case 0:
		return nil
	case 1:
		return items[0]
	}
	return group{op: op, items: items}
}
