package rules

// Condition constructors

func Equals(field string, value any) Leaf {
	return Leaf{Field: field, Operator: OpEquals, Value: value}
}

func NotEquals(field string, value any) Leaf {
	return Leaf{Field: field, Operator: OpNotEquals, Value: value}
}

func Contains(field string, value any) Leaf {
	return Leaf{Field: field, Operator: OpContains, Value: value}
}

func NotContains(field string, value any) Leaf {
	return Leaf{Field: field, Operator: OpNotContains, Value: value}
}

func GreaterThan(field string, value any) Leaf {
	return Leaf{Field: field, Operator: OpGreaterThan, Value: value}
}

func LessThan(field string, value any) Leaf {
	return Leaf{Field: field, Operator: OpLessThan, Value: value}
}

func GreaterEqual(field string, value any) Leaf {
	return Leaf{Field: field, Operator: OpGreaterEqual, Value: value}
}

func LessEqual(field string, value any) Leaf {
	return Leaf{Field: field, Operator: OpLessEqual, Value: value}
}

func Exists(field string) Leaf {
	return Leaf{Field: field, Operator: OpExists}
}

func NotExists(field string) Leaf {
	return Leaf{Field: field, Operator: OpNotExists}
}

func All(children ...Predicate) And {
	return And{Children: children}
}

func Any(children ...Predicate) Or {
	return Or{Children: children}
}

var negations = map[Operator]Operator{
	OpEquals:      OpNotEquals,
	OpNotEquals:   OpEquals,
	OpContains:    OpNotContains,
	OpNotContains: OpContains,
	OpExists:      OpNotExists,
	OpNotExists:   OpExists,
}

// Negate returns the leaf with its operator swapped for the explicit
// counterpart. Ordering operators have none (NaN makes both sides false),
// so ok is false for them.
func Negate(l Leaf) (Leaf, bool) {
	op, ok := negations[l.Operator]
	if !ok {
		return l, false
	}
	l.Operator = op
	return l, true
}
