package rules

// Evaluate reports whether p holds for answers. It never panics: missing
// fields read as absent, unknown operators and nil predicates are false.
func Evaluate(p Predicate, answers Answers) bool {
	return evaluate(p, answers, NopTraceSink{})
}

// evaluate checks combinators before leaves. And and Or short-circuit.
func evaluate(p Predicate, answers Answers, sink TraceSink) bool {
	switch n := node(p).(type) {
	case And:
		for _, child := range n.Children {
			if !evaluate(child, answers, sink) {
				return false
			}
		}
		return true
	case Or:
		for _, child := range n.Children {
			if evaluate(child, answers, sink) {
				return true
			}
		}
		return false
	case Leaf:
		return evaluateLeaf(n, answers, sink)
	case Expr:
		return n.eval(answers)
	}
	return false
}

func evaluateLeaf(l Leaf, answers Answers, sink TraceSink) bool {
	stored := answers[l.Field]

	switch l.Operator {
	case OpEquals:
		return strictEquals(stored, l.Value)
	case OpNotEquals:
		return !strictEquals(stored, l.Value)
	case OpContains:
		return contains(stored, l.Value)
	case OpNotContains:
		return !contains(stored, l.Value)
	case OpGreaterThan:
		return jsNumber(stored) > jsNumber(l.Value)
	case OpLessThan:
		return jsNumber(stored) < jsNumber(l.Value)
	case OpGreaterEqual:
		return jsNumber(stored) >= jsNumber(l.Value)
	case OpLessEqual:
		return jsNumber(stored) <= jsNumber(l.Value)
	case OpExists:
		return exists(stored)
	case OpNotExists:
		return !exists(stored)
	}

	sink.UnknownOperator(l)
	return false
}

// node dereferences pointer variants so callers can switch on values only.
// A nil pointer yields nil.
func node(p Predicate) Predicate {
	switch n := p.(type) {
	case *Leaf:
		if n == nil {
			return nil
		}
		return *n
	case *And:
		if n == nil {
			return nil
		}
		return *n
	case *Or:
		if n == nil {
			return nil
		}
		return *n
	case *Expr:
		if n == nil {
			return nil
		}
		return *n
	}
	return p
}

// walk visits every node of p depth first
func walk(p Predicate, visit func(Predicate)) {
	n := node(p)
	visit(n)
	switch c := n.(type) {
	case And:
		for _, child := range c.Children {
			walk(child, visit)
		}
	case Or:
		for _, child := range c.Children {
			walk(child, visit)
		}
	}
}

// Fields lists the answer fields referenced by leaves anywhere in p, in
// first-seen order.
func Fields(p Predicate) []string {
	var fields []string
	seen := make(map[string]bool)
	walk(p, func(n Predicate) {
		if l, ok := n.(Leaf); ok && !seen[l.Field] {
			seen[l.Field] = true
			fields = append(fields, l.Field)
		}
	})
	return fields
}
