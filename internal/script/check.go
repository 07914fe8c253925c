package script

import "fmt"

// Check validates a parsed program: loop control outside loops, 'return'
// outside a function, duplicate parameters and assignment targets. The first
// violation is returned as a DiagCheck *Error.
func Check(root S) error {
	c := &checker{}
	return c.node(root)
}

type checker struct {
	loops int
	funs  int
	line  int
	col   int
}

func (c *checker) fail(format string, args ...any) error {
	return &Error{Kind: DiagCheck, Line: c.line, Col: c.col, Msg: fmt.Sprintf(format, args...)}
}

func (c *checker) node(n S) error {
	if len(n) == 0 {
		return c.fail("empty node")
	}
	tag, _ := n[0].(string)
	switch tag {
	case "pos":
		line, _ := n[1].(int64)
		col, _ := n[2].(int64)
		c.line, c.col = int(line), int(col)
		return c.node(n[3].(S))
	case "block", "list", "call", "binop", "unop", "and", "or", "idx", "get",
		"pair", "map", "arm", "else", "if", "import", "def":
		return c.children(n[1:])
	case "return":
		if c.funs == 0 {
			return c.fail("'return' outside of a function")
		}
		return c.children(n[1:])
	case "assign":
		target := n[1].(S)
		switch target[0] {
		case "id", "get", "idx":
		default:
			return c.fail("invalid assignment target")
		}
		return c.children(n[1:])
	case "while":
		if err := c.node(n[1].(S)); err != nil {
			return err
		}
		c.loops++
		defer func() { c.loops-- }()
		return c.node(n[2].(S))
	case "for":
		if err := c.node(n[2].(S)); err != nil {
			return err
		}
		c.loops++
		defer func() { c.loops-- }()
		return c.node(n[3].(S))
	case "fun":
		seen := map[string]bool{}
		for _, p := range n[2].(S)[1:] {
			name := p.(string)
			if seen[name] {
				return c.fail("duplicate parameter %q", name)
			}
			seen[name] = true
		}
		// loops do not extend into nested functions
		savedLoops := c.loops
		c.loops = 0
		c.funs++
		defer func() { c.loops = savedLoops; c.funs-- }()
		return c.node(n[3].(S))
	case "break", "continue":
		if c.loops == 0 {
			return c.fail("'%s' outside of a loop", tag)
		}
		return nil
	case "id", "int", "num", "str", "bool", "null":
		return nil
	}
	return c.fail("unknown node %q", tag)
}

func (c *checker) children(parts []any) error {
	for _, p := range parts {
		if s, ok := p.(S); ok {
			if err := c.node(s); err != nil {
				return err
			}
		}
	}
	return nil
}
