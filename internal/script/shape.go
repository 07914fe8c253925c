package script

import "fmt"

// Node layouts by tag. Codes: n node, s string, i int64, f float64, b bool;
// a trailing '*' repeats the previous code zero or more times.
var layouts = map[string]string{
	"pos":      "iin",
	"block":    "n*",
	"id":       "s",
	"int":      "i",
	"num":      "f",
	"str":      "s",
	"bool":     "b",
	"null":     "",
	"list":     "n*",
	"map":      "n*",
	"pair":     "nn",
	"unop":     "sn",
	"binop":    "snn",
	"and":      "nn",
	"or":       "nn",
	"call":     "nn*",
	"get":      "ns",
	"idx":      "nn",
	"fun":      "snn",
	"params":   "s*",
	"def":      "sn",
	"import":   "ss",
	"if":       "nn*",
	"arm":      "nn",
	"else":     "n",
	"while":    "nn",
	"for":      "snn",
	"return":   "n",
	"break":    "",
	"continue": "",
	"assign":   "nn",
}

// ValidateShape reports whether every node in the tree has a known tag and
// the payload layout the interpreter expects. Trees produced by Parse always
// pass; it guards trees that come from storage.
func ValidateShape(root S) error {
	if len(root) == 0 || root[0] != "block" {
		return fmt.Errorf("root node must be a block")
	}
	return validateNode(root, 0)
}

const maxShapeDepth = 10000

func validateNode(n S, depth int) error {
	if depth > maxShapeDepth {
		return fmt.Errorf("tree nested too deeply")
	}
	if len(n) == 0 {
		return fmt.Errorf("empty node")
	}
	tag, ok := n[0].(string)
	if !ok {
		return fmt.Errorf("node tag is %T, want string", n[0])
	}
	layout, ok := layouts[tag]
	if !ok {
		return fmt.Errorf("unknown node tag %q", tag)
	}
	args := n[1:]
	i := 0
	for k := 0; k < len(layout); k++ {
		code := layout[k]
		repeat := k+1 < len(layout) && layout[k+1] == '*'
		for {
			if i >= len(args) {
				if repeat {
					break
				}
				return fmt.Errorf("%s: missing operand %d", tag, i+1)
			}
			if err := validateAtom(tag, code, args[i], depth); err != nil {
				return err
			}
			i++
			if !repeat {
				break
			}
		}
		if repeat {
			k++
		}
	}
	if i != len(args) {
		return fmt.Errorf("%s: %d operands, want %d", tag, len(args), i)
	}
	return validateChildren(tag, args)
}

func validateAtom(tag string, code byte, x any, depth int) error {
	var ok bool
	switch code {
	case 'n':
		var s S
		if s, ok = x.(S); ok {
			return validateNode(s, depth+1)
		}
	case 's':
		_, ok = x.(string)
	case 'i':
		_, ok = x.(int64)
	case 'f':
		_, ok = x.(float64)
	case 'b':
		_, ok = x.(bool)
	}
	if !ok {
		return fmt.Errorf("%s: unexpected operand of type %T", tag, x)
	}
	return nil
}

// validateChildren enforces the tag of structural children.
func validateChildren(tag string, args []any) error {
	want := func(x any, t string) error {
		if x.(S)[0] != t {
			return fmt.Errorf("%s: child %q, want %q", tag, x.(S)[0], t)
		}
		return nil
	}
	switch tag {
	case "map":
		for _, a := range args {
			if err := want(a, "pair"); err != nil {
				return err
			}
		}
	case "pair":
		return want(args[0], "str")
	case "fun":
		if err := want(args[1], "params"); err != nil {
			return err
		}
		return want(args[2], "block")
	case "def":
		return want(args[1], "fun")
	case "if":
		for i, a := range args {
			if i == len(args)-1 && a.(S)[0] == "else" && i > 0 {
				break
			}
			if err := want(a, "arm"); err != nil {
				return err
			}
		}
	case "arm", "while":
		return want(args[1], "block")
	case "else":
		return want(args[0], "block")
	case "for":
		return want(args[2], "block")
	}
	return nil
}
