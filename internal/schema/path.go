package schema

import (
	"errors"
	"fmt"
	"strings"
)

// The agent accepts a restricted XPath subset for the path= query parameter:
// a sequence of descendant steps, each naming a component element or
// DataItem (or * for any element), with optional attribute-equality
// predicates:
//
//	//DataItem[@type="AVAILABILITY"]
//	//Axes//DataItem[@category="SAMPLE"]
//	//Linear[@name="X"]//DataItem
//	//*[@category="CONDITION"]
//
// Only //-steps and [@attr="value"] predicates are recognized.

var ErrInvalidPath = errors.New("invalid path expression")

type pathPred struct {
	attr  string
	value string
}

type pathStep struct {
	name  string
	preds []pathPred
}

// Path is a parsed, immutable path expression.
type Path struct {
	expr  string
	steps []pathStep
}

func (p *Path) String() string { return p.expr }

// ParsePath parses a restricted XPath expression.
func ParsePath(expr string) (*Path, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidPath)
	}
	rest := expr
	var steps []pathStep
	for rest != "" {
		if !strings.HasPrefix(rest, "//") {
			return nil, fmt.Errorf("%w: %q: step must begin with //", ErrInvalidPath, expr)
		}
		rest = rest[2:]
		i := strings.IndexAny(rest, "/[")
		var name string
		if i < 0 {
			name, rest = rest, ""
		} else {
			name, rest = rest[:i], rest[i:]
		}
		if name == "" || (name != "*" && !isName(name)) {
			return nil, fmt.Errorf("%w: %q: bad element name", ErrInvalidPath, expr)
		}
		step := pathStep{name: name}
		for strings.HasPrefix(rest, "[") {
			end := strings.Index(rest, "]")
			if end < 0 {
				return nil, fmt.Errorf("%w: %q: unterminated predicate", ErrInvalidPath, expr)
			}
			pred, err := parsePred(rest[1:end])
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPath, expr, err)
			}
			step.preds = append(step.preds, pred)
			rest = rest[end+1:]
		}
		steps = append(steps, step)
	}
	return &Path{expr: expr, steps: steps}, nil
}

func parsePred(s string) (pathPred, error) {
	if !strings.HasPrefix(s, "@") {
		return pathPred{}, errors.New("predicate must test an attribute")
	}
	attr, val, ok := strings.Cut(s[1:], "=")
	if !ok {
		return pathPred{}, errors.New("predicate must be an equality test")
	}
	if !isName(attr) {
		return pathPred{}, errors.New("bad attribute name")
	}
	if len(val) < 2 || (val[0] != '"' && val[0] != '\'') || val[len(val)-1] != val[0] {
		return pathPred{}, errors.New("predicate value must be quoted")
	}
	return pathPred{attr: attr, value: val[1 : len(val)-1]}, nil
}

func isName(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == ':':
		default:
			return false
		}
	}
	return s != ""
}

// pathNode adapts the schema tree to element-name/attribute matching.
type pathNode struct {
	name     string
	attrs    map[string]string
	children []pathNode
	dataItem *DataItem
}

func deviceNode(d *Device) pathNode {
	n := pathNode{
		name:  "Device",
		attrs: map[string]string{"id": d.ID, "name": d.Name, "uuid": d.UUID},
	}
	for _, di := range d.DataItems {
		n.children = append(n.children, dataItemNode(di))
	}
	for _, c := range d.Components {
		n.children = append(n.children, componentNode(c))
	}
	return n
}

func componentNode(c *Component) pathNode {
	n := pathNode{
		name:  c.Type,
		attrs: map[string]string{"id": c.ID, "name": c.Name},
	}
	for _, di := range c.DataItems {
		n.children = append(n.children, dataItemNode(di))
	}
	for _, child := range c.Components {
		n.children = append(n.children, componentNode(child))
	}
	return n
}

func dataItemNode(di *DataItem) pathNode {
	return pathNode{
		name: "DataItem",
		attrs: map[string]string{
			"id":       di.ID,
			"name":     di.Name,
			"type":     di.Type,
			"subType":  di.SubType,
			"category": string(di.Category),
		},
		dataItem: di,
	}
}

func (s pathStep) matches(n pathNode) bool {
	if s.name != "*" && s.name != n.name {
		return false
	}
	for _, p := range s.preds {
		if n.attrs[p.attr] != p.value {
			return false
		}
	}
	return true
}

// collect gathers data items selected by steps, searching descendants of n.
func collect(n pathNode, steps []pathStep, out map[string]*DataItem) {
	for _, child := range n.children {
		if steps[0].matches(child) {
			if len(steps) == 1 {
				if child.dataItem != nil {
					out[child.dataItem.ID] = child.dataItem
				}
			} else {
				collect(child, steps[1:], out)
			}
		}
		// Descendant steps match at any depth.
		collect(child, steps, out)
	}
}

// Filter returns the set of data item ids on the device selected by the
// path. Component-only paths select nothing.
func (r *Registry) Filter(p *Path, uuid string) (map[string]*DataItem, error) {
	d, ok := r.Device(uuid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, uuid)
	}
	out := make(map[string]*DataItem)
	root := deviceNode(d)
	if p.steps[0].matches(root) {
		if len(p.steps) > 1 {
			collect(root, p.steps[1:], out)
		}
	}
	collect(root, p.steps, out)
	return out, nil
}

// PathValidation reports whether the path selects at least one data item on
// any of the listed devices.
func (r *Registry) PathValidation(p *Path, uuids []string) bool {
	for _, uuid := range uuids {
		items, err := r.Filter(p, uuid)
		if err == nil && len(items) > 0 {
			return true
		}
	}
	return false
}
