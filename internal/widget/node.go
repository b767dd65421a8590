package widget

import (
	"html"
	"sort"
	"strings"
)

// Node is one element of the rendered widget tree.
type Node struct {
	Tag      string
	ID       string
	Role     string
	TestID   string
	Classes  []string
	Attrs    map[string]string
	Text     string
	Children []*Node
}

func el(tag string, children ...*Node) *Node {
	return &Node{Tag: tag, Children: children}
}

func (n *Node) attr(k, v string) *Node {
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[k] = v
	return n
}

func (n *Node) append(children ...*Node) *Node {
	for _, c := range children {
		if c != nil {
			n.Children = append(n.Children, c)
		}
	}
	return n
}

// Find returns the first node, depth first, for which match is true.
func (n *Node) Find(match func(*Node) bool) *Node {
	if n == nil {
		return nil
	}
	if match(n) {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(match); found != nil {
			return found
		}
	}
	return nil
}

func (n *Node) ByID(id string) *Node {
	return n.Find(func(x *Node) bool { return x.ID == id })
}

func (n *Node) ByTestID(id string) *Node {
	return n.Find(func(x *Node) bool { return x.TestID == id })
}

func (n *Node) ByRole(role string) *Node {
	return n.Find(func(x *Node) bool { return x.Role == role })
}

// HasClass reports whether class is set on n.
func (n *Node) HasClass(class string) bool {
	if n == nil {
		return false
	}
	for _, c := range n.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// HTML serializes the tree. Attribute order is stable.
func (n *Node) HTML() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *Node) write(b *strings.Builder) {
	if n == nil {
		return
	}
	b.WriteString("<" + n.Tag)
	attrs := map[string]string{}
	for k, v := range n.Attrs {
		attrs[k] = v
	}
	if n.ID != "" {
		attrs["id"] = n.ID
	}
	if n.Role != "" {
		attrs["role"] = n.Role
	}
	if n.TestID != "" {
		attrs["data-testid"] = n.TestID
	}
	if len(n.Classes) > 0 {
		attrs["class"] = strings.Join(n.Classes, " ")
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" " + k + `="` + html.EscapeString(attrs[k]) + `"`)
	}
	b.WriteString(">")
	b.WriteString(html.EscapeString(n.Text))
	for _, c := range n.Children {
		c.write(b)
	}
	b.WriteString("</" + n.Tag + ">")
}
