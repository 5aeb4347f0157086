package gml

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

const maxDepth = 128

// GML namespace URIs seen across the national and county services.
var gmlNamespaces = map[string]bool{
	"http://www.opengis.net/gml":     true,
	"http://www.opengis.net/gml/3.2": true,
	"gml":                            true,
}

// node is a minimal in-memory XML element.
type node struct {
	name     xml.Name
	attrs    []xml.Attr
	text     []byte
	children []*node
}

func (n *node) local() string { return n.name.Local }

func (n *node) value() string { return strings.TrimSpace(string(n.text)) }

func (n *node) leaf() bool { return len(n.children) == 0 }

func (n *node) inGML() bool { return gmlNamespaces[n.name.Space] }

func (n *node) attr(local string) string {
	for _, a := range n.attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// walk visits n and its descendants depth-first. Returning false from fn
// skips the node's subtree.
func (n *node) walk(fn func(*node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.walk(fn)
	}
}

// newDecoder returns an XML decoder that honours the declared document
// charset (ISO-8859-2, windows-1250 and friends).
func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "gml: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	return dec
}

// parseTree builds the element tree for data. Only the first root element is
// kept.
func parseTree(data []byte) (*node, error) {
	dec := newDecoder(bytes.NewReader(data))

	var root *node
	var stack []*node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "gml: read token")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) >= maxDepth {
				return nil, eris.Errorf("gml: document deeper than %d elements", maxDepth)
			}
			n := &node{name: t.Name, attrs: t.Attr}
			switch {
			case len(stack) > 0:
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			case root == nil:
				root = n
			default:
				return root, nil
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.text = append(top.text, t...)
			}
		}
	}

	if root == nil {
		return nil, eris.New("gml: empty document")
	}
	return root, nil
}
