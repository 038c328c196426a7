// Package resultfile reads and writes the XML result document. The document
// is a generic element tree: every benchmark renders its own element and
// restores itself from one, so this package knows nothing about benchmarks.
package resultfile

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Element names shared by the writer and the readers.
const (
	RootName    = "Results"
	DocTypeName = "HddTest"
	ValidAttr   = "valid"
)

// Attr is a single name/value attribute. Order is preserved on output.
type Attr struct {
	Name  string
	Value string
}

// Element is a node of the result document.
type Element struct {
	Name     string
	Attrs    []Attr
	Children []*Element
}

// NewElement creates an empty element.
func NewElement(name string) *Element {
	return &Element{Name: name}
}

// Append adds children in order and returns e for chaining.
func (e *Element) Append(children ...*Element) *Element {
	for _, c := range children {
		if c != nil {
			e.Children = append(e.Children, c)
		}
	}

	return e
}

// Set assigns a string attribute, replacing an existing one.
func (e *Element) Set(name, value string) *Element {
	for i := range e.Attrs {
		if e.Attrs[i].Name == name {
			e.Attrs[i].Value = value
			return e
		}
	}

	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})

	return e
}

// SetInt assigns an integer attribute.
func (e *Element) SetInt(name string, v int64) *Element {
	return e.Set(name, strconv.FormatInt(v, 10))
}

// SetFloat assigns a float attribute using the shortest exact form.
func (e *Element) SetFloat(name string, v float64) *Element {
	return e.Set(name, strconv.FormatFloat(v, 'g', -1, 64))
}

// SetBool assigns a "1"/"0" attribute.
func (e *Element) SetBool(name string, v bool) *Element {
	if v {
		return e.Set(name, "1")
	}

	return e.Set(name, "0")
}

// SetValid assigns the valid="yes"/"no" completion flag.
func (e *Element) SetValid(valid bool) *Element {
	if valid {
		return e.Set(ValidAttr, "yes")
	}

	return e.Set(ValidAttr, "no")
}

// Get returns an attribute value, or def when missing.
func (e *Element) Get(name, def string) string {
	if e == nil {
		return def
	}

	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value
		}
	}

	return def
}

// Int returns an integer attribute, or def when missing or malformed.
// Values written as floats are truncated.
func (e *Element) Int(name string, def int64) int64 {
	raw := e.Get(name, "")
	if raw == "" {
		return def
	}

	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v
	}

	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return int64(f)
	}

	return def
}

// Float returns a float attribute, or def when missing or malformed.
func (e *Element) Float(name string, def float64) float64 {
	f, err := strconv.ParseFloat(e.Get(name, ""), 64)
	if err != nil {
		return def
	}

	return f
}

// Bool returns true for "1", "true" or "yes".
func (e *Element) Bool(name string) bool {
	switch e.Get(name, "") {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// Valid reports whether the element carries valid="yes". Missing elements
// and missing flags count as invalid.
func (e *Element) Valid() bool {
	return e.Get(ValidAttr, "no") == "yes"
}

// FirstChild returns the first direct child with the given name, or nil.
func (e *Element) FirstChild(name string) *Element {
	if e == nil {
		return nil
	}

	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}

	return nil
}

// ChildrenNamed returns every direct child with the given name, in order.
func (e *Element) ChildrenNamed(name string) []*Element {
	if e == nil {
		return nil
	}

	var out []*Element

	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}

	return out
}

// MarshalXML implements xml.Marshaler.
func (e *Element) MarshalXML(enc *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: e.Name}
	start.Attr = make([]xml.Attr, 0, len(e.Attrs))

	for _, a := range e.Attrs {
		start.Attr = append(start.Attr, xml.Attr{
			Name:  xml.Name{Local: a.Name},
			Value: a.Value,
		})
	}

	if err := enc.EncodeToken(start); err != nil {
		return err
	}

	for _, c := range e.Children {
		if err := enc.Encode(c); err != nil {
			return err
		}
	}

	return enc.EncodeToken(start.End())
}

// UnmarshalXML implements xml.Unmarshaler. Character data is ignored.
func (e *Element) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	e.Name = start.Name.Local
	e.Attrs = e.Attrs[:0]

	for _, a := range start.Attr {
		e.Attrs = append(e.Attrs, Attr{Name: a.Name.Local, Value: a.Value})
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			child := &Element{}
			if err := child.UnmarshalXML(dec, t); err != nil {
				return err
			}

			e.Children = append(e.Children, child)

		case xml.EndElement:
			return nil
		}
	}
}

// Encode writes root as an indented XML document.
func Encode(w io.Writer, root *Element) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	if err := enc.EncodeToken(xml.Directive("DOCTYPE " + DocTypeName)); err != nil {
		return fmt.Errorf("write doctype: %w", err)
	}

	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("write trailer: %w", err)
	}

	return nil
}

// Decode parses a document and returns its root element. An empty document
// yields a nil root and no error; callers treat that as "nothing to restore".
func Decode(r io.Reader) (*Element, error) {
	dec := xml.NewDecoder(r)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}

		if err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}

		if start, ok := tok.(xml.StartElement); ok {
			root := &Element{}
			if err := root.UnmarshalXML(dec, start); err != nil {
				return nil, fmt.Errorf("decode %s: %w", start.Name.Local, err)
			}

			return root, nil
		}
	}
}

// WriteFile encodes root into path, replacing any existing file.
func WriteFile(path string, root *Element) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := Encode(f, root); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	return nil
}

// ReadFile decodes the document stored at path.
func ReadFile(path string) (*Element, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return Decode(f)
}
