package extension

import (
	"encoding/xml"
	"fmt"
	"io"
)

// DescriptorFile is the file name HiveMQ expects in every extension folder.
const DescriptorFile = "hivemq-extension.xml"

type descriptor struct {
	XMLName       xml.Name `xml:"hivemq-extension"`
	ID            string   `xml:"id"`
	Name          string   `xml:"name"`
	Version       string   `xml:"version"`
	Priority      int      `xml:"priority"`
	StartPriority int      `xml:"start-priority"`
}

// WriteDescriptor writes the hivemq-extension.xml document for ext.
func WriteDescriptor(w io.Writer, ext Extension) error {
	if err := ext.Validate(); err != nil {
		return err
	}
	d := descriptor{
		ID:            ext.ID,
		Name:          ext.Name,
		Version:       ext.Version,
		Priority:      ext.Priority,
		StartPriority: ext.StartPriority,
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "    ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode descriptor for %s: %w", ext.ID, err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// ReadDescriptor parses a hivemq-extension.xml document.
func ReadDescriptor(r io.Reader) (Extension, error) {
	var d descriptor
	if err := xml.NewDecoder(r).Decode(&d); err != nil {
		return Extension{}, fmt.Errorf("decode descriptor: %w", err)
	}
	ext := Extension{
		ID:            d.ID,
		Name:          d.Name,
		Version:       d.Version,
		Priority:      d.Priority,
		StartPriority: d.StartPriority,
	}
	return ext, ext.Validate()
}
