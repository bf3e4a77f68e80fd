package schema

import (
	"fmt"
	"io"

	"github.com/beevik/etree"
)

// Non-component children of a Device or Component element.
var nonComponentChildren = map[string]bool{
	"DataItems":     true,
	"DataItem":      true,
	"Description":   true,
	"Configuration": true,
	"Compositions":  true,
	"References":    true,
	"Components":    true,
}

// LoadDevices parses an MTConnect Devices document into schema values. The
// reader must contain a single MTConnectDevices element with a Devices child.
func LoadDevices(r io.Reader) ([]*Device, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("failed to parse devices document: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "MTConnectDevices" {
		return nil, fmt.Errorf("devices document root must be MTConnectDevices")
	}
	devices := root.FindElement("Devices")
	if devices == nil {
		return nil, fmt.Errorf("devices document has no Devices element")
	}

	var out []*Device
	for _, el := range devices.SelectElements("Device") {
		d, err := parseDevice(el)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("devices document declares no devices")
	}
	return out, nil
}

func parseDevice(el *etree.Element) (*Device, error) {
	d := &Device{
		UUID: el.SelectAttrValue("uuid", ""),
		Name: el.SelectAttrValue("name", ""),
		ID:   el.SelectAttrValue("id", ""),
	}
	if d.UUID == "" {
		return nil, fmt.Errorf("device %q has no uuid", d.Name)
	}
	var err error
	d.DataItems, err = parseDataItems(el, d.UUID)
	if err != nil {
		return nil, err
	}
	d.Components, err = parseComponents(el, d.UUID)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func parseComponents(parent *etree.Element, uuid string) ([]*Component, error) {
	var out []*Component
	container := parent.SelectElement("Components")
	if container == nil {
		return nil, nil
	}
	for _, el := range container.ChildElements() {
		if nonComponentChildren[el.Tag] {
			continue
		}
		c := &Component{
			ID:   el.SelectAttrValue("id", ""),
			Name: el.SelectAttrValue("name", ""),
			Type: el.Tag,
		}
		var err error
		c.DataItems, err = parseDataItems(el, uuid)
		if err != nil {
			return nil, err
		}
		c.Components, err = parseComponents(el, uuid)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func parseDataItems(parent *etree.Element, uuid string) ([]*DataItem, error) {
	container := parent.SelectElement("DataItems")
	if container == nil {
		return nil, nil
	}
	var out []*DataItem
	for _, el := range container.SelectElements("DataItem") {
		di := &DataItem{
			ID:          el.SelectAttrValue("id", ""),
			Name:        el.SelectAttrValue("name", ""),
			Type:        el.SelectAttrValue("type", ""),
			SubType:     el.SelectAttrValue("subType", ""),
			Units:       el.SelectAttrValue("units", ""),
			NativeUnits: el.SelectAttrValue("nativeUnits", ""),
		}
		switch cat := el.SelectAttrValue("category", ""); cat {
		case "EVENT":
			di.Category = CategoryEvent
		case "SAMPLE":
			di.Category = CategorySample
		case "CONDITION":
			di.Category = CategoryCondition
		default:
			return nil, fmt.Errorf("device %s data item %q has unknown category %q", uuid, di.ID, cat)
		}
		if di.ID == "" {
			return nil, fmt.Errorf("device %s has a data item without an id", uuid)
		}
		out = append(out, di)
	}
	return out, nil
}
