package assembler

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/shopfloor/mtcagent/internal/schema"
)

// Probe builds an MTConnectDevices document describing the schema of the
// listed devices.
func (a *Assembler) Probe(uuids []string) (*etree.Document, error) {
	doc, root := a.newDocument("Devices")
	a.header(root, headerInfo{withAssets: true})
	devices := root.CreateElement("Devices")

	for _, uuid := range uuids {
		d, ok := a.cfg.Registry.Device(uuid)
		if !ok {
			return nil, &RequestError{Code: CodeNoDevice, Message: fmt.Sprintf("Could not find device %s", uuid)}
		}
		el := devices.CreateElement("Device")
		el.CreateAttr("id", d.ID)
		el.CreateAttr("name", d.Name)
		el.CreateAttr("uuid", d.UUID)
		appendDataItems(el, d.DataItems)
		appendComponents(el, d.Components)
	}
	return doc, nil
}

func appendComponents(parent *etree.Element, components []*schema.Component) {
	if len(components) == 0 {
		return
	}
	container := parent.CreateElement("Components")
	for _, c := range components {
		el := container.CreateElement(c.Type)
		el.CreateAttr("id", c.ID)
		if c.Name != "" {
			el.CreateAttr("name", c.Name)
		}
		appendDataItems(el, c.DataItems)
		appendComponents(el, c.Components)
	}
}

func appendDataItems(parent *etree.Element, items []*schema.DataItem) {
	if len(items) == 0 {
		return
	}
	container := parent.CreateElement("DataItems")
	for _, di := range items {
		el := container.CreateElement("DataItem")
		el.CreateAttr("category", string(di.Category))
		el.CreateAttr("id", di.ID)
		if di.Name != "" {
			el.CreateAttr("name", di.Name)
		}
		el.CreateAttr("type", di.Type)
		if di.SubType != "" {
			el.CreateAttr("subType", di.SubType)
		}
		if di.Units != "" {
			el.CreateAttr("units", di.Units)
		}
		if di.NativeUnits != "" {
			el.CreateAttr("nativeUnits", di.NativeUnits)
		}
	}
}
