package assembler

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/beevik/etree"

	"github.com/shopfloor/mtcagent/internal/schema"
	"github.com/shopfloor/mtcagent/internal/store"
)

// componentBucket accumulates observation elements for one component
// stream, partitioned by category.
type componentBucket struct {
	owner     *schema.Component
	samples   []*etree.Element
	events    []*etree.Element
	condition []*etree.Element
}

func (b *componentBucket) add(category schema.Category, el *etree.Element) {
	switch category {
	case schema.CategorySample:
		b.samples = append(b.samples, el)
	case schema.CategoryEvent:
		b.events = append(b.events, el)
	case schema.CategoryCondition:
		b.condition = append(b.condition, el)
	}
}

func (b *componentBucket) empty() bool {
	return len(b.samples) == 0 && len(b.events) == 0 && len(b.condition) == 0
}

// attach emits the ComponentStream element under the device stream, unless
// the bucket is empty.
func (b *componentBucket) attach(deviceStream *etree.Element, d *schema.Device) {
	if b.empty() {
		return
	}
	cs := deviceStream.CreateElement("ComponentStream")
	if b.owner == nil {
		cs.CreateAttr("component", "Device")
		cs.CreateAttr("name", d.Name)
		cs.CreateAttr("componentId", d.ID)
	} else {
		cs.CreateAttr("component", b.owner.Type)
		cs.CreateAttr("name", b.owner.Name)
		cs.CreateAttr("componentId", b.owner.ID)
	}
	group := func(tag string, els []*etree.Element) {
		if len(els) == 0 {
			return
		}
		g := cs.CreateElement(tag)
		for _, el := range els {
			g.AddChild(el)
		}
	}
	group("Samples", b.samples)
	group("Events", b.events)
	group("Condition", b.condition)
}

func valueElement(di *schema.DataItem, obs store.Observation) *etree.Element {
	el := etree.NewElement(elementName(di.Type))
	el.CreateAttr("dataItemId", di.ID)
	el.CreateAttr("timestamp", obs.Timestamp)
	if di.Name != "" {
		el.CreateAttr("name", di.Name)
	}
	el.CreateAttr("sequence", strconv.FormatUint(obs.Sequence, 10))
	if di.SubType != "" {
		el.CreateAttr("subType", di.SubType)
	}
	el.SetText(obs.Value)
	return el
}

func conditionElement(di *schema.DataItem, obs store.Observation) *etree.Element {
	c := obs.Condition
	el := etree.NewElement(conditionElementName(c.Level))
	el.CreateAttr("dataItemId", di.ID)
	el.CreateAttr("timestamp", obs.Timestamp)
	if di.Name != "" {
		el.CreateAttr("name", di.Name)
	}
	el.CreateAttr("sequence", strconv.FormatUint(obs.Sequence, 10))
	el.CreateAttr("type", di.Type)
	if c.NativeCode != "" {
		el.CreateAttr("nativeCode", c.NativeCode)
	}
	if c.NativeSeverity != "" {
		el.CreateAttr("nativeSeverity", c.NativeSeverity)
	}
	if c.Qualifier != "" {
		el.CreateAttr("qualifier", c.Qualifier)
	}
	if c.Message != "" {
		el.SetText(c.Message)
	}
	return el
}

// Current builds an MTConnectStreams document carrying the latest value of
// every selected data item. A non-nil at reconstructs the snapshot at that
// sequence.
func (a *Assembler) Current(uuids []string, sel Selection, at *uint64) (*etree.Document, error) {
	var snap store.Snapshot
	if at != nil {
		var err error
		snap, err = a.cfg.Store.CurrentAt(*at)
		var rangeErr *store.RangeError
		if err != nil {
			if errors.As(err, &rangeErr) {
				return nil, &RequestError{Code: CodeOutOfRange, Message: rangeErr.Message}
			}
			return nil, err
		}
	} else {
		snap = a.cfg.Store.Current()
	}

	doc, root := a.newDocument("Streams")
	a.header(root, headerInfo{first: snap.First, last: snap.Last, next: snap.Last + 1, withSequences: true})
	streams := root.CreateElement("Streams")

	for _, uuid := range uuids {
		d, ok := a.cfg.Registry.Device(uuid)
		if !ok {
			return nil, &RequestError{Code: CodeNoDevice, Message: fmt.Sprintf("Could not find device %s", uuid)}
		}
		ds := deviceStream(streams, d)
		walk, err := a.cfg.Registry.Walk(uuid)
		if err != nil {
			return nil, err
		}
		for _, ci := range walk {
			bucket := componentBucket{owner: ci.Component}
			for _, di := range ci.DataItems {
				if !sel.includes(uuid, di.ID) {
					continue
				}
				key := store.Key{DeviceUUID: uuid, DataItemID: di.ID}
				if di.Category == schema.CategoryCondition {
					active := snap.Conditions[key]
					if len(active) == 0 {
						// A cleared item reports a single Normal sourced
						// from its latest observation.
						if obs, ok := snap.Current[key]; ok {
							normal := obs
							normal.Condition = &store.Condition{Level: store.LevelNormal}
							bucket.add(di.Category, conditionElement(di, normal))
						}
						continue
					}
					for _, entry := range active {
						bucket.add(di.Category, conditionElement(di, entry))
					}
					continue
				}
				if obs, ok := snap.Current[key]; ok {
					bucket.add(di.Category, valueElement(di, obs))
				}
			}
			bucket.attach(ds, d)
		}
	}
	return doc, nil
}

// Sample builds an MTConnectStreams document carrying the buffer slice
// [from, from+count) for the selected data items, preserving buffer order.
func (a *Assembler) Sample(uuids []string, sel Selection, from uint64, count int) (*etree.Document, uint64, error) {
	res, err := a.cfg.Store.Sample(from, count)
	if err != nil {
		var rangeErr *store.RangeError
		if errors.As(err, &rangeErr) {
			return nil, 0, &RequestError{Code: CodeOutOfRange, Message: rangeErr.Message}
		}
		return nil, 0, err
	}

	doc, root := a.newDocument("Streams")
	a.header(root, headerInfo{first: res.First, last: res.Last, next: res.Next, withSequences: true})
	streams := root.CreateElement("Streams")

	for _, uuid := range uuids {
		d, ok := a.cfg.Registry.Device(uuid)
		if !ok {
			return nil, 0, &RequestError{Code: CodeNoDevice, Message: fmt.Sprintf("Could not find device %s", uuid)}
		}
		ds := deviceStream(streams, d)
		walk, err := a.cfg.Registry.Walk(uuid)
		if err != nil {
			return nil, 0, err
		}

		buckets := make([]componentBucket, len(walk))
		itemBucket := make(map[string]int)
		items := make(map[string]*schema.DataItem)
		for i, ci := range walk {
			buckets[i].owner = ci.Component
			for _, di := range ci.DataItems {
				itemBucket[di.ID] = i
				items[di.ID] = di
			}
		}

		for _, obs := range res.Observations {
			if obs.DeviceUUID != uuid || !sel.includes(uuid, obs.DataItemID) {
				continue
			}
			i, ok := itemBucket[obs.DataItemID]
			if !ok {
				continue
			}
			di := items[obs.DataItemID]
			if di.Category == schema.CategoryCondition {
				buckets[i].add(di.Category, conditionElement(di, obs))
			} else {
				buckets[i].add(di.Category, valueElement(di, obs))
			}
		}
		for i := range buckets {
			buckets[i].attach(ds, d)
		}
	}
	return doc, res.Next, nil
}

func deviceStream(streams *etree.Element, d *schema.Device) *etree.Element {
	ds := streams.CreateElement("DeviceStream")
	ds.CreateAttr("name", d.Name)
	ds.CreateAttr("uuid", d.UUID)
	return ds
}
