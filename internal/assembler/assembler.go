// Package assembler projects the schema index, the observation store, and
// the asset store into MTConnect document trees. Serialization to bytes is
// the HTTP layer's concern.
package assembler

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"

	"github.com/shopfloor/mtcagent/internal/asset"
	"github.com/shopfloor/mtcagent/internal/schema"
	"github.com/shopfloor/mtcagent/internal/store"
)

const DefaultVersion = "1.3"

// Selection restricts streams assembly to the chosen data items per device
// uuid. A nil Selection selects everything.
type Selection map[string]map[string]bool

func (s Selection) includes(uuid, dataItemID string) bool {
	if s == nil {
		return true
	}
	items, ok := s[uuid]
	if !ok {
		return false
	}
	return items[dataItemID]
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	Registry *schema.Registry
	Store    *store.Store
	Assets   *asset.Store

	// Sender is reported in every header, typically the hostname.
	Sender string

	// InstanceID distinguishes agent restarts to clients.
	InstanceID uint64

	// Version selects the MTConnect namespace revision.
	Version string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Assets == nil {
		return errors.New("asset store is required")
	}
	if c.Sender == "" {
		return errors.New("sender is required")
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	return nil
}

type Assembler struct {
	log *slog.Logger
	cfg *Config
}

func New(cfg *Config) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Assembler{log: cfg.Logger, cfg: cfg}, nil
}

func (a *Assembler) newDocument(kind string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("MTConnect" + kind)
	ns := fmt.Sprintf("urn:mtconnect.org:MTConnect%s:%s", kind, a.cfg.Version)
	root.CreateAttr("xmlns", ns)
	root.CreateAttr("xmlns:m", ns)
	root.CreateAttr("xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance")
	root.CreateAttr("xsi:schemaLocation",
		fmt.Sprintf("%s http://www.mtconnect.org/schemas/MTConnect%s_%s.xsd", ns, kind, a.cfg.Version))
	return doc, root
}

type headerInfo struct {
	first, last, next uint64
	withSequences     bool
	withAssets        bool
}

func (a *Assembler) header(parent *etree.Element, info headerInfo) {
	h := parent.CreateElement("Header")
	h.CreateAttr("creationTime", a.cfg.Clock.Now().UTC().Format(time.RFC3339))
	h.CreateAttr("sender", a.cfg.Sender)
	h.CreateAttr("instanceId", strconv.FormatUint(a.cfg.InstanceID, 10))
	h.CreateAttr("version", a.cfg.Version)
	h.CreateAttr("bufferSize", strconv.FormatUint(a.cfg.Store.Capacity(), 10))
	if info.withAssets {
		h.CreateAttr("assetBufferSize", strconv.Itoa(a.cfg.Assets.Capacity()))
		h.CreateAttr("assetCount", strconv.Itoa(a.cfg.Assets.Count()))
	}
	if info.withSequences {
		h.CreateAttr("firstSequence", strconv.FormatUint(info.first, 10))
		h.CreateAttr("lastSequence", strconv.FormatUint(info.last, 10))
		h.CreateAttr("nextSequence", strconv.FormatUint(info.next, 10))
	}
}

// Errors builds an MTConnectError document from one or more entries.
func (a *Assembler) Errors(errs ...*RequestError) *etree.Document {
	doc, root := a.newDocument("Error")
	a.header(root, headerInfo{})
	list := root.CreateElement("Errors")
	for _, e := range errs {
		el := list.CreateElement("Error")
		el.CreateAttr("errorCode", string(e.Code))
		el.SetText(e.Message)
	}
	return doc
}

// elementName converts a data item type (PATH_FEEDRATE) to its observation
// element name (PathFeedrate).
func elementName(typ string) string {
	parts := strings.Split(strings.ToLower(typ), "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// conditionElementName maps a condition level to its element name.
func conditionElementName(level string) string {
	switch level {
	case store.LevelNormal:
		return "Normal"
	case store.LevelWarning:
		return "Warning"
	case store.LevelFault:
		return "Fault"
	default:
		return "Unavailable"
	}
}
