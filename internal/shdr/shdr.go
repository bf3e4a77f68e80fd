// Package shdr parses the pipe-delimited SHDR line protocol spoken by
// machine-tool adapters into timestamped data-item updates and asset
// commands.
package shdr

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopfloor/mtcagent/internal/schema"
)

const conditionArity = 5

var (
	ErrBadTimestamp = errors.New("malformed timestamp")
	ErrTruncated    = errors.New("truncated line")
)

// Resolver looks up the category of a data-item key (name or id) on a
// device. Implemented by schema.Registry.
type Resolver interface {
	DataItem(uuid, nameOrID string) (*schema.DataItem, bool)
}

// Item is one parsed data-item update. Values has one entry for EVENT and
// SAMPLE keys and five (level, nativeCode, nativeSeverity, qualifier,
// message) for CONDITION keys.
type Item struct {
	DataItem *schema.DataItem
	Key      string
	Values   []string
}

// AssetOp identifies one of the reserved asset commands.
type AssetOp int

const (
	AssetUpsert AssetOp = iota
	AssetUpdate
	AssetRemove
)

// Patch is one key/value pair of an @UPDATE_ASSET@ command.
type Patch struct {
	Key   string
	Value string
}

// AssetCommand is a parsed @ASSET@, @UPDATE_ASSET@, or @REMOVE_ASSET@
// directive.
type AssetCommand struct {
	Op      AssetOp
	AssetID string
	Type    string
	XML     string
	Patches []Patch
}

// Line is the parsed form of one SHDR line.
type Line struct {
	Timestamp    time.Time
	TimestampRaw string
	Items        []Item
	Assets       []AssetCommand
}

// Parser converts SHDR text lines for a device into Line values. Unknown
// keys are skipped and logged; structural failures discard the whole line.
// Parse never panics across the ingest boundary.
type Parser struct {
	log      *slog.Logger
	resolver Resolver
}

func NewParser(log *slog.Logger, resolver Resolver) *Parser {
	return &Parser{log: log, resolver: resolver}
}

// Timestamp layouts accepted from adapters. Some adapters omit the zone
// designator; those times are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}

// Parse parses one SHDR line originating from the device with the given
// uuid.
func (p *Parser) Parse(uuid, raw string) (Line, error) {
	raw = strings.TrimRight(raw, "\r\n")
	fields := strings.Split(raw, "|")
	if len(fields) < 2 {
		return Line{}, fmt.Errorf("%w: %q", ErrTruncated, raw)
	}

	ts, err := parseTimestamp(fields[0])
	if err != nil {
		return Line{}, err
	}
	line := Line{Timestamp: ts, TimestampRaw: fields[0]}

	i := 1
	for i < len(fields) {
		key := fields[i]
		i++

		switch key {
		case "@ASSET@":
			cmd, err := parseAssetUpsert(fields[i:])
			if err != nil {
				return Line{}, err
			}
			line.Assets = append(line.Assets, cmd)
			return line, nil // XML blob consumes the remainder of the line
		case "@UPDATE_ASSET@":
			cmd, err := parseAssetUpdate(fields[i:])
			if err != nil {
				return Line{}, err
			}
			line.Assets = append(line.Assets, cmd)
			return line, nil
		case "@REMOVE_ASSET@":
			if i >= len(fields) || fields[i] == "" {
				return Line{}, fmt.Errorf("%w: @REMOVE_ASSET@ without asset id", ErrTruncated)
			}
			line.Assets = append(line.Assets, AssetCommand{Op: AssetRemove, AssetID: fields[i]})
			i++
			continue
		}

		if key == "" {
			continue
		}

		di, ok := p.resolver.DataItem(uuid, key)
		if !ok {
			p.log.Warn("skipping unknown data item key", "device", uuid, "key", key)
			i++ // assume scalar arity for the unknown key's value
			continue
		}

		arity := 1
		if di.Category == schema.CategoryCondition {
			arity = conditionArity
		}
		if i+arity > len(fields) {
			return Line{}, fmt.Errorf("%w: key %q wants %d values, %d left", ErrTruncated, key, arity, len(fields)-i)
		}
		values := make([]string, arity)
		copy(values, fields[i:i+arity])
		i += arity

		line.Items = append(line.Items, Item{DataItem: di, Key: key, Values: values})
	}
	return line, nil
}

func parseAssetUpsert(fields []string) (AssetCommand, error) {
	if len(fields) < 3 {
		return AssetCommand{}, fmt.Errorf("%w: @ASSET@ wants id, type, xml", ErrTruncated)
	}
	return AssetCommand{
		Op:      AssetUpsert,
		AssetID: fields[0],
		Type:    fields[1],
		XML:     strings.Join(fields[2:], "|"),
	}, nil
}

func parseAssetUpdate(fields []string) (AssetCommand, error) {
	if len(fields) < 3 || (len(fields)-1)%2 != 0 {
		return AssetCommand{}, fmt.Errorf("%w: @UPDATE_ASSET@ wants id and key/value pairs", ErrTruncated)
	}
	cmd := AssetCommand{Op: AssetUpdate, AssetID: fields[0]}
	for i := 1; i < len(fields); i += 2 {
		cmd.Patches = append(cmd.Patches, Patch{Key: fields[i], Value: fields[i+1]})
	}
	return cmd, nil
}
