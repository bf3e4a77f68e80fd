package assembler

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/shopfloor/mtcagent/internal/asset"
)

// AssetsByID builds an MTConnectAssets document for explicitly requested
// asset ids. A missing id is a single-error response.
func (a *Assembler) AssetsByID(ids []string) (*etree.Document, error) {
	assets := make([]asset.Asset, 0, len(ids))
	for _, id := range ids {
		found, ok := a.cfg.Assets.Get(id)
		if !ok {
			return nil, &RequestError{Code: CodeAssetNotFound, Message: fmt.Sprintf("Could not find asset %s", id)}
		}
		assets = append(assets, found)
	}
	return a.assetsDocument(assets), nil
}

// Assets builds an MTConnectAssets document listing live assets, newest
// first, optionally filtered by type and capped by count.
func (a *Assembler) Assets(assetType string, count int) *etree.Document {
	return a.assetsDocument(a.cfg.Assets.List(assetType, count))
}

func (a *Assembler) assetsDocument(assets []asset.Asset) *etree.Document {
	doc, root := a.newDocument("Assets")
	a.header(root, headerInfo{withAssets: true})
	container := root.CreateElement("Assets")
	for _, item := range assets {
		el := item.Root.Copy()
		setAttr(el, "assetId", item.AssetID)
		setAttr(el, "timestamp", item.Timestamp)
		if item.DeviceUUID != "" {
			setAttr(el, "deviceUuid", item.DeviceUUID)
		}
		if item.Removed {
			setAttr(el, "removed", "true")
		}
		container.AddChild(el)
	}
	return doc
}

func setAttr(el *etree.Element, key, value string) {
	el.RemoveAttr(key)
	el.CreateAttr(key, value)
}
