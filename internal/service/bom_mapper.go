package service

import (
	"sort"

	"github.com/bitfantasy/nimo-bom/internal/bom"
	"github.com/bitfantasy/nimo-bom/internal/model/entity"
)

// toEntityItems 扁平化为行项，保留先序顺序
func toEntityItems(tree *bom.Tree) []entity.BOMItem {
	items := make([]entity.BOMItem, 0, tree.Len())
	tree.Walk(func(i int, n bom.Node) bool {
		items = append(items, entity.BOMItem{
			NodeID:                n.ID,
			ParentNodeID:          n.ParentID.String(),
			ItemCode:              n.ItemCode.String(),
			ItemDescription:       n.ItemDescription,
			MaterialConsideration: n.MaterialConsideration,
			Quantity:              n.Quantity,
			UOM:                   n.UOM,
			Rate:                  n.Rate,
			Currency:              n.Currency,
			Amount:                n.Amount,
			RollupCost:            n.RollupCost,
			Level:                 n.Level,
			Sequence:              tree.Sequence(i),
		})
		return true
	})
	return items
}

// toNodes 由行项还原嵌套树。兄弟节点按 sequence 排序
func toNodes(items []entity.BOMItem) []bom.Node {
	if len(items) == 0 {
		return []bom.Node{}
	}
	byNode := make(map[string]int, len(items))
	for i := range items {
		byNode[items[i].NodeID] = i
	}

	kids := make(map[int][]int, len(items))
	var roots []int
	for i := range items {
		p, ok := byNode[items[i].ParentNodeID]
		if items[i].ParentNodeID == "" || !ok {
			roots = append(roots, i)
			continue
		}
		kids[p] = append(kids[p], i)
	}
	sortBySequence(items, roots)
	for _, k := range kids {
		sortBySequence(items, k)
	}

	var build func(i int, depth int) bom.Node
	build = func(i int, depth int) bom.Node {
		it := items[i]
		n := bom.Node{
			ID:                    it.NodeID,
			ItemCode:              bom.ItemCode(it.ItemCode),
			ItemDescription:       it.ItemDescription,
			MaterialConsideration: it.MaterialConsideration,
			Quantity:              it.Quantity,
			UOM:                   it.UOM,
			Rate:                  it.Rate,
			Currency:              it.Currency,
			Amount:                it.Amount,
			RollupCost:            it.RollupCost,
			Level:                 it.Level,
			ParentID:              bom.NodeRef(it.ParentNodeID),
			Children:              make([]bom.Node, 0, len(kids[i])),
		}
		// depth 不超过行项数，损坏数据中的环不会无限递归
		if depth < len(items) {
			for _, c := range kids[i] {
				n.Children = append(n.Children, build(c, depth+1))
			}
		}
		return n
	}

	out := make([]bom.Node, 0, len(roots))
	for _, r := range roots {
		out = append(out, build(r, 0))
	}
	return out
}

func sortBySequence(items []entity.BOMItem, idx []int) {
	sort.SliceStable(idx, func(a, b int) bool {
		return items[idx[a]].Sequence < items[idx[b]].Sequence
	})
}
