package cart

import "github.com/hitoshi/tableorder/internal/model"

// Cart はカートの内容と集計値のスナップショット。
type Cart struct {
	Items       []model.CartItem `json:"items"`
	TotalAmount int              `json:"totalAmount"`
	TotalCount  int              `json:"totalCount"`
	// Unsaved は直近の変更を保存できなかったことを示す。画面での通知用。
	Unsaved bool `json:"unsaved,omitempty"`
}

// newCart はitemsのコピーから集計値を再計算したCartを返す。
func newCart(items []model.CartItem) Cart {
	c := Cart{Items: make([]model.CartItem, len(items))}
	copy(c.Items, items)
	for _, it := range c.Items {
		c.TotalAmount += it.Subtotal
		c.TotalCount += it.Quantity
	}
	return c
}

// action はカートの状態遷移。下記の型で閉じている。
type action interface {
	isAction()
}

type addItem struct {
	menuID   string
	menuName string
	price    int
	quantity int
}

type updateQuantity struct {
	menuID   string
	quantity int
}

type removeItem struct {
	menuID string
}

type clearCart struct{}

type restoreCart struct {
	items []model.CartItem
}

// removeOrdered は注文済みの数量を差し引く。注文中に追加された分は残る。
type removeOrdered struct {
	lines []model.OrderLine
}

func (addItem) isAction()        {}
func (updateQuantity) isAction() {}
func (removeItem) isAction()     {}
func (clearCart) isAction()      {}
func (restoreCart) isAction()    {}
func (removeOrdered) isAction()  {}

// reduce はitemsにaを適用した新しいスライスを返す。itemsは変更しない。
// 入力の検証はManager側で行い、ここでは数量の上限だけを丸める。
func reduce(items []model.CartItem, a action) []model.CartItem {
	switch a := a.(type) {
	case addItem:
		next := clone(items)
		if i := indexOf(next, a.menuID); i >= 0 {
			next[i].Quantity = clampQuantity(next[i].Quantity + a.quantity)
			next[i].Subtotal = next[i].Price * next[i].Quantity
			return next
		}
		qty := clampQuantity(a.quantity)
		return append(next, model.CartItem{
			MenuID:   a.menuID,
			MenuName: a.menuName,
			Price:    a.price,
			Quantity: qty,
			Subtotal: a.price * qty,
		})

	case updateQuantity:
		i := indexOf(items, a.menuID)
		if i < 0 {
			return items
		}
		if a.quantity <= 0 {
			return reduce(items, removeItem{menuID: a.menuID})
		}
		if a.quantity > model.MaxQuantity {
			return items
		}
		next := clone(items)
		next[i].Quantity = a.quantity
		next[i].Subtotal = next[i].Price * a.quantity
		return next

	case removeItem:
		next := make([]model.CartItem, 0, len(items))
		for _, it := range items {
			if it.MenuID != a.menuID {
				next = append(next, it)
			}
		}
		return next

	case clearCart:
		return nil

	case restoreCart:
		return normalize(a.items)

	case removeOrdered:
		next := clone(items)
		for _, l := range a.lines {
			i := indexOf(next, l.MenuID)
			if i < 0 {
				continue
			}
			next[i].Quantity -= l.Quantity
			next[i].Subtotal = next[i].Price * next[i].Quantity
		}
		kept := next[:0]
		for _, it := range next {
			if it.Quantity > 0 {
				kept = append(kept, it)
			}
		}
		return kept
	}
	return items
}

// normalize は永続化されていた行を検証し直す。
// 不正な行は捨て、同じメニューの行はまとめ、小計は必ず再計算する。
func normalize(items []model.CartItem) []model.CartItem {
	var next []model.CartItem
	for _, it := range items {
		if it.MenuID == "" || it.Price < 0 || !model.ValidateQuantity(it.Quantity) {
			continue
		}
		if i := indexOf(next, it.MenuID); i >= 0 {
			next[i].Quantity = clampQuantity(next[i].Quantity + it.Quantity)
			next[i].Subtotal = next[i].Price * next[i].Quantity
			continue
		}
		it.Subtotal = it.Price * it.Quantity
		next = append(next, it)
	}
	return next
}

func indexOf(items []model.CartItem, menuID string) int {
	for i, it := range items {
		if it.MenuID == menuID {
			return i
		}
	}
	return -1
}

func clone(items []model.CartItem) []model.CartItem {
	next := make([]model.CartItem, len(items))
	copy(next, items)
	return next
}

func clampQuantity(q int) int {
	if q > model.MaxQuantity {
		return model.MaxQuantity
	}
	return q
}
