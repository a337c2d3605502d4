// Package model はドメインモデルを定義する。
package model

// Menu はメニューを表す。
type Menu struct {
	ID          string `json:"id"`
	StoreID     string `json:"store_id"`
	Name        string `json:"name"`
	Price       int    `json:"price"`
	Description string `json:"description"`
	Category    string `json:"category"`
	ImageURL    string `json:"image_url"`
	IsAvailable bool   `json:"is_available"`
	SortOrder   int    `json:"sort_order"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// MenuInput はメニュー作成・更新のリクエストボディ。
// 更新時はnilのフィールドを変更しない。
type MenuInput struct {
	Name        *string `json:"name,omitempty"`
	Price       *int    `json:"price,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
	ImageURL    *string `json:"image_url,omitempty"`
	IsAvailable *bool   `json:"is_available,omitempty"`
	SortOrder   *int    `json:"sort_order,omitempty"`
}
