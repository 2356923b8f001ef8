package handler

import (
	"fmt"
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

// GetCart serves GET /cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	items, err := h.Carts.Get(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, apperr.Transient("get cart", err))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeCart(e, items) })
}

// PutCart serves PUT /cart. The body replaces the whole cart. Names, prices
// and images are taken from the catalog; only ids and quantities come from
// the client.
func (h *Handler) PutCart(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	body, err := readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var items []cart.Item
	if err := decodeObject(body, func(d *jx.Decoder, key string) error {
		if key != "items" {
			return d.Skip()
		}
		var err error
		items, err = decodeItems(d)
		return err
	}); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(items) > pricing.MaxLines {
		h.writeError(w, r, apperr.Invalid("items", fmt.Sprintf("at most %d lines are allowed", pricing.MaxLines)))
		return
	}

	items, err = h.resolveCart(r, items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Carts.Save(r.Context(), userID, items); err != nil {
		h.writeError(w, r, apperr.Transient("save cart", err))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeCart(e, items) })
}

// resolveCart merges duplicate lines and fills catalog data.
func (h *Handler) resolveCart(r *http.Request, items []cart.Item) ([]cart.Item, error) {
	ids := make([]string, 0, len(items))
	merged := make(map[string]int, len(items))
	for i, it := range items {
		switch {
		case it.ProductID == "":
			return nil, apperr.InvalidItem(i, "", "product id is required")
		case it.Quantity < 1:
			return nil, apperr.InvalidItem(i, it.ProductID, "quantity must be a positive integer")
		}
		if _, seen := merged[it.ProductID]; !seen {
			ids = append(ids, it.ProductID)
		}
		merged[it.ProductID] += it.Quantity
		if merged[it.ProductID] > pricing.MaxQuantity {
			return nil, apperr.InvalidItem(i, it.ProductID, fmt.Sprintf("quantity must not exceed %d", pricing.MaxQuantity))
		}
	}
	if len(ids) == 0 {
		return []cart.Item{}, nil
	}

	found, err := h.Products.GetByIDs(r.Context(), ids)
	if err != nil {
		return nil, apperr.Transient("load products", err)
	}
	catalog := product.Index(found)

	out := make([]cart.Item, 0, len(ids))
	for i, id := range ids {
		p, ok := catalog[id]
		if !ok {
			return nil, apperr.InvalidItem(i, id, "product not found")
		}
		out = append(out, cart.Item{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  merged[id],
			ImageRef:  p.ImageRef,
		})
	}
	return out, nil
}

func (h *Handler) encodeCart(e *jx.Encoder, items []cart.Item) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
		e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, it.Price) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
		if it.ImageRef != "" {
			e.Field("image", func(e *jx.Encoder) { e.Str(h.imageURL(it.ImageRef)) })
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}
