package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/product"
)

// ListProducts serves GET /products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Products.List(r.Context())
	if err != nil {
		h.writeError(w, r, apperr.Transient("list products", err))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			h.encodeProduct(e, p)
		}
		e.ArrEnd()
	})
}

// GetProduct serves GET /products/{id}.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if !errors.Is(err, product.ErrNotFound) {
			err = apperr.Transient("get product", err)
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeProduct(e, *p) })
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
	e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
	e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
	e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
	e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, p.Price) })
	if p.ImageRef != "" {
		e.Field("image", func(e *jx.Encoder) { e.Str(h.imageURL(p.ImageRef)) })
	}
	e.ObjEnd()
}

// imageURL resolves relative image paths against the configured base URL.
func (h *Handler) imageURL(ref string) string {
	if h.cfg.ImageBaseURL == "" || strings.Contains(ref, "://") {
		return ref
	}
	return strings.TrimRight(h.cfg.ImageBaseURL, "/") + "/" + strings.TrimLeft(ref, "/")
}

// encodeDecimal writes v as a JSON number with two decimal places.
func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.StringFixed(2)))
}
