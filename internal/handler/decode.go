package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/cart"
)

const maxBodySize = 1 << 20

// readBody returns the request body, rejecting oversized payloads.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Invalid("body", "request body too large")
		}
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

// decodeObject walks the top-level JSON object in body, calling field for
// each key. Unknown keys must be skipped by field.
func decodeObject(body []byte, field func(d *jx.Decoder, key string) error) error {
	if len(body) == 0 {
		return apperr.Invalid("body", "request body is required")
	}
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return apperr.Invalid("body", "must be a JSON object")
	}
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	}); err != nil {
		if apperr.IsValidation(err) {
			return err
		}
		return apperr.Invalid("body", "malformed JSON")
	}
	return nil
}

// optString decodes a string or null.
func optString(d *jx.Decoder, field string) (string, error) {
	switch d.Next() {
	case jx.Null:
		return "", d.Null()
	case jx.String:
		return d.Str()
	default:
		return "", apperr.Invalid(field, "must be a string")
	}
}

// decimalValue decodes a JSON number (or numeric string) into a decimal.
func decimalValue(d *jx.Decoder, field string) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	default:
		return decimal.Decimal{}, apperr.Invalid(field, "must be a number")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, apperr.Invalid(field, "must be a number")
	}
	return v, nil
}

// decodeItems decodes a cart line array. Both the storefront's own field
// names and the legacy client names (_id, image) are accepted.
func decodeItems(d *jx.Decoder) ([]cart.Item, error) {
	if d.Next() != jx.Array {
		return nil, apperr.Invalid("items", "must be an array")
	}
	items := []cart.Item{}
	err := d.Arr(func(d *jx.Decoder) error {
		idx := len(items)
		if d.Next() != jx.Object {
			return apperr.InvalidItem(idx, "", "must be an object")
		}
		var it cart.Item
		field := func(name string) string { return fmt.Sprintf("items[%d].%s", idx, name) }
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "productId", "_id", "id":
				it.ProductID, err = optString(d, field("productId"))
			case "name":
				it.Name, err = optString(d, field("name"))
			case "price", "unitPrice":
				it.Price, err = decimalValue(d, field("price"))
			case "quantity":
				if d.Next() != jx.Number {
					return apperr.Invalid(field("quantity"), "must be an integer")
				}
				it.Quantity, err = d.Int()
				if err != nil {
					return apperr.Invalid(field("quantity"), "must be an integer")
				}
			case "image", "imageRef":
				it.ImageRef, err = optString(d, field("image"))
			default:
				return d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
