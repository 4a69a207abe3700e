package rediscache

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
)

// Prices are stored as strings to keep every decimal digit.

func encodeProduct(p *catalog.Product) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("price", func(e *jx.Encoder) { e.Str(p.Price.String()) })
		e.Field("category_id", func(e *jx.Encoder) { e.Str(p.CategoryID) })
	})
	return e.Bytes()
}

func decodeProduct(data []byte) (*catalog.Product, error) {
	var p catalog.Product
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "category_id":
			p.CategoryID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode product")
	}
	if p.ID == "" {
		return nil, errors.New("decode product: missing id")
	}
	return &p, nil
}

func encodeVariant(v *catalog.Variant) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(v.ID) })
		e.Field("product_id", func(e *jx.Encoder) { e.Str(v.ProductID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(v.Name) })
		e.Field("price", func(e *jx.Encoder) { e.Str(v.Price.String()) })
		e.Field("stock", func(e *jx.Encoder) { e.Int(v.Stock) })
	})
	return e.Bytes()
}

func decodeVariant(data []byte) (*catalog.Variant, error) {
	var v catalog.Variant
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			v.ID, err = d.Str()
		case "product_id":
			v.ProductID, err = d.Str()
		case "name":
			v.Name, err = d.Str()
		case "price":
			v.Price, err = decodeDecimal(d)
		case "stock":
			v.Stock, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode variant")
	}
	if v.ID == "" {
		return nil, errors.New("decode variant: missing id")
	}
	return &v, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(s)
}
