package assemble

import (
	"bytes"
	"encoding/json"
	"iter"

	"github.com/mohammed-shakir/ode-browse-cache/internal/imagery"
)

// Grouped maps product id -> description -> image. Keys keep first-seen order
// at both levels. Inserting an existing (product, description) pair replaces
// the image in place; the later entry wins.
type Grouped struct {
	products []string
	byID     map[string]*group
}

type group struct {
	descs  []string
	images map[string]*imagery.Image
}

func NewGrouped() *Grouped {
	return &Grouped{byID: map[string]*group{}}
}

func (g *Grouped) Insert(product, description string, img *imagery.Image) {
	if g.byID == nil {
		g.byID = map[string]*group{}
	}
	pg, ok := g.byID[product]
	if !ok {
		pg = &group{images: map[string]*imagery.Image{}}
		g.byID[product] = pg
		g.products = append(g.products, product)
	}
	if _, ok := pg.images[description]; !ok {
		pg.descs = append(pg.descs, description)
	}
	pg.images[description] = img
}

func (g *Grouped) Len() int {
	if g == nil {
		return 0
	}
	return len(g.products)
}

// Images counts the leaves.
func (g *Grouped) Images() int {
	if g == nil {
		return 0
	}
	n := 0
	for _, pg := range g.byID {
		n += len(pg.descs)
	}
	return n
}

func (g *Grouped) Products() []string {
	if g == nil {
		return nil
	}
	return append([]string(nil), g.products...)
}

func (g *Grouped) Descriptions(product string) []string {
	if g == nil {
		return nil
	}
	pg, ok := g.byID[product]
	if !ok {
		return nil
	}
	return append([]string(nil), pg.descs...)
}

func (g *Grouped) Get(product, description string) (*imagery.Image, bool) {
	if g == nil {
		return nil, false
	}
	pg, ok := g.byID[product]
	if !ok {
		return nil, false
	}
	img, ok := pg.images[description]
	return img, ok
}

// Entry is one leaf of the grouping.
type Entry struct {
	Product     string
	Description string
}

// All yields every leaf in grouping order.
func (g *Grouped) All() iter.Seq2[Entry, *imagery.Image] {
	return func(yield func(Entry, *imagery.Image) bool) {
		if g == nil {
			return
		}
		for _, p := range g.products {
			pg := g.byID[p]
			for _, d := range pg.descs {
				if !yield(Entry{Product: p, Description: d}, pg.images[d]) {
					return
				}
			}
		}
	}
}

// MarshalJSON writes nested objects in grouping order. Pixel data is left out.
func (g *Grouped) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range g.Products() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, p); err != nil {
			return nil, err
		}
		buf.WriteByte('{')
		pg := g.byID[p]
		for j, d := range pg.descs {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := writeKey(&buf, d); err != nil {
				return nil, err
			}
			b, err := json.Marshal(pg.images[d])
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, k string) error {
	b, err := json.Marshal(k)
	if err != nil {
		return err
	}
	buf.Write(b)
	buf.WriteByte(':')
	return nil
}

// ImageWrapper hands the assembled result to consumers.
type ImageWrapper struct {
	data *Grouped
}

func NewImageWrapper(g *Grouped) *ImageWrapper {
	if g == nil {
		g = NewGrouped()
	}
	return &ImageWrapper{data: g}
}

func (w *ImageWrapper) Data() *Grouped { return w.data }

func (w *ImageWrapper) MarshalJSON() ([]byte, error) { return w.data.MarshalJSON() }
