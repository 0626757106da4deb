package rag

import (
	"context"
	"strconv"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

// EinoRetriever adapts a Retriever to eino's retriever.Retriever so it can be
// appended to a compose chain.
type EinoRetriever struct {
	inner Retriever
	topK  int
}

var _ retriever.Retriever = (*EinoRetriever)(nil)

// NewEinoRetriever wraps r. topK is used unless the caller overrides it with
// retriever.WithTopK.
func NewEinoRetriever(r Retriever, topK int) *EinoRetriever {
	return &EinoRetriever{inner: r, topK: topK}
}

// Retrieve implements retriever.Retriever.
func (e *EinoRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	k := e.topK
	o := retriever.GetCommonOptions(&retriever.Options{TopK: &k}, opts...)
	if o.TopK != nil {
		k = *o.TopK
	}

	docs, err := e.inner.Retrieve(ctx, query, k)
	if err != nil {
		return nil, err
	}

	out := make([]*schema.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, ToSchema(d))
	}
	return out, nil
}

// ToSchema converts a Document into an eino schema.Document. Source and page
// are carried in MetaData under MetaSource and MetaPage.
func ToSchema(d Document) *schema.Document {
	meta := make(map[string]any, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	meta[MetaSource] = d.Source
	meta[MetaPage] = d.Page

	sd := &schema.Document{ID: d.ID, Content: d.Content, MetaData: meta}
	return sd.WithScore(float64(d.Score))
}

// FromSchema is the inverse of ToSchema. Unknown metadata values are
// stringified.
func FromSchema(sd *schema.Document) Document {
	d := Document{
		ID:       sd.ID,
		Content:  sd.Content,
		Score:    float32(sd.Score()),
		Metadata: make(map[string]string),
	}
	for k, v := range sd.MetaData {
		switch k {
		case MetaSource:
			d.Source, _ = v.(string)
		case MetaPage:
			switch p := v.(type) {
			case int:
				d.Page = p
			case int64:
				d.Page = int(p)
			case string:
				d.Page, _ = strconv.Atoi(p)
			}
		default:
			if s, ok := v.(string); ok {
				d.Metadata[k] = s
			}
		}
	}
	return d
}
