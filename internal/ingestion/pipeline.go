// Package ingestion implements the PDF ingestion pipeline: load a PDF from
// disk or S3, clean each page, split it into overlapping chunks, embed the
// chunks in batches and upsert them into the vector store. It is invoked by
// the `medqa ingest` command.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/medqa-go/internal/logging"
	"github.com/54b3r/medqa-go/internal/rag"
	"github.com/54b3r/medqa-go/internal/store"
)

// DefaultBatchSize is the number of chunks embedded and upserted together.
const DefaultBatchSize = 100

// chunkNamespace scopes the UUIDv5 chunk identifiers.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("medqa-go/chunk"))

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum chunk length in runes (default 500).
	ChunkSize int

	// ChunkOverlap is the number of runes carried between consecutive chunks
	// (default 150 when zero; negative disables overlap).
	ChunkOverlap int

	// BatchSize is the number of chunks per embed+upsert round (default 100).
	BatchSize int

	// Collection names the vector collection; used as the catalog key.
	Collection string

	// Force re-ingests sources whose content hash is already catalogued.
	Force bool

	// Corpus, Title and DocType override the values inferred from the file name.
	Corpus  string
	Title   string
	DocType string
}

// Summary reports what an Ingest call did.
type Summary struct {
	Sources int
	Skipped int
	Pages   int
	Chunks  int
}

// Pipeline orchestrates the load → clean → split → embed → upsert flow.
type Pipeline struct {
	// embedder converts text chunks into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// catalog records completed ingests; nil disables skip detection.
	catalog store.Catalog

	loader   *Loader
	parse    func(source string, data []byte) ([]Page, error)
	splitter *Splitter
	cfg      *Config
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithCatalog enables unchanged-source detection backed by c.
func WithCatalog(c store.Catalog) Option {
	return func(p *Pipeline) { p.catalog = c }
}

// WithLoader replaces the default filesystem/S3 loader.
func WithLoader(l *Loader) Option {
	return func(p *Pipeline) { p.loader = l }
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, vs rag.VectorStore, cfg *Config, opts ...Option) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if vs == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}

	p := &Pipeline{
		embedder: embedder,
		store:    vs,
		loader:   defaultLoader,
		parse:    ParsePDF,
		splitter: NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ingest processes sources sequentially and returns the first error
// encountered. Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, sources []string, progress func(msg string)) (Summary, error) {
	if progress == nil {
		progress = func(string) {}
	}
	log := logging.FromContext(ctx)

	var sum Summary
	for _, src := range sources {
		data, err := p.loader.Fetch(ctx, src)
		if err != nil {
			return sum, err
		}
		digest := sha256.Sum256(data)
		hash := hex.EncodeToString(digest[:])

		if prev, ok := p.unchanged(ctx, src, hash); ok {
			progress(fmt.Sprintf("skipping %s: unchanged since %s (%d chunks); use --force to rebuild",
				src, prev.IngestedAt.Format(time.RFC3339), prev.Chunks))
			sum.Skipped++
			continue
		}

		pages, err := p.parse(src, data)
		if err != nil {
			return sum, err
		}
		progress(fmt.Sprintf("loaded %s: %d pages with text", src, len(pages)))

		docs := p.chunkPages(src, pages)
		progress(fmt.Sprintf("split %s into %d chunks", src, len(docs)))

		if err := p.upsertBatches(ctx, docs, progress); err != nil {
			return sum, fmt.Errorf("ingestion: %s: %w", src, err)
		}

		sum.Sources++
		sum.Pages += len(pages)
		sum.Chunks += len(docs)

		if p.catalog != nil {
			entry := store.Entry{
				Source:     src,
				Collection: p.cfg.Collection,
				SHA256:     hash,
				Pages:      len(pages),
				Chunks:     len(docs),
			}
			if err := p.catalog.Record(ctx, entry); err != nil {
				log.Warn("ingestion: catalog record failed", slog.String("source", src), slog.String("error", err.Error()))
			}
		}
		log.Info("ingestion: source complete",
			slog.String("source", src),
			slog.Int("pages", len(pages)),
			slog.Int("chunks", len(docs)),
		)
	}
	return sum, nil
}

// unchanged reports whether src with the given hash was already ingested
// into the configured collection.
func (p *Pipeline) unchanged(ctx context.Context, src, hash string) (store.Entry, bool) {
	if p.catalog == nil || p.cfg.Force {
		return store.Entry{}, false
	}
	prev, ok, err := p.catalog.Lookup(ctx, src, p.cfg.Collection)
	if err != nil {
		logging.FromContext(ctx).Warn("ingestion: catalog lookup failed", slog.String("source", src), slog.String("error", err.Error()))
		return store.Entry{}, false
	}
	return prev, ok && prev.SHA256 == hash
}

// chunkPages cleans and splits every page, numbering chunks across the whole
// source so ids stay stable.
func (p *Pipeline) chunkPages(src string, pages []Page) []rag.Document {
	meta := InferMetadata(src)
	if p.cfg.Corpus != "" {
		meta.Corpus = p.cfg.Corpus
	}
	if p.cfg.Title != "" {
		meta.Title = p.cfg.Title
	}
	if p.cfg.DocType != "" {
		meta.DocType = p.cfg.DocType
	}

	var docs []rag.Document
	for _, page := range pages {
		for _, chunk := range p.splitter.Split(Clean(page.Text)) {
			idx := len(docs)
			docs = append(docs, rag.Document{
				ID:      ChunkID(src, idx),
				Content: chunk,
				Source:  src,
				Page:    page.Number,
				Metadata: map[string]string{
					rag.MetaChunkIndex: strconv.Itoa(idx),
					rag.MetaTitle:      meta.Title,
					rag.MetaCorpus:     meta.Corpus,
					rag.MetaDocType:    meta.DocType,
				},
			})
		}
	}
	return docs
}

// upsertBatches embeds and stores docs BatchSize at a time.
func (p *Pipeline) upsertBatches(ctx context.Context, docs []rag.Document, progress func(string)) error {
	total := len(docs)
	for start := 0; start < total; start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, total)
		batch := docs[start:end]
		progress(fmt.Sprintf("processing chunks %d to %d of %d", start+1, end, total))

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}
		embeddings, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding chunks %d-%d: %w", start+1, end, err)
		}
		if err := p.store.Upsert(ctx, batch, embeddings); err != nil {
			return fmt.Errorf("upserting chunks %d-%d: %w", start+1, end, err)
		}

		if n, err := p.store.Count(ctx); err == nil {
			progress(fmt.Sprintf("finished chunks %d to %d, store now holds %d", start+1, end, n))
		} else {
			progress(fmt.Sprintf("finished chunks %d to %d", start+1, end))
		}
	}
	return nil
}

// ChunkID returns the deterministic UUIDv5 for chunk index of source, so
// re-ingesting a source overwrites its previous points.
func ChunkID(source string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(source+"#"+strconv.Itoa(index))).String()
}
