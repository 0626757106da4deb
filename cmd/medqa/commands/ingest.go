package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/medqa-go/internal/ingestion"
	"github.com/54b3r/medqa-go/internal/logging"
)

// NewIngestCmd constructs the `medqa ingest` command, which loads PDFs,
// splits them into chunks, and writes their embeddings to the vector store.
func NewIngestCmd() *cobra.Command {
	var (
		pdfs         []string
		chunkSize    int
		chunkOverlap int
		batchSize    int
		force        bool
		corpus       string
		title        string
		docType      string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest PDF textbooks into the vector store",
		Long: `Load one or more PDFs, split every page into overlapping chunks, embed the
chunks, and upsert them into the configured vector store.

PDFs may be local paths or s3://bucket/key URIs. A PDF whose content is
unchanged since its last ingest is skipped unless --force is given.

Relevant environment variables:
  VECTOR_STORE         qdrant (default) or pgvector
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: pediatrics)
  PGVECTOR_DSN         Postgres connection string when VECTOR_STORE=pgvector
  EMBEDDING_PROVIDER   qwen (default), ollama, openai, azure, gemini
  EMBEDDING_ENDPOINT   Embedding service URL
  MEDQA_CATALOG_DB     Catalog path, or "disabled"

Corpus, title, and document type are inferred from the file name unless
given explicitly.

Examples:
  medqa ingest --pdf ./data/pediatrics.pdf
  medqa ingest --pdf s3://med-library/nelson.pdf --chunk-size 800 --chunk-overlap 200
  medqa ingest --pdf ./data/pumpkin_book.pdf --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			chunkSize = flagOrEnvInt(cmd, "chunk-size", "CHUNK_SIZE", chunkSize)
			chunkOverlap = flagOrEnvInt(cmd, "chunk-overlap", "CHUNK_OVERLAP", chunkOverlap)
			batchSize = flagOrEnvInt(cmd, "batch-size", "INGEST_BATCH_SIZE", batchSize)

			if len(pdfs) == 0 {
				return fmt.Errorf("ingest: at least one --pdf is required")
			}

			emb, err := buildEmbedder(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			vs, collection, err := openVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer vs.Close()

			var opts []ingestion.Option
			if catalog := openCatalog(log); catalog != nil {
				defer catalog.Close()
				opts = append(opts, ingestion.WithCatalog(catalog))
			}

			pipeline, err := ingestion.NewPipeline(emb, vs, &ingestion.Config{
				ChunkSize:    chunkSize,
				ChunkOverlap: chunkOverlap,
				BatchSize:    batchSize,
				Collection:   collection,
				Force:        force,
				Corpus:       corpus,
				Title:        title,
				DocType:      docType,
			}, opts...)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			log.Info("starting ingestion", slog.Int("sources", len(pdfs)))
			sum, err := pipeline.Ingest(ctx, pdfs, func(msg string) { log.Info(msg) })
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			fmt.Fprintf(os.Stdout, "ingested %d source(s): %d page(s), %d chunk(s), %d skipped\n",
				sum.Sources, sum.Pages, sum.Chunks, sum.Skipped)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&pdfs, "pdf", nil, "PDF path or s3:// URI to ingest (repeatable)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", ingestion.DefaultChunkSize, "Maximum chunk length in characters")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", ingestion.DefaultChunkOverlap, "Characters shared by consecutive chunks")
	cmd.Flags().IntVar(&batchSize, "batch-size", ingestion.DefaultBatchSize, "Chunks embedded and upserted per round")
	cmd.Flags().BoolVar(&force, "force", false, "Re-ingest PDFs even if unchanged since the last ingest")
	cmd.Flags().StringVar(&corpus, "corpus", "", "Corpus label (default: inferred from the file name)")
	cmd.Flags().StringVar(&title, "title", "", "Document title (default: inferred from the file name)")
	cmd.Flags().StringVar(&docType, "doc-type", "", "Document type: textbook, study-guide, notes")

	return cmd
}
