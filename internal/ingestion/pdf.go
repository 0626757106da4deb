package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ledongthuc/pdf"
)

// s3Scheme prefixes object-storage sources.
const s3Scheme = "s3://"

// Page is the extracted text of one PDF page.
type Page struct {
	// Source is the path or URI the PDF was loaded from.
	Source string
	// Number is the 1-based page number.
	Number int
	// Text is the raw extracted text, before cleaning.
	Text string
}

// S3API is the subset of the S3 client used to fetch PDFs.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader reads PDFs from the local filesystem or S3.
type Loader struct {
	// S3 is used for s3:// sources. When nil, a client is built from the
	// default AWS credential chain on first use.
	S3 S3API

	// Region overrides the AWS region for the lazily built client.
	Region string

	once  sync.Once
	s3Err error
}

var defaultLoader = &Loader{}

// LoadPDF loads src (a local path or s3://bucket/key) and returns one Page
// per page that has extractable text.
func LoadPDF(ctx context.Context, src string) ([]Page, error) {
	data, err := defaultLoader.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	return ParsePDF(src, data)
}

// Fetch returns the raw bytes of src.
func (l *Loader) Fetch(ctx context.Context, src string) ([]byte, error) {
	if strings.HasPrefix(src, s3Scheme) {
		return l.fetchS3(ctx, src)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("ingestion: read %s: %w", src, err)
	}
	return data, nil
}

// parseS3URI splits s3://bucket/key into its parts.
func parseS3URI(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, s3Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("ingestion: malformed S3 URI %q (want s3://bucket/key)", uri)
	}
	return bucket, key, nil
}

func (l *Loader) s3Client(ctx context.Context) (S3API, error) {
	l.once.Do(func() {
		if l.S3 != nil {
			return
		}
		var opts []func(*awsconfig.LoadOptions) error
		if l.Region != "" {
			opts = append(opts, awsconfig.WithRegion(l.Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			l.s3Err = fmt.Errorf("ingestion: load AWS config: %w", err)
			return
		}
		l.S3 = s3.NewFromConfig(cfg)
	})
	return l.S3, l.s3Err
}

func (l *Loader) fetchS3(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}
	client, err := l.s3Client(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: get %s: %w", uri, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("ingestion: read %s: %w", uri, err)
	}
	return data, nil
}

// ParsePDF extracts per-page text from an in-memory PDF. Pages with no text
// (scans, blank separators) are omitted.
func ParsePDF(source string, data []byte) (pages []Page, err error) {
	// The PDF parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("ingestion: parse %s: malformed PDF: %v", source, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("ingestion: parse %s: %w", source, err)
	}

	n := reader.NumPage()
	pages = make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("ingestion: extract text from %s page %d: %w", source, i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Source: source, Number: i, Text: text})
	}
	return pages, nil
}
