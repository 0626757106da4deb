// Package audit writes one structured record per medqa CLI invocation: the
// command, the config file it resolved, and the model, embedding, vector
// store and serving settings it will run with.
//
// Keys and tokens appear only as "set" or "unset". URL-valued settings keep
// their host and path with any embedded password replaced by "xxxxx".
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// kind says how a setting's value may be shown.
type kind int

const (
	plain kind = iota
	// secret values are reduced to presence.
	secret
	// locator values are URLs or DSNs whose password is masked.
	locator
)

type setting struct {
	env  string
	kind kind
}

// section groups settings under one slog group in the record.
type section struct {
	name     string
	settings []setting
}

var sections = []section{
	{"model", []setting{
		{"MODEL_PROVIDER", plain},
		{"MODEL_TEMPERATURE", plain},
		{"QWEN_GENERATE_URL", locator},
		{"OLLAMA_HOST", locator},
		{"OLLAMA_MODEL", plain},
		{"OPENAI_MODEL", plain},
		{"OPENAI_API_KEY", secret},
		{"AZURE_OPENAI_ENDPOINT", locator},
		{"AZURE_OPENAI_DEPLOYMENT", plain},
		{"AZURE_OPENAI_API_KEY", secret},
		{"ARK_MODEL", plain},
		{"ARK_API_KEY", secret},
		{"GEMINI_MODEL", plain},
		{"GOOGLE_API_KEY", secret},
	}},
	{"embedding", []setting{
		{"EMBEDDING_PROVIDER", plain},
		{"EMBEDDING_ENDPOINT", locator},
		{"EMBEDDING_MODEL", plain},
		{"EMBEDDING_DIMENSIONS", plain},
		{"EMBEDDING_API_KEY", secret},
	}},
	{"vector_store", []setting{
		{"VECTOR_STORE", plain},
		{"QDRANT_HOST", plain},
		{"QDRANT_PORT", plain},
		{"QDRANT_COLLECTION", plain},
		{"QDRANT_API_KEY", secret},
		{"PGVECTOR_DSN", locator},
		{"PGVECTOR_TABLE", plain},
		{"RAG_TOP_K", plain},
	}},
	{"ingest", []setting{
		{"CHUNK_SIZE", plain},
		{"CHUNK_OVERLAP", plain},
		{"MEDQA_CATALOG_DB", plain},
		{"AWS_REGION", plain},
		{"AWS_SECRET_ACCESS_KEY", secret},
		{"AWS_SESSION_TOKEN", secret},
	}},
	{"serving", []setting{
		{"MEDQA_API_KEY", secret},
		{"LANGFUSE_HOST", locator},
		{"LANGFUSE_PUBLIC_KEY", secret},
		{"LANGFUSE_SECRET_KEY", secret},
		{"LOG_LEVEL", plain},
		{"LOG_FORMAT", plain},
	}},
}

// LogCommandStart records that command is starting with the config file at
// configPath and the current environment.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", displayPath(configPath)),
	}
	for _, sec := range sections {
		group := make([]any, 0, len(sec.settings))
		for _, s := range sec.settings {
			group = append(group, slog.String(s.env, s.kind.show(os.Getenv(s.env))))
		}
		attrs = append(attrs, slog.Group(sec.name, group...))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// Redact returns value as it may appear in logs when read from env.
// Unknown variables are shown as-is.
func Redact(env, value string) string {
	for _, sec := range sections {
		for _, s := range sec.settings {
			if s.env == env {
				return s.kind.show(value)
			}
		}
	}
	return plain.show(value)
}

func (k kind) show(v string) string {
	if v == "" {
		return "unset"
	}
	switch k {
	case secret:
		return "set"
	case locator:
		return maskLocator(v)
	}
	return v
}

// maskLocator hides the password of a URL-shaped value. Values that do not
// parse as a URL with a scheme collapse to "set", since a key=value DSN may
// carry the password anywhere.
func maskLocator(v string) string {
	u, err := url.Parse(v)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "set"
	}
	if q := u.Query(); q.Has("password") {
		q.Set("password", "xxxxx")
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}

// displayPath abbreviates the home directory to "~".
func displayPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
