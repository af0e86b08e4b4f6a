package document

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Document represents a loaded document
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Chunk represents a chunk of a document
type Chunk struct {
	Index    int            `json:"index"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Chunker splits a document into an ordered list of chunks
type Chunker func(doc *Document) []*Chunk

// MetadataKeys lists the metadata keys the loaders and chunkers in this
// package attach to documents and chunks.
var MetadataKeys = []string{
	"source", "file_type",
	"chunk_index", "parent_id",
	"chunk_start", "chunk_end",
	"line_start", "line_end",
}

// LoadFromFile loads a document from a file
func LoadFromFile(filePath string) (*Document, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	if !utf8.Valid(content) {
		return nil, fmt.Errorf("file %s contains invalid UTF-8", filePath)
	}

	hasher := md5.New()
	hasher.Write([]byte(filePath))
	hasher.Write(content)

	return &Document{
		ID:      fmt.Sprintf("%x", hasher.Sum(nil)),
		Content: string(content),
		Metadata: map[string]any{
			"source":    filepath.Base(filePath),
			"file_type": GetFileType(filePath),
		},
	}, nil
}

// LoadFromString creates a document from a string
func LoadFromString(content string, metadata map[string]any) *Document {
	hasher := md5.New()
	hasher.Write([]byte(content))

	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	return &Document{
		ID:       fmt.Sprintf("%x", hasher.Sum(nil)),
		Content:  content,
		Metadata: meta,
	}
}

// ChunkParagraphs splits on blank lines, dropping empty paragraphs
func ChunkParagraphs(doc *Document) []*Chunk {
	var chunks []*Chunk
	for _, para := range strings.Split(normalizeNewlines(doc.Content), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		chunks = append(chunks, newChunk(doc, len(chunks), para))
	}
	return chunks
}

// WindowChunker returns a chunker producing chunks of at most chunkSize
// bytes that overlap by overlap bytes, preferring word boundaries.
func WindowChunker(chunkSize, overlap int) Chunker {
	return func(doc *Document) []*Chunk {
		return ChunkDocument(doc, chunkSize, overlap)
	}
}

// ChunkDocument splits a document into overlapping windows
func ChunkDocument(doc *Document, chunkSize int, overlap int) []*Chunk {
	content := doc.Content
	if len(content) == 0 || chunkSize <= 0 {
		return []*Chunk{}
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}

	var chunks []*Chunk
	start := 0

	for start < len(content) {
		end := start + chunkSize
		if end > len(content) {
			end = len(content)
		}

		// Try to break at word boundaries
		if end < len(content) && content[end] != ' ' && content[end] != '\n' {
			for i := end - 1; i > start && i > end-50; i-- {
				if content[i] == ' ' || content[i] == '\n' {
					end = i
					break
				}
			}
		}
		// Never split a multi-byte rune
		for end < len(content) && !utf8.RuneStart(content[end]) {
			end++
		}

		chunkContent := strings.TrimSpace(content[start:end])
		if len(chunkContent) > 0 {
			chunk := newChunk(doc, len(chunks), chunkContent)
			chunk.Metadata["chunk_start"] = start
			chunk.Metadata["chunk_end"] = end
			chunks = append(chunks, chunk)
		}

		if end >= len(content) {
			break
		}
		nextStart := end - overlap
		if nextStart <= start {
			nextStart = end
		}
		for nextStart < len(content) && !utf8.RuneStart(content[nextStart]) {
			nextStart++
		}
		start = nextStart
	}

	return chunks
}

// ChunkByLines splits text into chunks of maxLines lines (useful for code files)
func ChunkByLines(maxLines int) Chunker {
	if maxLines <= 0 {
		maxLines = 40
	}
	return func(doc *Document) []*Chunk {
		lines := strings.Split(normalizeNewlines(doc.Content), "\n")

		var chunks []*Chunk
		for start := 0; start < len(lines); start += maxLines {
			end := start + maxLines
			if end > len(lines) {
				end = len(lines)
			}
			content := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
			if content == "" {
				continue
			}
			chunk := newChunk(doc, len(chunks), content)
			chunk.Metadata["line_start"] = start + 1 // 1-based line numbers
			chunk.Metadata["line_end"] = end
			chunks = append(chunks, chunk)
		}
		return chunks
	}
}

func newChunk(doc *Document, index int, content string) *Chunk {
	meta := make(map[string]any, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["chunk_index"] = index
	meta["parent_id"] = doc.ID
	return &Chunk{Index: index, Content: content, Metadata: meta}
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// GetFileType determines the type of file based on extension
func GetFileType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return "markdown"
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx", ".ts", ".tsx":
		return "javascript"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	case ".html", ".htm":
		return "html"
	default:
		return "text"
	}
}
