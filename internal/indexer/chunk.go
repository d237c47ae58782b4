package indexer

import (
	"path/filepath"
	"strings"

	"github.com/seanblong/reporag/pkg/models"
)

// overlapLineWidth converts the character overlap budget into a line count.
const overlapLineWidth = 50

// ChunkFile splits content into line-aligned chunks of at most chunkSize
// characters. Lines are never split, so a single line longer than chunkSize
// becomes its own chunk. Every chunk after the first repeats the last
// chunkOverlap/50 lines of the one before it; when those lines plus the
// next one exceed chunkSize the chunk does too.
func ChunkFile(content, filePath string, chunkSize, chunkOverlap int) []models.Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	fileType := DetectType(filePath)
	text := preprocess(content, filePath)
	overlapLines := chunkOverlap / overlapLineWidth

	var (
		chunks  []models.Chunk
		buf     strings.Builder
		curSize int
	)

	flush := func() {
		raw := buf.String()
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return
		}
		chunks = append(chunks, models.Chunk{
			Content: trimmed,
			Metadata: models.ChunkMetadata{
				FilePath:   filePath,
				Type:       fileType,
				ChunkIndex: len(chunks),
				Lines:      strings.Count(raw, "\n") + 1,
			},
		})
	}

	for _, line := range strings.Split(text, "\n") {
		if buf.Len() > 0 && curSize+len(line) > chunkSize {
			flush()
			seed := tailLines(buf.String(), overlapLines)
			buf.Reset()
			buf.WriteString(seed)
			buf.WriteByte('\n')
			buf.WriteString(line)
			// counts the separator the next append will add
			curSize = buf.Len() + 1
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
		curSize += len(line) + 1
	}
	flush()

	return chunks
}

// tailLines returns the last n lines of s joined by newlines. n <= 0 yields "".
func tailLines(s string, n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func preprocess(content, filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch {
	case isCode(ext):
		return "// File: " + filePath + "\n" + content
	case ext == ".md":
		return "# Document: " + filePath + "\n" + content
	}
	return content
}
