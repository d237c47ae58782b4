package indexer

import (
	"fmt"
	"strings"
	"testing"
)

func numberedLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %03d %s", i, strings.Repeat("x", 10))
	}
	return lines
}

func TestChunkFile_EmptyContent(t *testing.T) {
	for _, tc := range []struct{ path, content string }{
		{"empty.ts", ""},
		{"blank.txt", "   \n\t\n"},
		{"README.md", "\n\n"},
		{"main.go", ""},
	} {
		t.Run(tc.path, func(t *testing.T) {
			if chunks := ChunkFile(tc.content, tc.path, 1000, 200); len(chunks) != 0 {
				t.Errorf("expected no chunks, got %d: %+v", len(chunks), chunks)
			}
		})
	}
}

func TestChunkFile_Preprocess(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		content   string
		want      string
		wantType  string
		wantLines int
	}{
		{
			name:      "code gets file header",
			path:      "src/a.ts",
			content:   "const a = 1;\nconst b = 2;",
			want:      "// File: src/a.ts\nconst a = 1;\nconst b = 2;",
			wantType:  "typescript",
			wantLines: 3,
		},
		{
			name:      "go is treated as code",
			path:      "cmd/main.go",
			content:   "package main",
			want:      "// File: cmd/main.go\npackage main",
			wantType:  "go",
			wantLines: 2,
		},
		{
			name:      "markdown gets document header",
			path:      "docs/README.md",
			content:   "# Title\n\nBody",
			want:      "# Document: docs/README.md\n# Title\n\nBody",
			wantType:  "markdown",
			wantLines: 4,
		},
		{
			name:      "other types pass through",
			path:      "notes.txt",
			content:   "  hello\nworld  \n",
			want:      "hello\nworld",
			wantType:  "text",
			wantLines: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := ChunkFile(tt.content, tt.path, 1000, 200)
			if len(chunks) != 1 {
				t.Fatalf("expected 1 chunk, got %d", len(chunks))
			}
			c := chunks[0]
			if c.Content != tt.want {
				t.Errorf("content = %q, want %q", c.Content, tt.want)
			}
			if c.Metadata.Type != tt.wantType {
				t.Errorf("type = %q, want %q", c.Metadata.Type, tt.wantType)
			}
			if c.Metadata.FilePath != tt.path {
				t.Errorf("filePath = %q, want %q", c.Metadata.FilePath, tt.path)
			}
			if c.Metadata.ChunkIndex != 0 {
				t.Errorf("chunkIndex = %d, want 0", c.Metadata.ChunkIndex)
			}
			if c.Metadata.Lines != tt.wantLines {
				t.Errorf("lines = %d, want %d", c.Metadata.Lines, tt.wantLines)
			}
		})
	}
}

func TestChunkFile_SizeBound(t *testing.T) {
	content := strings.Join(numberedLines(100), "\n")

	for _, overlap := range []int{0, 100, 200} {
		t.Run(fmt.Sprintf("overlap=%d", overlap), func(t *testing.T) {
			chunks := ChunkFile(content, "data.txt", 200, overlap)
			if len(chunks) < 2 {
				t.Fatalf("expected multiple chunks, got %d", len(chunks))
			}
			for i, c := range chunks {
				if len(c.Content) > 200 {
					t.Errorf("chunk %d has %d chars, exceeds 200", i, len(c.Content))
				}
				if c.Metadata.ChunkIndex != i {
					t.Errorf("chunk %d has chunkIndex %d", i, c.Metadata.ChunkIndex)
				}
			}
		})
	}
}

// Once the overlap seed plus the next line no longer fits, every following
// chunk is seed plus one line and goes over chunkSize. Line counts follow
// the overlap heuristic, not the character budget.
func TestChunkFile_OverlapSeedExceedsSize(t *testing.T) {
	var lines []string
	for i := 0; i < 12; i++ {
		lines = append(lines, strings.Repeat(string(rune('a'+i)), 60))
	}

	chunks := ChunkFile(strings.Join(lines, "\n"), "data.txt", 200, 200)

	wantLens := []int{182, 243, 304, 304, 304, 304, 304, 304, 304, 304}
	if len(chunks) != len(wantLens) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(wantLens))
	}
	for i, c := range chunks {
		if len(c.Content) != wantLens[i] {
			t.Errorf("chunk %d has %d chars, want %d", i, len(c.Content), wantLens[i])
		}
		if i == 0 {
			continue
		}
		prev := strings.Split(chunks[i-1].Content, "\n")
		seed := prev
		if len(seed) > 4 {
			seed = seed[len(seed)-4:]
		}
		if !strings.HasPrefix(c.Content, strings.Join(seed, "\n")+"\n") {
			t.Errorf("chunk %d does not start with the last 4 lines of chunk %d", i, i-1)
		}
	}
	if last := chunks[len(chunks)-1].Content; !strings.HasSuffix(last, lines[11]) {
		t.Errorf("last chunk does not end with the last line")
	}
}

func TestChunkFile_OverlapAndCoverage(t *testing.T) {
	lines := numberedLines(100)
	content := strings.Join(lines, "\n")

	tests := []struct {
		overlap      int
		overlapLines int
	}{
		{overlap: 0, overlapLines: 0},
		{overlap: 49, overlapLines: 0},
		{overlap: 100, overlapLines: 2},
		{overlap: 200, overlapLines: 4},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("overlap=%d", tt.overlap), func(t *testing.T) {
			chunks := ChunkFile(content, "data.txt", 200, tt.overlap)
			if len(chunks) < 2 {
				t.Fatalf("expected multiple chunks, got %d", len(chunks))
			}

			var rebuilt []string
			for i, c := range chunks {
				cl := strings.Split(c.Content, "\n")
				if i == 0 {
					rebuilt = append(rebuilt, cl...)
					continue
				}
				prev := strings.Split(chunks[i-1].Content, "\n")
				if tt.overlapLines > 0 {
					tail := prev[len(prev)-tt.overlapLines:]
					head := cl[:tt.overlapLines]
					if strings.Join(tail, "\n") != strings.Join(head, "\n") {
						t.Errorf("chunk %d does not start with the tail of chunk %d:\n tail=%q\n head=%q", i, i-1, tail, head)
					}
				}
				rebuilt = append(rebuilt, cl[tt.overlapLines:]...)
			}

			if strings.Join(rebuilt, "\n") != content {
				t.Errorf("chunks minus overlap do not reconstruct the file:\n got %d lines, want %d", len(rebuilt), len(lines))
			}
		})
	}
}

func TestChunkFile_OversizedLine(t *testing.T) {
	long := strings.Repeat("y", 300)
	chunks := ChunkFile("short\n"+long+"\nend", "big.txt", 100, 0)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Content != "short" {
		t.Errorf("chunk 0 = %q, want %q", chunks[0].Content, "short")
	}
	if chunks[1].Content != long {
		t.Errorf("oversized line should be its own chunk, got %d chars", len(chunks[1].Content))
	}
	if chunks[2].Content != "end" {
		t.Errorf("chunk 2 = %q, want %q", chunks[2].Content, "end")
	}
}

func TestChunkFile_SmallFilesStaySingle(t *testing.T) {
	var code []string
	for i := 0; i < 50; i++ {
		code = append(code, fmt.Sprintf("x%02d=%d", i, i))
	}
	chunks := ChunkFile(strings.Join(code, "\n"), "app.py", 1000, 200)
	if len(chunks) != 1 {
		t.Fatalf("expected a 50-line file under the cap to produce 1 chunk, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Content, "// File: app.py\n") {
		t.Errorf("expected python file header, got %q", chunks[0].Content[:20])
	}
	if chunks[0].Metadata.Lines != 51 {
		t.Errorf("lines = %d, want 51", chunks[0].Metadata.Lines)
	}
}

func TestTailLines(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"a\nb\nc", 0, ""},
		{"a\nb\nc", -1, ""},
		{"a\nb\nc", 2, "b\nc"},
		{"a\nb\nc", 5, "a\nb\nc"},
		{"", 1, ""},
	}
	for _, tt := range tests {
		if got := tailLines(tt.in, tt.n); got != tt.want {
			t.Errorf("tailLines(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestDetectType(t *testing.T) {
	tests := map[string]string{
		"a.ts":          "typescript",
		"a.js":          "javascript",
		"a.tsx":         "react-typescript",
		"a.jsx":         "react-javascript",
		"db/schema.sql": "sql",
		"a.py":          "python",
		"README.md":     "markdown",
		"notes.txt":     "text",
		"package.json":  "json",
		"ci.yaml":       "yaml",
		"ci.yml":        "yaml",
		"Cargo.toml":    "toml",
		"main.go":       "go",
		"run.sh":        "shell",
		"Main.GO":       "go",
		"Makefile":      "unknown",
		"image.png":     "unknown",
	}
	for path, want := range tests {
		if got := DetectType(path); got != want {
			t.Errorf("DetectType(%q) = %q, want %q", path, got, want)
		}
	}
}

func BenchmarkChunkFile(b *testing.B) {
	content := strings.Join(numberedLines(2000), "\n")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ChunkFile(content, "bench.txt", 1000, 200)
	}
}
