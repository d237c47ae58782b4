package indexer

import (
	"path/filepath"
	"strings"
)

const unknownType = "unknown"

var fileTypes = map[string]string{
	".ts":   "typescript",
	".js":   "javascript",
	".tsx":  "react-typescript",
	".jsx":  "react-javascript",
	".sql":  "sql",
	".py":   "python",
	".md":   "markdown",
	".txt":  "text",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".go":   "go",
	".sh":   "shell",
}

// DetectType maps a path's extension to the file type label stored with each chunk.
func DetectType(path string) string {
	if t, ok := fileTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return unknownType
}

func isCode(ext string) bool {
	switch ext {
	case ".ts", ".js", ".tsx", ".jsx", ".go", ".py":
		return true
	}
	return false
}
