package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// KnowledgeBase is the reference material appended to the chat prompt. It is
// read once at start-up and never changes afterwards.
type KnowledgeBase struct {
	text  string
	files int
}

// LoadKnowledgeBase concatenates every .md and .txt file in dir, sorted by
// name. A missing directory yields an empty knowledge base.
func LoadKnowledgeBase(dir string, logger *zap.Logger) (*KnowledgeBase, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("knowledge directory not found, chat runs without reference material", zap.String("dir", dir))
			return &KnowledgeBase{}, nil
		}
		return nil, fmt.Errorf("failed to read knowledge directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".md", ".txt":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var contextBuilder strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read knowledge file %s: %w", name, err)
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		if contextBuilder.Len() > 0 {
			contextBuilder.WriteString("\n\n") // Separate documents clearly
		}
		contextBuilder.WriteString(content)
	}

	kb := &KnowledgeBase{text: contextBuilder.String(), files: len(names)}
	logger.Info("knowledge base loaded", zap.Int("files", kb.files), zap.Int("bytes", len(kb.text)))
	return kb, nil
}

func (k *KnowledgeBase) Text() string {
	if k == nil {
		return ""
	}
	return k.text
}
