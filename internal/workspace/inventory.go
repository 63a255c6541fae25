package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Document summarizes one markdown file in the workspace.
type Document struct {
	Name     string    `json:"name"`
	Title    string    `json:"title"`
	Sections []string  `json:"sections"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Inventory lists the markdown documents in dir, sorted by name. The
// title is the first level-1 heading; sections are level-2 headings.
func Inventory(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	md := goldmark.New()
	var docs []Document
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		doc := Document{Name: e.Name(), Size: info.Size(), Modified: info.ModTime()}
		doc.Title, doc.Sections = outline(md, src)
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

func outline(md goldmark.Markdown, src []byte) (title string, sections []string) {
	root := md.Parser().Parse(text.NewReader(src))
	sections = []string{}
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		label := strings.TrimSpace(string(h.Text(src)))
		switch {
		case h.Level == 1 && title == "":
			title = label
		case h.Level == 2:
			sections = append(sections, label)
		}
		return ast.WalkSkipChildren, nil
	})
	return title, sections
}
