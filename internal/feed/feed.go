package feed

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/webnote/internal/workspaces"
	"github.com/gorilla/feeds"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const (
	feedDescription = "Webnote RSS feed"
	maxTitleRunes   = 60
)

// Builder renders a workspace board as an RSS 2.0 document.
type Builder struct {
	markdown goldmark.Markdown
}

// NewBuilder constructs a Builder whose item content is rendered from note text as Markdown.
func NewBuilder() *Builder {
	return &Builder{
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithXHTML(),
			),
		),
	}
}

// WorkspaceLink returns the public URL of a workspace view. The name is escaped
// twice because clients unescape it once before the router does.
func WorkspaceLink(baseURL, name string) string {
	return strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(url.PathEscape(name))
}

// Build renders the board's notes as feed items, the most recently added note first.
func (b *Builder) Build(baseURL string, board workspaces.Board) (string, error) {
	link := WorkspaceLink(baseURL, board.Workspace.Name)
	document := &feeds.Feed{
		Title:       Unquote(board.Workspace.Name),
		Link:        &feeds.Link{Href: link},
		Description: feedDescription,
		Updated:     board.Workspace.LatestSave(),
	}

	items := make([]*feeds.Item, 0, len(board.Notes))
	for index := len(board.Notes) - 1; index >= 0; index-- {
		note := board.Notes[index]
		text := strings.TrimSpace(Unquote(note.Text))
		content, err := b.renderContent(text)
		if err != nil {
			return "", fmt.Errorf("render note %s: %w", note.ID, err)
		}
		items = append(items, &feeds.Item{
			Id:          link + "#" + note.ID,
			Title:       itemTitle(text),
			Link:        &feeds.Link{Href: link + "#" + note.ID},
			Description: text,
			Content:     content,
		})
	}
	document.Items = items

	return document.ToRss()
}

func (b *Builder) renderContent(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	var buffer bytes.Buffer
	if err := b.markdown.Convert([]byte(text), &buffer); err != nil {
		return "", err
	}
	return buffer.String(), nil
}

// itemTitle takes the first line of text, truncated to maxTitleRunes runes.
func itemTitle(text string) string {
	firstLine, _, _ := strings.Cut(text, "\n")
	firstLine = strings.TrimRight(firstLine, "\r")
	if utf8.RuneCountInString(firstLine) <= maxTitleRunes {
		return firstLine
	}
	runes := []rune(firstLine)
	return string(runes[:maxTitleRunes])
}

// Unquote decodes %XX escapes. Malformed escapes are kept literally while valid
// ones around them still decode; invalid UTF-8 bytes become U+FFFD.
func Unquote(value string) string {
	if !strings.Contains(value, "%") {
		return value
	}
	decoded := make([]byte, 0, len(value))
	for index := 0; index < len(value); index++ {
		if value[index] == '%' && index+2 < len(value) {
			if octet, err := hex.DecodeString(value[index+1 : index+3]); err == nil {
				decoded = append(decoded, octet[0])
				index += 2
				continue
			}
		}
		decoded = append(decoded, value[index])
	}

	var builder strings.Builder
	builder.Grow(len(decoded))
	for len(decoded) > 0 {
		r, size := utf8.DecodeRune(decoded)
		builder.WriteRune(r)
		decoded = decoded[size:]
	}
	return builder.String()
}
