package feed

import (
	"bytes"
	"fmt"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// Article is readable content extracted from a fetched HTML page.
type Article struct {
	Title         string     `json:"title"`
	Text          string     `json:"text"`
	HTML          string     `json:"html"`
	Author        string     `json:"author,omitempty"`
	PublishedTime *time.Time `json:"published_time,omitempty"`
}

type ContentExtractor struct{}

func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{}
}

func (e *ContentExtractor) Run(data []byte, pageURL string) (*Article, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("HTML data is empty")
	}

	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(data), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract content: %w", err)
	}

	if article.Content == "" {
		return nil, fmt.Errorf("no content extracted from HTML data")
	}

	return &Article{
		Title:         article.Title,
		Text:          article.TextContent,
		HTML:          article.Content,
		Author:        article.Byline,
		PublishedTime: article.PublishedTime,
	}, nil
}
