package agents

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/stage"
	"conveyor/internal/textutil"
)

const (
	maxKeyPoints    = 5
	keyPointRunes   = 220
	minParagraphLen = 20
)

// Scout normalizes the source body and applies the owner's source filters.
// It never calls the model. Filtered sources fail the item at this stage.
type Scout struct{}

// Execute implements stage.Handler.
func (Scout) Execute(_ context.Context, in stage.Input) (stage.Result, error) {
	source := in.Item.Source
	if in.Settings != nil {
		if reason := filterReason(source, in.Settings.Filters); reason != "" {
			return stage.Result{}, services.Wrap(services.ErrValidation, queue.StageScout.String(), "filter source",
				"source filtered: "+reason, nil)
		}
	}

	title, paragraphs, err := extractText(source.Body())
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrValidation, queue.StageScout.String(), "parse source",
			"source body could not be parsed", err)
	}
	if len(paragraphs) == 0 {
		return stage.Result{}, services.Wrap(services.ErrValidation, queue.StageScout.String(), "parse source",
			"source has no readable text", nil)
	}
	if t := strings.TrimSpace(source.Title); t != "" {
		title = t
	}
	if title == "" {
		title = textutil.Truncate(paragraphs[0], 80)
	}

	keyPoints := make([]string, 0, maxKeyPoints)
	for _, p := range paragraphs {
		if len(keyPoints) == maxKeyPoints {
			break
		}
		if len([]rune(p)) < minParagraphLen {
			continue
		}
		keyPoints = append(keyPoints, textutil.Truncate(p, keyPointRunes))
	}

	payload := queue.ScoutPayload{
		Title:     title,
		CleanText: strings.Join(paragraphs, "\n\n"),
		KeyPoints: keyPoints,
		Relevant:  true,
	}
	return stage.Result{
		Payload: payload,
		Note:    fmt.Sprintf("%d paragraphs", len(paragraphs)),
	}, nil
}

// filterReason returns why source is rejected by filters, or "".
func filterReason(source queue.SourceData, filters queue.SourceFilters) string {
	if len(filters.AllowedSourceTypes) > 0 {
		kind := textutil.NormalizeRule(source.SourceType)
		allowed := slices.ContainsFunc(filters.AllowedSourceTypes, func(t string) bool {
			return textutil.NormalizeRule(t) == kind
		})
		if !allowed {
			return fmt.Sprintf("source type %q not allowed", source.SourceType)
		}
	}
	if filters.MinEngagement > 0 && source.Engagement() < filters.MinEngagement {
		return fmt.Sprintf("engagement %.0f below minimum %.0f", source.Engagement(), filters.MinEngagement)
	}
	if len(filters.BlockedKeywords) > 0 {
		haystack := textutil.NormalizeRule(source.Title + " " + source.Body())
		for _, keyword := range filters.BlockedKeywords {
			needle := textutil.NormalizeRule(keyword)
			if needle != "" && strings.Contains(haystack, needle) {
				return fmt.Sprintf("blocked keyword %q", keyword)
			}
		}
	}
	return ""
}

// extractText returns the document title and its readable paragraphs.
// Plain text is split on blank lines; markup is reduced to its block text.
func extractText(body string) (string, []string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", nil, nil
	}
	if !looksLikeHTML(body) {
		return "", splitParagraphs(body), nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()

	title := textutil.CollapseWhitespace(doc.Find("title").First().Text())
	if title == "" {
		title = textutil.CollapseWhitespace(doc.Find("h1").First().Text())
	}

	var paragraphs []string
	doc.Find("p, li, blockquote, h2, h3, pre").Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are reported by their innermost element.
		if s.Find("p, li, blockquote").Length() > 0 {
			return
		}
		if text := textutil.CollapseWhitespace(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		if text := textutil.CollapseWhitespace(doc.Find("body").Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	return title, paragraphs, nil
}

func looksLikeHTML(body string) bool {
	lower := strings.ToLower(body)
	for _, tag := range []string{"<html", "<body", "<p>", "<p ", "<div", "<article", "<br", "<li>"} {
		if strings.Contains(lower, tag) {
			return true
		}
	}
	return false
}

func splitParagraphs(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(body, "\n\n") {
		if text := textutil.CollapseWhitespace(block); text != "" {
			out = append(out, text)
		}
	}
	return out
}
