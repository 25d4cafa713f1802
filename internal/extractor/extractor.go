package extractor

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/storage"
)

// strippedTags are removed before CSS rules and markdown conversion run.
// Chrome and scripting elements carry no document text.
const strippedTags = "script, style, noscript, footer, header, nav, button, form"

// Extractor applies the crawl's extraction rule set to every stale content
// record in a store, derives the index fields, and enriches binary and
// article documents through the configured external services.
type Extractor struct {
	store        *storage.DocumentStore
	settings     *models.CrawlSettings
	unstructured *UnstructuredClient
	article      *ArticleClient
	regexes      map[string]*regexp.Regexp
	logger       arbor.ILogger
}

// New builds an extractor for one crawl. External clients attach only when
// their endpoints are configured, and the article parser additionally
// requires the crawl to ask for AI parsing.
func New(store *storage.DocumentStore, settings *models.CrawlSettings, extCfg common.ExtractionConfig, logger arbor.ILogger) *Extractor {
	e := &Extractor{
		store:    store,
		settings: settings,
		regexes:  make(map[string]*regexp.Regexp),
		logger:   logger,
	}
	if extCfg.UnstructuredURL != "" {
		e.unstructured = NewUnstructuredClient(extCfg.UnstructuredURL, logger)
	}
	if settings.AIParsing && extCfg.ArticleAPIURL != "" {
		e.article = NewArticleClient(extCfg.ArticleAPIURL, extCfg.ArticleAPIKey, extCfg.ArticleBatchSize, logger)
	}
	if !settings.ExtractionRules.Empty() {
		for _, rule := range settings.ExtractionRules.Rules {
			if rule.Regex == "" {
				continue
			}
			if re, err := regexp.Compile(rule.Regex); err == nil {
				e.regexes[rule.Regex] = re
			} else {
				logger.Warn().Err(err).Str("field", rule.FieldName).Msg("Skipping rule with invalid regex")
			}
		}
	}
	return e
}

// Run re-extracts every content record whose parsed_hash does not match the
// current rule-set fingerprint. Records the external services fail on keep
// their stale hash, so a later pass retries them.
func (e *Extractor) Run(ctx context.Context) error {
	rules := e.settings.ExtractionRules
	if rules.Empty() && !e.settings.AIParsing && !e.settings.MarkdownContent && e.unstructured == nil {
		return nil
	}

	fingerprint := rules.Fingerprint()

	var keys []string
	err := e.store.Iterate(func(key string, rec models.Record) bool {
		if rec.Type() == models.RecordTypeContent && rec.ParsedHash() != fingerprint {
			keys = append(keys, key)
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to scan store: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	e.logger.Info().
		Int("records", len(keys)).
		Str("fingerprint", fingerprint).
		Msg("Starting extraction pass")

	// HTML records destined for the article parser accumulate here and are
	// flushed a batch at a time.
	var pending []storage.KeyedRecord

	for _, key := range keys {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := e.store.GetRecord(key)
		if err != nil {
			e.logger.Warn().Err(err).Str("url", key).Msg("Failed to reload record, skipping")
			continue
		}

		if err := e.extractRecord(ctx, key, rec); err != nil {
			e.logger.Warn().Err(err).Str("url", key).Msg("Extraction failed for record")
			continue
		}

		if e.article != nil && rec.IsHTML() {
			pending = append(pending, storage.KeyedRecord{Key: key, Record: rec})
			if len(pending) >= e.article.BatchSize() {
				e.parseArticles(ctx, pending, fingerprint)
				pending = pending[:0]
			}
			continue
		}

		rec[models.FieldParsedHash] = fingerprint
		if err := e.store.PutRecord(key, rec); err != nil {
			return fmt.Errorf("failed to write record %s: %w", key, err)
		}
	}
	if e.article != nil && len(pending) > 0 {
		e.parseArticles(ctx, pending, fingerprint)
	}

	e.logger.Info().Int("records", len(keys)).Msg("Extraction pass completed")
	return nil
}

// extractRecord fills rule fields, derived index fields and binary text for
// one record in place. The caller writes the record back.
func (e *Extractor) extractRecord(ctx context.Context, key string, rec models.Record) error {
	raw := rec.Content()

	doc, err := cleanHTML(raw)
	if err != nil {
		return err
	}

	for name, value := range e.applyRules(doc, raw) {
		rec[name] = value
	}

	rec[models.FieldURI] = key
	rec[models.FieldPath] = GetPath(key)
	rec[models.FieldTypeURL] = GetTypeFromURL(key)
	rec[models.FieldID] = CreateID(key)

	if !rec.IsHTML() {
		if e.unstructured == nil {
			return nil
		}
		data, err := e.store.GetBlob(key)
		if err != nil {
			return fmt.Errorf("failed to load blob: %w", err)
		}
		content, title, err := e.unstructured.ExtractText(ctx, blobFilename(key), data)
		if err != nil {
			return fmt.Errorf("failed to extract text: %w", err)
		}
		rec[models.FieldExtractedContent] = content
		rec[models.FieldExtractedTitle] = title
		return nil
	}

	if e.settings.MarkdownContent && e.article == nil {
		markdown, err := markdownFromHTML(key, doc)
		if err != nil {
			return err
		}
		rec[models.FieldExtractedContent] = markdown
	}
	return nil
}

// parseArticles enriches one batch of HTML records through the article
// parser and writes them back with the new fingerprint. Items the parser
// fails on are dropped and retried on the next pass.
func (e *Extractor) parseArticles(ctx context.Context, batch []storage.KeyedRecord, fingerprint string) {
	urls := make([]string, len(batch))
	for i, item := range batch {
		urls[i] = item.Key
	}

	results, err := e.article.ParseBatch(ctx, urls)
	if err != nil {
		e.logger.Warn().Err(err).Int("urls", len(urls)).Msg("Article parsing failed for batch")
		return
	}

	for _, item := range batch {
		fields, ok := results[item.Key]
		if !ok {
			e.logger.Warn().Str("url", item.Key).Msg("Article parser returned no result for url")
			continue
		}
		mergeArticleFields(item.Record, fields)

		if e.settings.MarkdownContent {
			if text, _ := item.Record[models.FieldExtractedContent].(string); text == "" {
				if doc, err := cleanHTML(item.Record.Content()); err == nil {
					if markdown, err := markdownFromHTML(item.Key, doc); err == nil {
						item.Record[models.FieldExtractedContent] = markdown
					}
				}
			}
		}

		item.Record[models.FieldParsedHash] = fingerprint
		if err := e.store.PutRecord(item.Key, item.Record); err != nil {
			e.logger.Error().Err(err).Str("url", item.Key).Msg("Failed to write extracted record")
		}
	}
}

// applyRules evaluates every rule: zero matches resolve to the default, one
// match to a scalar, several to a list. CSS selectors run over the cleaned
// document; regex rules run case-sensitively over the raw markup and take
// the first capture.
func (e *Extractor) applyRules(doc *goquery.Document, raw string) map[string]interface{} {
	out := make(map[string]interface{})
	rules := e.settings.ExtractionRules
	if rules.Empty() {
		return out
	}
	for _, rule := range rules.Rules {
		switch {
		case rule.CSS != "":
			out[rule.FieldName] = extractCSS(doc, rule)
		case rule.Regex != "":
			out[rule.FieldName] = e.extractRegex(raw, rule)
		case rule.FixedValue != "":
			out[rule.FieldName] = rule.FixedValue
		default:
			if rule.DefaultValue != "" {
				out[rule.FieldName] = rule.DefaultValue
			} else {
				out[rule.FieldName] = ""
			}
		}
	}
	return out
}

func extractCSS(doc *goquery.Document, rule models.ExtractionRule) interface{} {
	sel := doc.Find(rule.CSS)
	switch sel.Length() {
	case 0:
		if rule.DefaultValue != "" {
			return rule.DefaultValue
		}
		return ""
	case 1:
		return nodeValue(sel, rule)
	default:
		values := make([]string, 0, sel.Length())
		sel.Each(func(_ int, node *goquery.Selection) {
			values = append(values, nodeValue(node, rule))
		})
		return values
	}
}

func nodeValue(sel *goquery.Selection, rule models.ExtractionRule) string {
	if rule.Attribute != "" {
		value, _ := sel.Attr(rule.Attribute)
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(sel.Text())
}

func (e *Extractor) extractRegex(raw string, rule models.ExtractionRule) string {
	re, ok := e.regexes[rule.Regex]
	if !ok {
		return ""
	}
	match := re.FindStringSubmatch(raw)
	if match == nil {
		return ""
	}
	if len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return strings.TrimSpace(match[0])
}

// cleanHTML parses markup and strips the chrome elements.
func cleanHTML(markup string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	doc.Find(strippedTags).Remove()
	return doc, nil
}

// markdownFromHTML renders the cleaned document as markdown, resolving
// relative links against the page URL.
func markdownFromHTML(pageURL string, doc *goquery.Document) (string, error) {
	cleaned, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("failed to serialise html: %w", err)
	}
	markdown, err := md.NewConverter(pageURL, true, nil).ConvertString(cleaned)
	if err != nil {
		return "", fmt.Errorf("failed to convert html to markdown: %w", err)
	}
	return markdown, nil
}

// blobFilename derives the multipart filename reported to the text
// extractor from the document URL.
func blobFilename(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "document"
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "/" || base == "" {
		return "document"
	}
	return base
}
