package models

// Record type discriminators stored in the "type" field.
const (
	RecordTypeContent  = "content"
	RecordTypeRedirect = "redirect"
	RecordTypeError    = "error"
)

// Well-known record field names. Everything else on a record is an open bag
// of extractor-derived fields.
const (
	FieldType          = "type"
	FieldContent       = "_content"
	FieldContentType   = "content_type"
	FieldCrawled       = "crawled"
	FieldLastModified  = "server_last_modified"
	FieldParsedHash    = "parsed_hash"
	FieldRedirectedURL = "redirected_url"
	FieldErrorCode     = "error_code"
	FieldID            = "id"
	FieldURI           = "uri"
	FieldPath          = "path_s"
	FieldTypeURL       = "typeUrl_s"
)

// Extraction output fields, distinct from the raw _content body. The
// extraction pass fills these from external parsers or markdown conversion.
const (
	FieldExtractedTitle   = "title"
	FieldExtractedContent = "content"
)

// BinaryContentPlaceholder is stored in _content for binary records; the
// bytes live under the sibling blob key and the extraction pass fills
// "content" from them.
const BinaryContentPlaceholder = "N/A"

// ContentTypeHTML is the canonical HTML content type records are stored with.
const ContentTypeHTML = "text/html"

// Record is a schemaless document stored under a URL key. Base fields are
// accessed through the typed helpers; extraction rules add arbitrary fields.
type Record map[string]interface{}

// NewHTMLRecord builds a content record holding a raw HTML body.
func NewHTMLRecord(body string, crawled float64, lastModified string) Record {
	r := Record{
		FieldType:        RecordTypeContent,
		FieldContent:     body,
		FieldContentType: ContentTypeHTML,
		FieldParsedHash:  "",
		FieldCrawled:     crawled,
	}
	if lastModified != "" {
		r[FieldLastModified] = lastModified
	}
	return r
}

// NewBinaryRecord builds a content record for a binary body. The bytes
// themselves are stored under the sibling blob key by the store.
func NewBinaryRecord(contentType string, crawled float64, lastModified string) Record {
	r := Record{
		FieldType:        RecordTypeContent,
		FieldContent:     BinaryContentPlaceholder,
		FieldContentType: contentType,
		FieldParsedHash:  "",
		FieldCrawled:     crawled,
	}
	if lastModified != "" {
		r[FieldLastModified] = lastModified
	}
	return r
}

// NewRedirectRecord builds a redirect marker pointing at the final URL.
func NewRedirectRecord(redirectedURL string) Record {
	return Record{
		FieldType:          RecordTypeRedirect,
		FieldRedirectedURL: redirectedURL,
	}
}

// NewErrorRecord builds an error record. The code is either an integer HTTP
// status or a symbolic tag such as "timeout"; the message lands in _content.
func NewErrorRecord(code interface{}, message string) Record {
	return Record{
		FieldType:      RecordTypeError,
		FieldErrorCode: code,
		FieldContent:   message,
	}
}

func (r Record) stringField(name string) string {
	if v, ok := r[name].(string); ok {
		return v
	}
	return ""
}

// Type returns the record discriminator ("content", "redirect" or "error").
func (r Record) Type() string { return r.stringField(FieldType) }

// Content returns the stored body (raw HTML, error message, or the binary
// placeholder).
func (r Record) Content() string { return r.stringField(FieldContent) }

// ContentType returns the stored MIME type.
func (r Record) ContentType() string { return r.stringField(FieldContentType) }

// LastModified returns the server-reported Last-Modified header, if any.
func (r Record) LastModified() string { return r.stringField(FieldLastModified) }

// ParsedHash returns the rule-set fingerprint last applied, or "".
func (r Record) ParsedHash() string { return r.stringField(FieldParsedHash) }

// RedirectedURL returns the redirect target for redirect records.
func (r Record) RedirectedURL() string { return r.stringField(FieldRedirectedURL) }

// Crawled returns the fetch time as seconds since epoch. JSON decoding
// produces float64; zero means the field is absent.
func (r Record) Crawled() float64 {
	switch v := r[FieldCrawled].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// IsHTML reports whether the record holds an HTML body.
func (r Record) IsHTML() bool { return r.ContentType() == ContentTypeHTML }

// Clone returns a shallow copy so callers can strip fields without mutating
// the stored record.
func (r Record) Clone() Record {
	clone := make(Record, len(r))
	for k, v := range r {
		clone[k] = v
	}
	return clone
}
