package resultparse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/signal-cli/internal/fetcher"
)

// Decoder attempts to decode one output shape. ok is false when the shape
// is not recognized, letting the next decoder try.
type Decoder func(ctx context.Context, raw json.RawMessage) (res Result, ok bool)

// maxFetchDepth bounds how many output files are followed from one output.
const maxFetchDepth = 1

// Parser decodes agent output with an ordered chain of decoders.
type Parser struct {
	fetcher  fetcher.Fetcher
	decoders []namedDecoder
}

type namedDecoder struct {
	name   string
	decode Decoder
}

// New creates a Parser. f is used to download JSON output files and may be
// nil, in which case file references are ignored.
func New(f fetcher.Fetcher) *Parser {
	p := &Parser{fetcher: f}
	p.decoders = []namedDecoder{
		{"messages", func(ctx context.Context, raw json.RawMessage) (Result, bool) { return p.messages(ctx, raw, 0) }},
		{"string", func(ctx context.Context, raw json.RawMessage) (Result, bool) { return p.str(ctx, raw, 0) }},
		{"object", func(ctx context.Context, raw json.RawMessage) (Result, bool) { return p.object(ctx, raw, 0) }},
		{"array", p.array},
		{"text", p.text},
	}
	return p
}

// Parse decodes output into a Result. It never fails: unrecognized or
// malformed output yields a Result with no contacts.
func (p *Parser) Parse(ctx context.Context, output json.RawMessage) Result {
	raw := bytes.TrimSpace(output)
	if len(raw) == 0 || string(raw) == "null" {
		return Result{Shape: ShapeEmpty}
	}
	for _, d := range p.decoders {
		if res, ok := p.try(ctx, d, raw); ok {
			return res
		}
	}
	return Result{Shape: ShapeUnknown, Error: "unrecognized output shape"}
}

// ParseTask decodes a task's output together with its separately listed
// output files. A JSON output file takes precedence over inline output.
func (p *Parser) ParseTask(ctx context.Context, output, files json.RawMessage) Result {
	files = bytes.TrimSpace(files)
	if len(files) > 0 && string(files) != "null" {
		var refs []any
		if err := json.Unmarshal(files, &refs); err == nil {
			if res, ok := p.fetchFirstJSONFile(ctx, refs, 0); ok {
				res.Shape = ShapeObjectFile
				return res
			}
		}
	}
	return p.Parse(ctx, output)
}

func (p *Parser) try(ctx context.Context, d namedDecoder, raw json.RawMessage) (res Result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("resultparse: decoder panicked",
				zap.String("decoder", d.name),
				zap.String("panic", fmt.Sprint(r)),
			)
			res, ok = Result{}, false
		}
	}()
	return d.decode(ctx, raw)
}

// messages decodes an array of chat messages with typed content blocks.
func (p *Parser) messages(ctx context.Context, raw json.RawMessage, depth int) (Result, bool) {
	if len(raw) == 0 || raw[0] != '[' {
		return Result{}, false
	}
	var arr []any
	if err := json.Unmarshal(raw, &arr); err != nil || !isMessageArray(arr) {
		return Result{}, false
	}

	var (
		files []any
		texts []string
	)
	for _, el := range arr {
		msg, _ := el.(map[string]any)
		switch content := msg["content"].(type) {
		case string:
			texts = append(texts, content)
		case []any:
			for _, b := range content {
				block, ok := b.(map[string]any)
				if !ok {
					continue
				}
				switch scalarString(block["type"]) {
				case "output_file", "file":
					files = append(files, block)
				case "output_text", "text":
					if t, ok := block["text"].(string); ok {
						texts = append(texts, t)
					}
				}
			}
		}
	}

	if res, ok := p.fetchFirstJSONFile(ctx, files, depth); ok {
		res.Shape = ShapeMessagesFile
		return res, true
	}

	var fallback *Result
	for _, t := range texts {
		obj, ok := ExtractObject(t)
		if !ok {
			continue
		}
		res, ok := p.object(ctx, json.RawMessage(obj), depth)
		if !ok {
			continue
		}
		if len(res.Contacts) > 0 {
			res.Shape = ShapeMessages
			return res, true
		}
		if fallback == nil {
			fallback = &res
		}
	}
	if fallback != nil {
		fallback.Shape = ShapeMessages
		return *fallback, true
	}
	return Result{Shape: ShapeMessages}, true
}

func isMessageArray(arr []any) bool {
	for _, el := range arr {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := m["role"]; ok {
			return true
		}
		if blocks, ok := m["content"].([]any); ok {
			for _, b := range blocks {
				if bm, ok := b.(map[string]any); ok && bm["type"] != nil {
					return true
				}
			}
		}
	}
	return false
}

// str decodes a JSON string holding JSON, either directly or embedded in
// surrounding text.
func (p *Parser) str(ctx context.Context, raw json.RawMessage, depth int) (Result, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return Result{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return Result{}, false
	}
	// Doubly encoded strings are common; unwrap a few levels.
	for range 3 {
		t := strings.TrimSpace(s)
		if !strings.HasPrefix(t, `"`) {
			break
		}
		var inner string
		if err := json.Unmarshal([]byte(t), &inner); err != nil {
			break
		}
		s = inner
	}

	res := p.fromText(ctx, s, depth)
	res.Shape = ShapeString
	return res, true
}

// fromText decodes JSON held in free text.
func (p *Parser) fromText(ctx context.Context, s string, depth int) Result {
	t := strings.TrimSpace(s)
	if json.Valid([]byte(t)) && (strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[")) {
		if res, ok := p.structured(ctx, json.RawMessage(t), depth); ok {
			return res
		}
	}
	if obj, ok := ExtractObject(t); ok {
		if res, ok := p.object(ctx, json.RawMessage(obj), depth); ok {
			return res
		}
	}
	return Result{Error: "no JSON object found in output text"}
}

// structured tries the JSON container decoders in chain order.
func (p *Parser) structured(ctx context.Context, raw json.RawMessage, depth int) (Result, bool) {
	if res, ok := p.messages(ctx, raw, depth); ok {
		return res, true
	}
	if res, ok := p.object(ctx, raw, depth); ok {
		return res, true
	}
	return p.array(ctx, raw)
}

// object decodes a JSON object with contacts at a known path.
func (p *Parser) object(ctx context.Context, raw json.RawMessage, depth int) (Result, bool) {
	if len(raw) == 0 || raw[0] != '{' {
		return Result{}, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Result{}, false
	}

	for _, key := range []string{"files", "output_files"} {
		if refs, ok := m[key].([]any); ok {
			if res, ok := p.fetchFirstJSONFile(ctx, refs, depth); ok {
				res.Shape = ShapeObjectFile
				return res, true
			}
		}
	}

	res := Result{Shape: ShapeObject}
	for _, holder := range []map[string]any{m, nested(m, "data"), nested(m, "result")} {
		if holder == nil {
			continue
		}
		if _, ok := holder["contacts"]; ok && res.Contacts == nil {
			res.Contacts = contactsFrom(holder["contacts"])
		}
		if info, ok := holder["company_info"].(map[string]any); ok && res.CompanyInfo == nil {
			res.CompanyInfo = info
		}
		if res.SearchMethod == "" {
			res.SearchMethod = scalarString(holder["search_method"])
		}
	}
	if e := scalarString(m["error"]); e != "" {
		res.Error = e
	}
	return res, true
}

func nested(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

// array decodes a bare array, keeping the elements that look like contacts.
func (p *Parser) array(_ context.Context, raw json.RawMessage) (Result, bool) {
	if len(raw) == 0 || raw[0] != '[' {
		return Result{}, false
	}
	var arr []any
	if err := json.Unmarshal(raw, &arr); err != nil {
		return Result{}, false
	}
	return Result{Contacts: contactsFrom(arr), Shape: ShapeArray}, true
}

// text handles output that is not valid JSON at all.
func (p *Parser) text(ctx context.Context, raw json.RawMessage) (Result, bool) {
	if json.Valid(raw) {
		return Result{}, false
	}
	res := p.fromText(ctx, string(raw), 0)
	res.Shape = ShapeText
	return res, true
}

// fetchFirstJSONFile downloads the first file reference that denotes JSON
// and decodes it. Download or decode failures fall through to inline output.
func (p *Parser) fetchFirstJSONFile(ctx context.Context, refs []any, depth int) (Result, bool) {
	if p.fetcher == nil || depth >= maxFetchDepth {
		return Result{}, false
	}
	for _, ref := range refs {
		url, ok := jsonFileURL(ref)
		if !ok {
			continue
		}
		var v any
		if err := fetcher.FetchJSON(ctx, p.fetcher, url, &v); err != nil {
			zap.L().Warn("resultparse: output file fetch failed",
				zap.String("url", url),
				zap.Error(err),
			)
			return Result{}, false
		}
		data, err := json.Marshal(v)
		if err != nil {
			return Result{}, false
		}
		raw := json.RawMessage(data)
		if res, ok := p.str(ctx, raw, depth+1); ok {
			return res, true
		}
		if res, ok := p.structured(ctx, raw, depth+1); ok {
			return res, true
		}
		return Result{}, false
	}
	return Result{}, false
}

// jsonFileURL reports the download URL of a file reference whose MIME type
// or filename indicates JSON. A reference may be an object or a bare URL.
func jsonFileURL(ref any) (string, bool) {
	switch r := ref.(type) {
	case string:
		if strings.HasSuffix(strings.ToLower(stripQuery(r)), ".json") {
			return r, true
		}
	case map[string]any:
		url := firstString(r, "url", "file_url", "download_url", "signed_url")
		if url == "" {
			return "", false
		}
		mime := strings.ToLower(firstString(r, "mime_type", "mime", "media_type", "content_type"))
		name := strings.ToLower(firstString(r, "filename", "file_name", "name"))
		if strings.Contains(mime, "json") || strings.HasSuffix(name, ".json") ||
			(mime == "" && name == "" && strings.HasSuffix(strings.ToLower(stripQuery(url)), ".json")) {
			return url, true
		}
	}
	return "", false
}

func stripQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}
