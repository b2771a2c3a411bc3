package signal

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-cli/internal/resultparse"
)

// extraction is the JSON contract the model is asked to return.
type extraction struct {
	Signals []extractedSignal `json:"signals"`
}

type extractedSignal struct {
	ItemIndex   *int   `json:"item_index"`
	CompanyName string `json:"company_name"`
	SignalType  string `json:"signal_type"`
	Detail      string `json:"detail"`
	Score       int    `json:"score"`
	SourceURL   string `json:"source_url"`
}

// parseExtraction decodes model output: strict JSON first, then with
// Markdown fences stripped, then the outermost {...} in the text. The object
// must carry a top-level "signals" key; a reply truncated mid-object is an
// error, never an empty extraction.
func parseExtraction(text string) (*extraction, error) {
	candidates := []string{strings.TrimSpace(text), stripFences(text)}
	if obj, ok := resultparse.OutermostObject(text); ok {
		candidates = append(candidates, obj)
	}

	var lastErr error
	for _, c := range candidates {
		if c == "" {
			continue
		}
		out, err := decodeExtraction(c)
		if err != nil {
			lastErr = err
			continue
		}
		return out, nil
	}
	if lastErr == nil {
		lastErr = eris.New("empty response")
	}
	return nil, eris.Wrap(lastErr, "signal: parse model response")
}

func decodeExtraction(c string) (*extraction, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(c), &top); err != nil {
		return nil, err
	}
	raw, ok := top["signals"]
	if !ok {
		return nil, eris.New("response has no signals key")
	}
	var out extraction
	if err := json.Unmarshal(raw, &out.Signals); err != nil {
		return nil, eris.Wrap(err, "decode signals")
	}
	return &out, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```JSON", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			if idx := strings.LastIndex(text, "```"); idx >= 0 {
				text = text[:idx]
			}
			break
		}
	}
	return strings.TrimSpace(text)
}
