// internal/browser/grounding.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// maxObserveCandidates caps how many interactable elements one OBSERVE call
// surfaces; a long page can easily have hundreds.
const maxObserveCandidates = 40

// maxExtractChars caps how much page text is handed to the model on EXTRACT.
const maxExtractChars = 20000

// enumerateJS collects the page's interactable elements in a single pass,
// computing an absolute XPath for each so actions can be replayed later.
const enumerateJS = `(() => {
  const xpathOf = (el) => {
    const parts = [];
    for (; el && el.nodeType === Node.ELEMENT_NODE; el = el.parentNode) {
      let idx = 1;
      for (let sib = el.previousSibling; sib; sib = sib.previousSibling) {
        if (sib.nodeType === Node.ELEMENT_NODE && sib.nodeName === el.nodeName) idx++;
      }
      parts.unshift(el.nodeName.toLowerCase() + '[' + idx + ']');
    }
    return '/' + parts.join('/');
  };
  const visible = (el) => {
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  };
  const describe = (el) => {
    const text = (el.innerText || '').trim().replace(/\s+/g, ' ').slice(0, 80);
    return el.getAttribute('aria-label') || text || el.getAttribute('placeholder') ||
      el.getAttribute('value') || el.getAttribute('title') || el.getAttribute('name') ||
      el.getAttribute('href') || el.tagName.toLowerCase();
  };
  const methodOf = (el) => {
    const tag = el.tagName.toLowerCase();
    if (tag === 'select') return 'select';
    if (tag === 'textarea') return 'fill';
    if (tag === 'input') {
      const t = (el.getAttribute('type') || 'text').toLowerCase();
      if (['text','search','email','password','tel','url','number'].includes(t)) return 'fill';
      return 'click';
    }
    return 'click';
  };
  const els = [...document.querySelectorAll("a, button, input, select, textarea, [role='button'], [onclick]")];
  return els.filter(visible).slice(0, %d).map((el) => ({
    description: describe(el),
    method: methodOf(el),
    selector: xpathOf(el),
    arguments: [''],
  }));
})()`

// Observe enumerates candidate actions on the current page. When an
// instruction is given and a grounding client is available, the model narrows
// the candidates to the relevant ones; otherwise all candidates are returned.
func (e *ChromeEngine) Observe(ctx context.Context, instruction string) ([]schemas.ActionDescriptor, error) {
	candidates, err := e.enumerate(ctx)
	if err != nil {
		return nil, err
	}
	if instruction == "" || e.grounder == nil || len(candidates) == 0 {
		return candidates, nil
	}

	filtered, err := e.filterCandidates(ctx, instruction, candidates)
	if err != nil {
		// Filtering is best-effort; a grounding failure here must not fail
		// the step when the raw candidate list is still useful.
		e.logger.Warn("Candidate filtering failed; returning unfiltered observation.", zap.Error(err))
		return candidates, nil
	}
	return filtered, nil
}

// Act resolves a natural-language directive to one candidate element and
// performs the interaction.
func (e *ChromeEngine) Act(ctx context.Context, instruction string) error {
	if e.grounder == nil {
		return fmt.Errorf("cannot resolve freeform directive without a grounding client")
	}
	candidates, err := e.enumerate(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no interactable elements on the current page")
	}

	choice, args, err := e.chooseCandidate(ctx, instruction, candidates)
	if err != nil {
		return err
	}
	action := candidates[choice]
	if len(args) > 0 {
		action.Arguments = args
	}
	return e.ActDescriptor(ctx, action)
}

// ActDescriptor replays an observed action against the page.
func (e *ChromeEngine) ActDescriptor(ctx context.Context, action schemas.ActionDescriptor) error {
	if action.Selector == "" {
		return fmt.Errorf("action descriptor missing selector")
	}
	e.logger.Info("Performing action",
		zap.String("method", action.Method),
		zap.String("description", action.Description))

	arg := ""
	if len(action.Arguments) > 0 {
		arg = action.Arguments[0]
	}

	var task chromedp.Action
	switch action.Method {
	case "fill", "select":
		task = chromedp.SetValue(action.Selector, arg, chromedp.BySearch)
	case "type":
		task = chromedp.SendKeys(action.Selector, arg, chromedp.BySearch)
	case "click", "":
		task = chromedp.Click(action.Selector, chromedp.BySearch)
	default:
		return fmt.Errorf("unsupported action method %q", action.Method)
	}

	if err := e.run(ctx, 0, task); err != nil {
		return fmt.Errorf("failed to perform %s on %q: %w", action.Method, action.Description, err)
	}
	// Interactions often trigger navigation or async updates.
	_ = e.run(ctx, 0, chromedp.Sleep(500*time.Millisecond))
	return nil
}

// Extract reads the page text and asks the model to produce structured data
// per the instruction. The returned payload is opaque JSON.
func (e *ChromeEngine) Extract(ctx context.Context, instruction string) (json.RawMessage, error) {
	if e.grounder == nil {
		return nil, fmt.Errorf("cannot extract without a grounding client")
	}

	var pageText, title, url string
	err := e.run(ctx, 20*time.Second,
		chromedp.Location(&url),
		chromedp.Title(&title),
		chromedp.Text("body", &pageText, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}
	if len(pageText) > maxExtractChars {
		pageText = pageText[:maxExtractChars]
	}

	prompt := fmt.Sprintf(`Page URL: %s
Page title: %s

Page text:
%s

Extraction instruction: %s

Return only a JSON object with the extracted data.`, url, title, pageText, instruction)

	response, err := e.grounder.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: "You extract structured data from web pages. Respond with a single JSON object and nothing else.",
		UserPrompt:   prompt,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction generation failed: %w", err)
	}

	payload, err := schemas.ExtractJSONBlock(response)
	if err != nil {
		return nil, fmt.Errorf("extraction returned no JSON: %w", err)
	}
	if !jsoniter.Valid([]byte(payload)) {
		return nil, fmt.Errorf("extraction returned malformed JSON")
	}
	return json.RawMessage(payload), nil
}

// enumerate runs the in-page collection script.
func (e *ChromeEngine) enumerate(ctx context.Context) ([]schemas.ActionDescriptor, error) {
	var candidates []schemas.ActionDescriptor
	script := fmt.Sprintf(enumerateJS, maxObserveCandidates)
	if err := e.run(ctx, 20*time.Second, chromedp.Evaluate(script, &candidates)); err != nil {
		return nil, fmt.Errorf("failed to enumerate page elements: %w", err)
	}
	return candidates, nil
}

// candidateList renders candidates as a numbered list for grounding prompts.
func candidateList(candidates []schemas.ActionDescriptor) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i, c.Method, c.Description)
	}
	return b.String()
}

// filterCandidates asks the model which candidates match the instruction.
func (e *ChromeEngine) filterCandidates(ctx context.Context, instruction string, candidates []schemas.ActionDescriptor) ([]schemas.ActionDescriptor, error) {
	prompt := fmt.Sprintf(`Instruction: %s

Available page actions:
%s
Return a JSON object {"indices": [...]} listing the numbers of the actions relevant to the instruction, most relevant first.`,
		instruction, candidateList(candidates))

	response, err := e.grounder.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: "You match a user instruction against a list of page actions. Respond with a single JSON object and nothing else.",
		UserPrompt:   prompt,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0},
	})
	if err != nil {
		return nil, err
	}

	indices, err := parseIndices(response)
	if err != nil {
		return nil, err
	}
	var filtered []schemas.ActionDescriptor
	for _, idx := range indices {
		if idx >= 0 && idx < len(candidates) {
			filtered = append(filtered, candidates[idx])
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("no candidates matched the instruction")
	}
	return filtered, nil
}

// chooseCandidate asks the model to pick exactly one candidate for an ACT
// directive, optionally with arguments (text to type, option to select).
func (e *ChromeEngine) chooseCandidate(ctx context.Context, instruction string, candidates []schemas.ActionDescriptor) (int, []string, error) {
	prompt := fmt.Sprintf(`Instruction: %s

Available page actions:
%s
Pick the single action that carries out the instruction. Return a JSON object
{"index": <number>, "arguments": ["<text to type or option value, if any>"]}.
Use {"index": -1} if no action can carry out the instruction.`,
		instruction, candidateList(candidates))

	response, err := e.grounder.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: "You map a user instruction onto exactly one page action. Respond with a single JSON object and nothing else.",
		UserPrompt:   prompt,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0},
	})
	if err != nil {
		return 0, nil, fmt.Errorf("action grounding failed: %w", err)
	}

	payload, err := schemas.ExtractJSONBlock(response)
	if err != nil {
		return 0, nil, fmt.Errorf("action grounding returned no JSON: %w", err)
	}
	var parsed struct {
		Index     int      `json:"index"`
		Arguments []string `json:"arguments"`
	}
	if err := jsoniter.Unmarshal([]byte(payload), &parsed); err != nil {
		return 0, nil, fmt.Errorf("failed to parse action grounding response: %w", err)
	}
	if parsed.Index < 0 || parsed.Index >= len(candidates) {
		return 0, nil, fmt.Errorf("no page action can carry out the instruction %q", instruction)
	}
	return parsed.Index, parsed.Arguments, nil
}

// parseIndices parses a {"indices": [...]} grounding response.
func parseIndices(response string) ([]int, error) {
	payload, err := schemas.ExtractJSONBlock(response)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Indices []int `json:"indices"`
	}
	if err := jsoniter.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse indices response: %w", err)
	}
	return parsed.Indices, nil
}
