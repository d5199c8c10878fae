// Package normalizer maps completion-provider response payloads of varying
// shape to a single plain-text result.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnrecognizedShape reports a payload that matched none of the known
// shapes. Callers must treat it as a protocol mismatch, not an empty answer.
var ErrUnrecognizedShape = errors.New("normalizer: unrecognized response shape")

// Shape extracts text from one known payload layout. Extract returns ok=false
// when the payload does not have this layout.
type Shape struct {
	Name    string
	Extract func(payload map[string]any) (text string, ok bool)
}

// DefaultShapes lists the known layouts from most to least specific.
var DefaultShapes = []Shape{
	{Name: "candidates.output", Extract: candidatesOutput},
	{Name: "candidates.content.parts", Extract: candidatesContentParts},
	{Name: "output", Extract: topLevelOutput},
	{Name: "choices.message", Extract: choicesMessage},
	{Name: "text", Extract: directText},
	{Name: "result.output", Extract: legacyResultOutput},
}

// Normalizer evaluates shapes in order and returns the first match.
type Normalizer struct {
	shapes []Shape
}

// New returns a Normalizer over shapes; with no shapes it uses DefaultShapes.
func New(shapes ...Shape) *Normalizer {
	if len(shapes) == 0 {
		shapes = DefaultShapes
	}
	return &Normalizer{shapes: shapes}
}

// Extract returns the text of the first matching shape and its name.
func (n *Normalizer) Extract(payload any) (text, shape string, err error) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return "", "", ErrUnrecognizedShape
	}
	for _, s := range n.shapes {
		if text, ok := s.Extract(obj); ok {
			return text, s.Name, nil
		}
	}
	return "", "", ErrUnrecognizedShape
}

// Normalize decodes raw JSON and extracts its text.
func (n *Normalizer) Normalize(raw []byte) (string, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("%w: decode payload: %v", ErrUnrecognizedShape, err)
	}
	text, _, err := n.Extract(payload)
	return text, err
}

// Normalize runs the default shape chain over raw JSON.
func Normalize(raw []byte) (string, error) {
	return New().Normalize(raw)
}

// candidatesOutput: {candidates:[{output:[{content:[{text|data}]}]}]}
func candidatesOutput(obj map[string]any) (string, bool) {
	first, ok := firstObject(obj["candidates"])
	if !ok {
		return "", false
	}
	return firstContentList(first["output"])
}

// candidatesContentParts: {candidates:[{content:{parts:[{text}]}}]}
func candidatesContentParts(obj map[string]any) (string, bool) {
	first, ok := firstObject(obj["candidates"])
	if !ok {
		return "", false
	}
	content, ok := first["content"].(map[string]any)
	if !ok {
		return "", false
	}
	return joinFragments(blockFragments(content["parts"]))
}

// topLevelOutput: {output:[{content:[{text|data}]}]}
func topLevelOutput(obj map[string]any) (string, bool) {
	return firstContentList(obj["output"])
}

// choicesMessage: {choices:[{message:{content}}]}
func choicesMessage(obj map[string]any) (string, bool) {
	first, ok := firstObject(obj["choices"])
	if !ok {
		return "", false
	}
	msg, ok := first["message"].(map[string]any)
	if !ok {
		return "", false
	}
	content, ok := msg["content"].(string)
	if !ok || content == "" {
		return "", false
	}
	return content, true
}

// directText: {text:"..."}. An explicit empty string is a valid result.
func directText(obj map[string]any) (string, bool) {
	text, ok := obj["text"].(string)
	return text, ok
}

// legacyResultOutput: {result:{output:["..."]}} or
// {result:{output:[{content:[{text}|"..."]}]}}.
func legacyResultOutput(obj map[string]any) (string, bool) {
	result, ok := obj["result"].(map[string]any)
	if !ok {
		return "", false
	}
	output, ok := result["output"].([]any)
	if !ok || len(output) == 0 {
		return "", false
	}
	switch first := output[0].(type) {
	case string:
		return first, true
	case map[string]any:
		content, ok := first["content"].([]any)
		if !ok {
			return "", false
		}
		var parts []string
		for _, c := range content {
			if s, ok := c.(string); ok && s != "" {
				parts = append(parts, s)
				continue
			}
			if frag, ok := blockFragment(c); ok {
				parts = append(parts, frag)
			}
		}
		return joinFragments(parts)
	}
	return "", false
}

// firstContentList scans an output list and returns the fragments of the
// first entry whose content list yields any.
func firstContentList(v any) (string, bool) {
	outputs, ok := v.([]any)
	if !ok {
		return "", false
	}
	for _, o := range outputs {
		out, ok := o.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := joinFragments(blockFragments(out["content"])); ok {
			return text, true
		}
	}
	return "", false
}

func blockFragments(v any) []string {
	blocks, ok := v.([]any)
	if !ok {
		return nil
	}
	var parts []string
	for _, b := range blocks {
		if frag, ok := blockFragment(b); ok {
			parts = append(parts, frag)
		}
	}
	return parts
}

// blockFragment returns a content block's text, falling back to data.
func blockFragment(v any) (string, bool) {
	block, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	for _, key := range []string{"text", "data"} {
		if s, ok := block[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func firstObject(v any) (map[string]any, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	obj, ok := list[0].(map[string]any)
	return obj, ok
}

func joinFragments(parts []string) (string, bool) {
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}
