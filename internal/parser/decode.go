package parser

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/zhaobenny/cptop/internal/model"
)

type modelInfo struct {
	family  string
	billing *model.Billing
}

type modelCall struct {
	model      string
	billing    *model.Billing
	usage      model.TokenUsage
	durationMS int64
	sessionID  string
}

// decodeModelInfo reads a "Got model info" block
func decodeModelInfo(block []byte) (modelInfo, error) {
	if !gjson.ValidBytes(block) {
		return modelInfo{}, errors.New("invalid JSON")
	}
	doc := gjson.ParseBytes(block)
	if !doc.IsObject() {
		return modelInfo{}, errors.New("not a JSON object")
	}

	info := modelInfo{
		family: doc.Get("capabilities.family").String(),
	}
	if info.family == "" {
		info.family = doc.Get("id").String()
	}
	b, err := decodeBilling(doc.Get("billing"))
	if err != nil {
		return modelInfo{}, err
	}
	info.billing = b
	return info, nil
}

// decodeModelCall reads a cli.model_call telemetry block
func decodeModelCall(block []byte) (modelCall, error) {
	if !gjson.ValidBytes(block) {
		return modelCall{}, errors.New("invalid JSON")
	}
	doc := gjson.ParseBytes(block)
	if !doc.IsObject() {
		return modelCall{}, errors.New("not a JSON object")
	}

	call := modelCall{
		model: doc.Get("model").String(),
		usage: model.TokenUsage{
			PromptTokens:     count(doc, "prompt_tokens_count"),
			CompletionTokens: count(doc, "completion_tokens_count"),
			CachedTokens:     count(doc, "cached_tokens_count"),
		},
		durationMS: count(doc, "duration_ms"),
		sessionID:  doc.Get("session_id").String(),
	}

	// Newer CLI builds report billing on the call itself.
	billing := doc.Get("billing")
	if !billing.Exists() && (doc.Get("multiplier").Exists() || doc.Get("is_premium").Exists()) {
		billing = doc
	}
	b, err := decodeBilling(billing)
	if err != nil {
		return modelCall{}, err
	}
	call.billing = b
	return call, nil
}

// decodeBilling returns nil when neither multiplier nor is_premium is present
func decodeBilling(v gjson.Result) (*model.Billing, error) {
	if !v.IsObject() {
		return nil, nil
	}
	var b model.Billing
	if mult := v.Get("multiplier"); mult.Exists() {
		if mult.Type != gjson.Number {
			return nil, fmt.Errorf("billing multiplier is not a number: %s", mult.Raw)
		}
		if mult.Float() < 0 {
			return nil, fmt.Errorf("negative billing multiplier %v", mult.Float())
		}
		m := mult.Float()
		b.Multiplier = &m
	}
	if premium := v.Get("is_premium"); premium.Exists() {
		if !premium.IsBool() {
			return nil, fmt.Errorf("billing is_premium is not a boolean: %s", premium.Raw)
		}
		p := premium.Bool()
		b.IsPremium = &p
	}
	if b.Empty() {
		return nil, nil
	}
	return &b, nil
}

// count reads a non-negative integer field, missing and negative values are 0
func count(doc gjson.Result, path string) int64 {
	n := doc.Get(path).Int()
	if n < 0 {
		return 0
	}
	return n
}
