package rules

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/xisvar/the-oan/internal/protocol"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://schemas.oan.ng/v1/"

// Validator checks rules and event payloads against the embedded JSON
// schemas before anything is appended.
type Validator struct {
	admissionRule *jsonschema.Schema
	quotaRule     *jsonschema.Schema
	payloads      map[string]*jsonschema.Schema
}

var payloadTypes = []string{
	protocol.EventApplicantCreated,
	protocol.EventExamResultAdded,
	protocol.EventUTMEResultAdded,
	protocol.EventPreferenceUpdated,
	protocol.EventDocumentUploaded,
	protocol.EventApplicationSubmitted,
	protocol.EventPriorityStatusVerified,
	protocol.EventOfferMade,
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	for _, e := range entries {
		data, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", e.Name(), err)
		}
	}
	v := &Validator{payloads: make(map[string]*jsonschema.Schema, len(payloadTypes))}
	if v.admissionRule, err = c.Compile(schemaBase + "admission_rule.json"); err != nil {
		return nil, fmt.Errorf("compile admission rule schema: %w", err)
	}
	if v.quotaRule, err = c.Compile(schemaBase + "quota_rule.json"); err != nil {
		return nil, fmt.Errorf("compile quota rule schema: %w", err)
	}
	for _, t := range payloadTypes {
		s, err := c.Compile(schemaBase + "payloads.json#/$defs/" + t)
		if err != nil {
			return nil, fmt.Errorf("compile %s payload schema: %w", t, err)
		}
		v.payloads[t] = s
	}
	return v, nil
}

// ValidateRule validates a RULE_DEFINED document and decodes it.
func (v *Validator) ValidateRule(raw []byte) (protocol.AdmissionRule, error) {
	if err := validate(v.admissionRule, raw); err != nil {
		return protocol.AdmissionRule{}, err
	}
	var rule protocol.AdmissionRule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return protocol.AdmissionRule{}, &ValidationError{Reason: err.Error()}
	}
	for i, req := range rule.Enforcement.RequiredSubjects {
		if req.MinGrade != "" && !KnownGrade(req.MinGrade) {
			return protocol.AdmissionRule{}, &ValidationError{
				Field:  fmt.Sprintf("enforcement.required_subjects.%d.min_grade", i),
				Reason: fmt.Sprintf("unknown grade %q", req.MinGrade),
			}
		}
	}
	return rule, nil
}

// ValidateQuotaRule validates a QUOTA_RULE_DEFINED document and decodes it.
func (v *Validator) ValidateQuotaRule(raw []byte) (protocol.QuotaRule, error) {
	if err := validate(v.quotaRule, raw); err != nil {
		return protocol.QuotaRule{}, err
	}
	var rule protocol.QuotaRule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return protocol.QuotaRule{}, &ValidationError{Reason: err.Error()}
	}
	seen := make(map[string]struct{}, len(rule.Buckets))
	for i, b := range rule.Buckets {
		if _, dup := seen[b.BucketID]; dup {
			return protocol.QuotaRule{}, &ValidationError{
				Field:  fmt.Sprintf("buckets.%d.bucket_id", i),
				Reason: fmt.Sprintf("duplicate bucket id %q", b.BucketID),
			}
		}
		seen[b.BucketID] = struct{}{}
	}
	return rule, nil
}

// ValidatePayload checks the payload of a known event type. Rule events are
// routed to their dedicated schemas; unknown event types pass unchecked.
func (v *Validator) ValidatePayload(eventType string, raw []byte) error {
	switch eventType {
	case protocol.EventRuleDefined:
		_, err := v.ValidateRule(raw)
		return err
	case protocol.EventQuotaRuleDefined:
		_, err := v.ValidateQuotaRule(raw)
		return err
	}
	s, ok := v.payloads[eventType]
	if !ok {
		if !json.Valid(raw) {
			return &ValidationError{Reason: "payload is not valid JSON"}
		}
		return nil
	}
	return validate(s, raw)
}

func validate(s *jsonschema.Schema, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return &ValidationError{Reason: "payload is not valid JSON: " + err.Error()}
	}
	err := s.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Reason: err.Error()}
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := strings.ReplaceAll(strings.TrimPrefix(ve.InstanceLocation, "/"), "/", ".")
	return &ValidationError{Field: field, Reason: ve.Message}
}
