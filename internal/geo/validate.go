package geo

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValidationErrorKind classifies payload shape violations.
type ValidationErrorKind int

const (
	// NotFeatureCollection: payload is empty, null, not an object or has the wrong type.
	NotFeatureCollection ValidationErrorKind = iota + 1
	// MissingFeatures: "features" is absent, null or not an array.
	MissingFeatures
	// MalformedFeature: a feature is not an object or carries no geometry type.
	MalformedFeature
)

func (k ValidationErrorKind) String() string {
	switch k {
	case NotFeatureCollection:
		return "not a FeatureCollection"
	case MissingFeatures:
		return "missing features"
	case MalformedFeature:
		return "malformed feature"
	default:
		return "invalid payload"
	}
}

// ValidationError is returned by Validate.
type ValidationError struct {
	Reason string
	Kind   ValidationErrorKind
	// Index of the offending feature, only set for MalformedFeature.
	Index int
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrNotFeatureCollection = &ValidationError{Kind: NotFeatureCollection}
	ErrMissingFeatures      = &ValidationError{Kind: MissingFeatures}
	ErrMalformedFeature     = &ValidationError{Kind: MalformedFeature}
)

func (e *ValidationError) Error() string {
	msg := e.Kind.String()
	if e.Kind == MalformedFeature {
		msg = fmt.Sprintf("%s at index %d", msg, e.Index)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is reports whether target is a ValidationError of the same kind.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

var jsonNull = []byte("null")

// Validate checks that payload is a well-formed GeoJSON FeatureCollection and
// returns it decoded. The function has no side effects.
func Validate(payload json.RawMessage) (*FeatureCollection, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, jsonNull) {
		return nil, &ValidationError{Kind: NotFeatureCollection, Reason: "payload is empty"}
	}

	var envelope struct {
		Type     string          `json:"type"`
		Features json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, &ValidationError{Kind: NotFeatureCollection, Reason: err.Error()}
	}
	if envelope.Type != TypeFeatureCollection {
		return nil, &ValidationError{
			Kind:   NotFeatureCollection,
			Reason: fmt.Sprintf("type is %q", envelope.Type),
		}
	}

	features := bytes.TrimSpace(envelope.Features)
	if len(features) == 0 || bytes.Equal(features, jsonNull) {
		return nil, &ValidationError{Kind: MissingFeatures, Reason: "no features array"}
	}
	if features[0] != '[' {
		return nil, &ValidationError{Kind: MissingFeatures, Reason: "features is not an array"}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(features, &items); err != nil {
		return nil, &ValidationError{Kind: MissingFeatures, Reason: err.Error()}
	}

	fc := &FeatureCollection{
		Type:     TypeFeatureCollection,
		Features: make([]Feature, 0, len(items)),
	}
	for i, item := range items {
		var f Feature
		if err := json.Unmarshal(item, &f); err != nil {
			return nil, &ValidationError{Kind: MalformedFeature, Index: i, Reason: err.Error()}
		}
		if f.GeometryType() == "" {
			return nil, &ValidationError{Kind: MalformedFeature, Index: i, Reason: "missing geometry type"}
		}
		fc.Features = append(fc.Features, f)
	}

	return fc, nil
}
