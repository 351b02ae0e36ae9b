package feedback

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/ashby"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
)

// Transform checks values against form and converts them into ATS field
// submissions. All problems are collected before returning. Values for paths
// the form does not define are dropped.
func Transform(form model.FormDefinition, values map[string]any) ([]ashby.FieldSubmission, error) {
	verr := &ValidationError{}
	var out []ashby.FieldSubmission
	for _, f := range form.Fields() {
		raw, present := values[f.Path]
		if !present || isEmpty(raw) {
			if f.Required {
				verr.add(f.Path, "%s is required", label(f))
			}
			continue
		}
		v, msg := convert(f, raw)
		if msg != "" {
			verr.add(f.Path, "%s %s", label(f), msg)
			continue
		}
		out = append(out, ashby.FieldSubmission{Path: f.Path, Value: v})
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return out, nil
}

func convert(f model.FormField, raw any) (any, string) {
	switch f.Type {
	case model.FieldString, model.FieldPhone, model.FieldEmail:
		s, ok := raw.(string)
		if !ok {
			return nil, "must be text"
		}
		if f.Type == model.FieldEmail && !strings.Contains(s, "@") {
			return nil, "must be an email address"
		}
		return strings.TrimSpace(s), ""
	case model.FieldRichText:
		s, ok := text(raw)
		if !ok {
			return nil, "must be text"
		}
		return map[string]any{"type": "PlainText", "value": s}, ""
	case model.FieldNumber:
		n, ok := integer(raw)
		if !ok {
			return nil, "must be a whole number"
		}
		return n, ""
	case model.FieldDate:
		s, ok := raw.(string)
		if !ok {
			return nil, "must be a date"
		}
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return nil, "must be a date (YYYY-MM-DD)"
		}
		return s, ""
	case model.FieldBoolean:
		switch b := raw.(type) {
		case bool:
			return b, ""
		case string:
			if v, err := strconv.ParseBool(b); err == nil {
				return v, ""
			}
		}
		return nil, "must be true or false"
	case model.FieldScore:
		if m, ok := raw.(map[string]any); ok {
			raw = m["score"]
		}
		n, ok := integer(raw)
		if !ok || n < 1 || n > len(model.ScoreLabels) {
			return nil, "must be a score from 1 to 4"
		}
		return map[string]any{"score": n}, ""
	case model.FieldValueSelect:
		s, ok := raw.(string)
		if !ok || !allowed(f, s) {
			return nil, "must be one of the listed options"
		}
		return s, ""
	case model.FieldMultiValueSelect:
		list, ok := stringList(raw)
		if !ok {
			return nil, "must be a list of options"
		}
		for _, s := range list {
			if !allowed(f, s) {
				return nil, "contains an option that is not listed"
			}
		}
		return list, ""
	}
	return nil, "has unsupported type " + string(f.Type)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		if inner, ok := t["value"]; ok {
			return isEmpty(inner)
		}
		if inner, ok := t["score"]; ok {
			return isEmpty(inner)
		}
		return len(t) == 0
	}
	return false
}

func text(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case map[string]any:
		s, ok := t["value"].(string)
		return s, ok
	}
	return "", false
}

func integer(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

func stringList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			s, ok := x.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func allowed(f model.FormField, value string) bool {
	if len(f.Options) == 0 {
		return value != ""
	}
	return slices.ContainsFunc(f.Options, func(o model.SelectOption) bool { return o.Value == value })
}

func label(f model.FormField) string {
	if f.Title != "" {
		return f.Title
	}
	return f.Path
}
