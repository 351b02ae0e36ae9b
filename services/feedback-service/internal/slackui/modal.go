package slackui

import (
	"fmt"
	"strconv"

	"github.com/slack-go/slack"

	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
)

// BuildFeedbackModal renders form as a modal with one input block per field,
// pre-filled from draft. Text fields dispatch on Enter so partial input can be
// saved while the modal stays open.
func BuildFeedbackModal(form model.FormDefinition, draft map[string]any, action FeedbackAction) slack.ModalViewRequest {
	var blocks []slack.Block
	if action.CandidateName != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("Feedback for *%s*", action.CandidateName), false, false), nil, nil))
	}
	for _, section := range form.Sections {
		if section.Title != "" {
			blocks = append(blocks, slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, truncate(section.Title, 150), false, false)))
		}
		for _, f := range section.Fields {
			if b := fieldBlock(f, draft[f.Path]); b != nil {
				blocks = append(blocks, b)
			}
		}
	}

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      CallbackSubmitFeedback,
		Title:           plain(truncate(orDefault(form.Title, "Interview feedback"), 24)),
		Submit:          plain("Submit"),
		Close:           plain("Save for later"),
		Blocks:          slack.Blocks{BlockSet: blocks},
		PrivateMetadata: action.Encode(),
		NotifyOnClose:   true,
	}
}

func fieldBlock(f model.FormField, draft any) *slack.InputBlock {
	label := plain(truncate(orDefault(f.Title, f.Path), 2000))
	var hint *slack.TextBlockObject
	if f.Description != "" {
		hint = plain(truncate(f.Description, 2000))
	}

	var element slack.BlockElement
	dispatch := false
	switch f.Type {
	case model.FieldRichText, model.FieldString, model.FieldPhone:
		el := slack.NewPlainTextInputBlockElement(nil, f.Path)
		el.Multiline = f.Type == model.FieldRichText
		el.InitialValue = textValue(draft)
		el.DispatchActionConfig = &slack.DispatchActionConfig{TriggerActionsOn: []string{"on_enter_pressed"}}
		element, dispatch = el, true
	case model.FieldEmail:
		el := slack.NewEmailTextInputBlockElement(nil, f.Path)
		el.InitialValue = textValue(draft)
		element = el
	case model.FieldNumber:
		el := slack.NewNumberInputBlockElement(nil, f.Path, false)
		el.InitialValue = textValue(draft)
		element = el
	case model.FieldDate:
		el := slack.NewDatePickerBlockElement(f.Path)
		el.InitialDate = textValue(draft)
		element = el
	case model.FieldBoolean:
		opt := slack.NewOptionBlockObject("true", plain(truncate(orDefault(f.Title, "Yes"), 75)), nil)
		el := slack.NewCheckboxGroupsBlockElement(f.Path, opt)
		if b, ok := draft.(bool); ok && b {
			el.InitialOptions = []*slack.OptionBlockObject{opt}
		}
		element = el
	case model.FieldScore:
		var opts []*slack.OptionBlockObject
		for i, l := range model.ScoreLabels {
			opts = append(opts, slack.NewOptionBlockObject(strconv.Itoa(i+1), plain(fmt.Sprintf("%d - %s", i+1, l)), nil))
		}
		el := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plain("Select a score"), f.Path, opts...)
		el.InitialOption = findOption(opts, scoreValue(draft))
		element = el
	case model.FieldValueSelect:
		opts := selectOptions(f.Options)
		if len(opts) == 0 {
			return nil
		}
		el := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plain("Select an option"), f.Path, opts...)
		el.InitialOption = findOption(opts, textValue(draft))
		element = el
	case model.FieldMultiValueSelect:
		opts := selectOptions(f.Options)
		if len(opts) == 0 {
			return nil
		}
		el := slack.NewOptionsMultiSelectBlockElement(slack.MultiOptTypeStatic, plain("Select options"), f.Path, opts...)
		for _, v := range listValue(draft) {
			if o := findOption(opts, v); o != nil {
				el.InitialOptions = append(el.InitialOptions, o)
			}
		}
		element = el
	default:
		return nil
	}

	block := slack.NewInputBlock(BlockID(f.Path), label, hint, element)
	block.Optional = !f.Required
	block.DispatchAction = dispatch
	return block
}

func selectOptions(in []model.SelectOption) []*slack.OptionBlockObject {
	out := make([]*slack.OptionBlockObject, 0, len(in))
	for _, o := range in {
		out = append(out, slack.NewOptionBlockObject(o.Value, plain(truncate(orDefault(o.Label, o.Value), 75)), nil))
	}
	return out
}

func findOption(opts []*slack.OptionBlockObject, value string) *slack.OptionBlockObject {
	if value == "" {
		return nil
	}
	for _, o := range opts {
		if o.Value == value {
			return o
		}
	}
	return nil
}

// textValue reads a draft value back as text. RichText drafts may hold the
// submission shape {"type":"PlainText","value":...}.
func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case map[string]any:
		if s, ok := t["value"].(string); ok {
			return s
		}
	}
	return ""
}

func scoreValue(v any) string {
	if m, ok := v.(map[string]any); ok {
		return textValue(m["score"])
	}
	return textValue(v)
}

func listValue(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func plain(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, s, false, false)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
