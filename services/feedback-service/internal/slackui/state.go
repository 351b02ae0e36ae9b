package slackui

import "github.com/slack-go/slack"

// ExtractValues reads the modal's current input into a field path → value map.
// Empty inputs are left out.
func ExtractValues(state *slack.ViewState) map[string]any {
	values := map[string]any{}
	if state == nil {
		return values
	}
	for blockID, actions := range state.Values {
		path, ok := FieldPath(blockID)
		if !ok {
			continue
		}
		for _, a := range actions {
			if v, ok := actionValue(a); ok {
				values[path] = v
			}
			break
		}
	}
	return values
}

func actionValue(a slack.BlockAction) (any, bool) {
	switch string(a.Type) {
	case "plain_text_input", "email_text_input", "number_input":
		return a.Value, a.Value != ""
	case "datepicker":
		return a.SelectedDate, a.SelectedDate != ""
	case "checkboxes":
		return len(a.SelectedOptions) > 0, true
	case "static_select":
		return a.SelectedOption.Value, a.SelectedOption.Value != ""
	case "multi_static_select":
		out := make([]any, 0, len(a.SelectedOptions))
		for _, o := range a.SelectedOptions {
			out = append(out, o.Value)
		}
		return out, len(out) > 0
	}
	return nil, false
}
