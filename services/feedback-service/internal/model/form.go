package model

import "time"

type FieldType string

const (
	FieldString           FieldType = "String"
	FieldPhone            FieldType = "Phone"
	FieldEmail            FieldType = "Email"
	FieldRichText         FieldType = "RichText"
	FieldNumber           FieldType = "Number"
	FieldDate             FieldType = "Date"
	FieldBoolean          FieldType = "Boolean"
	FieldScore            FieldType = "Score"
	FieldValueSelect      FieldType = "ValueSelect"
	FieldMultiValueSelect FieldType = "MultiValueSelect"
)

// ScoreLabels are the hire ratings behind Score values 1 through 4.
var ScoreLabels = []string{"Strong No Hire", "No Hire", "Hire", "Strong Hire"}

type SelectOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type FormField struct {
	Path        string         `json:"path"`
	Type        FieldType      `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Required    bool           `json:"required"`
	Options     []SelectOption `json:"options,omitempty"`
}

type FormSection struct {
	Title  string      `json:"title,omitempty"`
	Fields []FormField `json:"fields"`
}

// FormDefinition is the schema of a feedback form, cached from the ATS.
type FormDefinition struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Archived  bool          `json:"archived"`
	Sections  []FormSection `json:"sections"`
	UpdatedAt time.Time     `json:"-"`
}

func (f FormDefinition) Fields() []FormField {
	var out []FormField
	for _, s := range f.Sections {
		out = append(out, s.Fields...)
	}
	return out
}

func (f FormDefinition) Field(path string) (FormField, bool) {
	for _, s := range f.Sections {
		for _, fld := range s.Fields {
			if fld.Path == path {
				return fld, true
			}
		}
	}
	return FormField{}, false
}
