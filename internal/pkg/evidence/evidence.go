package evidence

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

// Document is the evidence payload a review is generated from: who the
// review is about, the period it covers and the accomplishments to write up.
type Document struct {
	Subject    string   `json:"subject" validate:"required,min=2,max=150"`
	Role       string   `json:"role" validate:"omitempty,max=150"`
	Period     string   `json:"period" validate:"required,max=50"`
	Highlights []string `json:"highlights" validate:"required,min=1,max=50,dive,required,max=2000"`
	Tone       string   `json:"tone" validate:"omitempty,oneof=neutral confident humble"`
}

var validate = validator.New()

// Parse decodes and validates an evidence document from a generic payload
// map (the generation request body after control-field stripping).
func Parse(payload map[string]interface{}) (*Document, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
