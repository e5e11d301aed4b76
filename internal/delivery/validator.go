package delivery

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ambilfoto/backend/internal/apperr"
)

// MaxFileSizeMB caps a single hi-res upload.
const MaxFileSizeMB = 50

//go:embed schemas/hires_upload.json
var hiresUploadSchema string

// Upload is the metadata a photographer submits after the file bytes have
// been stored. The backend never sees the bytes.
type Upload struct {
	FileRef     string  `json:"file_ref"`
	ContentType string  `json:"content_type"`
	FileSizeMB  float64 `json:"file_size_mb"`
	Resolution  string  `json:"resolution,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	schema, err := jsonschema.CompileString("https://ambilfoto.id/schemas/hires_upload.json", hiresUploadSchema)
	if err != nil {
		return nil, fmt.Errorf("compile upload schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Decode validates raw request JSON against the upload schema and decodes it.
func (v *Validator) Decode(raw []byte) (*Upload, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, apperr.New(apperr.KindInvalidInput, "invalid JSON: %v", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, apperr.New(apperr.KindInvalidInput, "upload metadata: %s", leafMessage(ve))
		}
		return nil, apperr.New(apperr.KindInvalidInput, "upload metadata: %v", err)
	}
	var u Upload
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, apperr.New(apperr.KindInvalidInput, "invalid JSON: %v", err)
	}
	return &u, nil
}

func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return ve.Message
	}
	return ve.InstanceLocation + ": " + ve.Message
}
