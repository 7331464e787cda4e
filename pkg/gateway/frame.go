package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// MaxContentLength bounds the text of a single inbound message
const MaxContentLength = 32 * 1024

var frameSchema = mustCompileFrameSchema()

func mustCompileFrameSchema() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"type": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{FrameMessage},
			},
			"content": map[string]interface{}{
				"type":      "string",
				"maxLength": MaxContentLength,
			},
		},
		"required":             []interface{}{"type", "content"},
		"additionalProperties": false,
	}))
	if err != nil {
		panic(fmt.Sprintf("gateway: invalid frame schema: %v", err))
	}
	return schema
}

// ParseFrame validates raw against the frame schema and decodes it
func ParseFrame(raw []byte) (Frame, error) {
	var frame Frame

	result, err := frameSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return frame, fmt.Errorf("invalid frame: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return frame, fmt.Errorf("invalid frame: %s", strings.Join(problems, "; "))
	}

	if err := json.Unmarshal(raw, &frame); err != nil {
		return frame, fmt.Errorf("invalid frame: %w", err)
	}
	return frame, nil
}
