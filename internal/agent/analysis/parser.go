package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/feichai0017/receipt-analyzer/internal/apperr"
	"github.com/feichai0017/receipt-analyzer/internal/models"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
)

const (
	msgEmptyResponse = "the model returned an empty response"
	msgUnparsable    = "the model response could not be parsed"
	msgNoLineItems   = "the model response contained no line items"
	msgInvalidFields = "the model response has invalid fields: "
)

// Parser turns raw model text into a validated AnalysisResult. It never
// panics on model output; every rejection is an INVALID_RESPONSE error.
type Parser struct {
	schema     *jsonschema.Schema
	schemaJSON string
	validate   *validator.Validate
	logger     logger.Logger
}

func NewParser(log logger.Logger) (*Parser, error) {
	schema, schemaJSON, err := compileSchema()
	if err != nil {
		return nil, err
	}

	v := validator.New()
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		return nil, err
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Parser{
		schema:     schema,
		schemaJSON: schemaJSON,
		validate:   v,
		logger:     log,
	}, nil
}

// SchemaJSON returns the rendered result schema.
func (p *Parser) SchemaJSON() string {
	return p.schemaJSON
}

func (p *Parser) Parse(text string) (*models.AnalysisResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.CodeInvalidResponse, msgEmptyResponse)
	}

	doc := extractJSON(text)

	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		p.logger.Warn("Model response is not JSON", logger.Int("responseBytes", len(text)), logger.Error(err))
		return nil, apperr.Wrap(apperr.CodeInvalidResponse, msgUnparsable, err)
	}
	if err := p.schema.Validate(raw); err != nil {
		p.logger.Warn("Model response does not match schema", logger.Int("responseBytes", len(text)), logger.Error(err))
		return nil, apperr.Wrap(apperr.CodeInvalidResponse, msgUnparsable, err)
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(doc, &result); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidResponse, msgUnparsable, err)
	}
	if len(result.Items) == 0 {
		return nil, apperr.New(apperr.CodeInvalidResponse, msgNoLineItems)
	}

	if err := p.validate.Struct(&result); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, apperr.Wrap(apperr.CodeInvalidResponse, msgUnparsable, err)
		}
		paths := fieldPaths(verrs)
		p.logger.Warn("Model response failed validation", logger.Strings("fields", paths))
		return nil, apperr.Wrap(apperr.CodeInvalidResponse, msgInvalidFields+strings.Join(paths, ", "), err)
	}
	return &result, nil
}

// extractJSON strips markdown fences and surrounding prose, keeping the span
// from the first '{' to the last '}'.
func extractJSON(text string) []byte {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return []byte(strings.TrimSpace(s))
}

// fieldPaths renders validator namespaces as JSON paths without the root type.
func fieldPaths(verrs validator.ValidationErrors) []string {
	paths := make([]string, 0, len(verrs))
	seen := make(map[string]struct{}, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		if _, ok := seen[ns]; ok {
			continue
		}
		seen[ns] = struct{}{}
		paths = append(paths, ns)
	}
	return paths
}
