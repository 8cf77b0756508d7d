// Package tools provides the capability server: a fixed registry of named, schema-validated tools the model may call.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Result is what a tool call reports back to the model. IsError results are a recoverable signal to the model, not a
// failure of the turn
type Result struct {
	Content []string
	IsError bool
}

func TextResult(text string) Result {
	return Result{Content: []string{text}}
}

func ErrorResult(text string) Result {
	return Result{Content: []string{text}, IsError: true}
}

// Text joins the result's text segments
func (r Result) Text() string {
	return strings.Join(r.Content, "\n")
}

// ToolInputError represents an error that could be recovered by correcting inputs to the tool. This error will be
// shown to the AI, so it must not contain any sensitive information
type ToolInputError struct {
	cause error
}

func (tie ToolInputError) Error() string {
	return fmt.Sprintf("tool input error: %s", tie.cause)
}

func (tie ToolInputError) Unwrap() error {
	return tie.cause
}

func NewToolInputError(cause error) ToolInputError {
	return ToolInputError{cause: cause}
}

// Handler runs a tool against raw JSON input that has already been validated against the tool's schema
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Descriptor declares a tool. Descriptors are immutable once registered
type Descriptor struct {
	Name        string
	Description string
	InputSchema json.RawMessage // JSON schema of the input object
	Handler     Handler
}

// NewTool builds a Descriptor whose input schema is reflected from T and whose handler decodes the input into T
func NewTool[T any](name, description string, run func(ctx context.Context, input T) (string, error)) Descriptor {
	return Descriptor{
		Name:        name,
		Description: description,
		InputSchema: reflectSchema(reflect.TypeOf((*T)(nil)).Elem()),
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var input T
			if err := json.Unmarshal(normalizeIntegers(raw), &input); err != nil {
				return "", NewToolInputError(err)
			}
			return run(ctx, input)
		},
	}
}

// normalizeIntegers rewrites integer-valued numbers such as 2.0 or 1e2 as plain integers. JSON schema counts them as
// integers, but encoding/json refuses to decode them into int fields. Input that does not parse is returned unchanged
func normalizeIntegers(raw json.RawMessage) json.RawMessage {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	changed := false
	var walk func(v any) any
	walk = func(v any) any {
		switch x := v.(type) {
		case map[string]any:
			for k, e := range x {
				x[k] = walk(e)
			}
		case []any:
			for i, e := range x {
				x[i] = walk(e)
			}
		case json.Number:
			if !strings.ContainsAny(string(x), ".eE") {
				return x
			}
			f, err := x.Float64()
			if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
				return x
			}
			changed = true
			return json.Number(strconv.FormatFloat(f, 'f', -1, 64))
		}
		return v
	}
	v = walk(v)
	if !changed {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

func reflectSchema(t reflect.Type) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.ReflectFromType(t)
	b, err := json.Marshal(schema)
	if err != nil {
		// Input types are static, so this can only be a programming error
		panic(fmt.Sprintf("failed to marshal schema for %s: %v", t, err))
	}
	return b
}

type registeredTool struct {
	Descriptor
	validator  *gojsonschema.Schema
	properties map[string]any
	required   []string
}

// Server is the registry of tools exposed to a model session. The set of tools is fixed at construction
type Server struct {
	name   string
	tools  map[string]*registeredTool
	order  []string
	logger *zap.Logger
	tracer trace.Tracer
}

// NewServer registers descriptors under a namespace name. Tool names must be non-empty and unique, and every schema
// must compile
func NewServer(name string, logger *zap.Logger, tracer trace.Tracer, descriptors ...Descriptor) (*Server, error) {
	s := &Server{
		name:   name,
		tools:  make(map[string]*registeredTool),
		logger: logger.With(zap.String("tool_server", name)),
		tracer: tracer,
	}
	for _, d := range descriptors {
		if err := s.register(d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("tool with description %q has no name", d.Description)
	}
	if _, ok := s.tools[d.Name]; ok {
		return fmt.Errorf("duplicate tool name: %s", d.Name)
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %s has no handler", d.Name)
	}

	var schema map[string]any
	if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
		return fmt.Errorf("invalid input schema for tool %s: %w", d.Name, err)
	}
	// Draft identifiers from the reflector are newer than the validator understands; the keywords used are not
	delete(schema, "$schema")
	delete(schema, "$id")
	cleaned, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to marshal input schema for tool %s: %w", d.Name, err)
	}

	validator, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(cleaned))
	if err != nil {
		return fmt.Errorf("failed to compile input schema for tool %s: %w", d.Name, err)
	}

	rt := &registeredTool{Descriptor: d, validator: validator}
	rt.InputSchema = cleaned
	if props, ok := schema["properties"].(map[string]any); ok {
		rt.properties = props
	} else {
		rt.properties = map[string]any{}
	}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				rt.required = append(rt.required, name)
			}
		}
	}

	s.tools[d.Name] = rt
	s.order = append(s.order, d.Name)
	return nil
}

// Name returns the server's namespace name
func (s *Server) Name() string {
	return s.name
}

// Names returns the registered tool names in registration order
func (s *Server) Names() []string {
	return append([]string(nil), s.order...)
}

// Descriptors returns the registered descriptors in registration order
func (s *Server) Descriptors() []Descriptor {
	var ds []Descriptor
	for _, name := range s.order {
		ds = append(ds, s.tools[name].Descriptor)
	}
	return ds
}

// Combine creates a server holding the tools of all the given servers. Names must be unique across them
func Combine(name string, logger *zap.Logger, tracer trace.Tracer, servers ...*Server) (*Server, error) {
	var ds []Descriptor
	for _, srv := range servers {
		ds = append(ds, srv.Descriptors()...)
	}
	return NewServer(name, logger, tracer, ds...)
}

// ToolParams returns all tool definitions for API calls
func (s *Server) ToolParams() []anthropic.ToolParam {
	var params []anthropic.ToolParam
	for _, name := range s.order {
		tool := s.tools[name]
		params = append(params, anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: tool.properties,
				Required:   tool.required,
			},
		})
	}
	return params
}

// Call validates input against the named tool's schema and runs it. Call never panics and never returns an error:
// every failure, including unknown tools, invalid input and panics in the handler, becomes an error Result so that the
// model can recover within the same turn
func (s *Server) Call(ctx context.Context, name string, input json.RawMessage) (result Result) {
	ctx, span := s.tracer.Start(ctx, "tool.call", trace.WithAttributes(
		attribute.String("tool.server", s.name),
		attribute.String("tool.name", name),
		attribute.Int("tool.input_size", len(input)),
	))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panicked", zap.String("tool", name), zap.Any("panic", r), zap.Stack("stack"))
			result = ErrorResult(fmt.Sprintf("tool %s failed unexpectedly: %v", name, r))
		}
		if result.IsError {
			span.SetStatus(codes.Error, result.Text())
		}
		span.SetAttributes(
			attribute.Bool("tool.is_error", result.IsError),
			attribute.Int("tool.result_size", len(result.Text())),
		)
		span.End()
		s.logger.Debug("tool call finished",
			zap.String("tool", name),
			zap.Bool("is_error", result.IsError),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	tool := s.tools[name]
	if tool == nil {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	if len(input) == 0 || string(input) == "null" {
		input = json.RawMessage("{}")
	}

	validation, err := tool.validator.Validate(gojsonschema.NewBytesLoader([]byte(input)))
	if err != nil {
		return ErrorResult(NewToolInputError(fmt.Errorf("input is not valid JSON: %w", err)).Error())
	}
	if !validation.Valid() {
		var problems []string
		for _, e := range validation.Errors() {
			problems = append(problems, e.String())
		}
		s.logger.Info("rejected tool input", zap.String("tool", name), zap.Strings("problems", problems))
		return ErrorResult(NewToolInputError(errors.New(strings.Join(problems, "; "))).Error())
	}

	out, err := tool.Handler(ctx, input)
	var tie ToolInputError
	if errors.As(err, &tie) {
		s.logger.Info("recoverable tool error, reporting to the AI", zap.String("tool", name), zap.Error(err))
		return ErrorResult(tie.Error())
	} else if err != nil {
		s.logger.Warn("tool failed", zap.String("tool", name), zap.Error(err))
		return ErrorResult(err.Error())
	}
	return TextResult(out)
}
