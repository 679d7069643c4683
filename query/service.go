// Copyright (c) 2026 - The Event Machine authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package query answers queries by name, with pluggable resolvers, and
// validates every result against its registered return type.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/schema"
)

var (
	// ErrNilRegistry is when a service is created without a schema registry.
	ErrNilRegistry = errors.New("missing schema registry")
	// ErrInvalidDefinition is when a query definition is incomplete.
	ErrInvalidDefinition = errors.New("invalid query definition")
	// ErrQueryAlreadyRegistered is when a query type is registered twice.
	ErrQueryAlreadyRegistered = errors.New("query already registered")
)

// Resolver resolves the result of a query from its validated parameters.
type Resolver interface {
	Resolve(ctx context.Context, params em.Payload) (em.Payload, error)
}

// ResolverFunc is a function that can be used as a resolver.
type ResolverFunc func(ctx context.Context, params em.Payload) (em.Payload, error)

// Resolve implements the Resolve method of the Resolver interface.
func (f ResolverFunc) Resolve(ctx context.Context, params em.Payload) (em.Payload, error) {
	return f(ctx, params)
}

// Definition is a query with the schema names of its parameters and result.
type Definition struct {
	Type em.QueryType
	// ReturnType is the schema name the result is validated against.
	ReturnType string
	// ParamType is the optional schema name the parameters are validated
	// against.
	ParamType string
	Resolver  Resolver
}

// Handler handles a query of any type.
type Handler interface {
	HandleQuery(ctx context.Context, queryType em.QueryType, params em.Payload) (em.Payload, error)
}

// HandlerFunc is a function that can be used as a query handler.
type HandlerFunc func(ctx context.Context, queryType em.QueryType, params em.Payload) (em.Payload, error)

// HandleQuery implements the HandleQuery method of the Handler interface.
func (f HandlerFunc) HandleQuery(ctx context.Context, queryType em.QueryType, params em.Payload) (em.Payload, error) {
	return f(ctx, queryType, params)
}

// Middleware is a function that wraps query handling.
type Middleware func(Handler) Handler

// UseMiddleware wraps a Handler in one or more middleware. The first
// middleware is the outermost one.
func UseMiddleware(h Handler, middleware ...Middleware) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}

	return h
}

// Service answers queries with the resolvers of the registered definitions.
// Queries only read and never wait on commands.
type Service struct {
	registry    *schema.Registry
	defs        map[em.QueryType]Definition
	defsMu      sync.RWMutex
	middlewares []Middleware
	handler     Handler
	logger      *slog.Logger
}

// NewService creates a new Service.
func NewService(registry *schema.Registry, options ...Option) (*Service, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}

	s := &Service{
		registry: registry,
		defs:     map[em.QueryType]Definition{},
		logger:   slog.New(slog.DiscardHandler),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	s.handler = UseMiddleware(HandlerFunc(s.query), s.middlewares...)

	return s, nil
}

// Option is an option setter used to configure creation.
type Option func(*Service) error

// WithLogger sets the logger, used for results that violate their type.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			return fmt.Errorf("missing logger")
		}

		s.logger = logger

		return nil
	}
}

// WithMiddleware adds middlewares around query handling, the first one is
// the outermost.
func WithMiddleware(middleware ...Middleware) Option {
	return func(s *Service) error {
		s.middlewares = append(s.middlewares, middleware...)
		return nil
	}
}

// Register registers a query definition. The schema types must already be
// registered.
func (s *Service) Register(def Definition) error {
	if def.Type == "" {
		return fmt.Errorf("%w: missing query type", ErrInvalidDefinition)
	}

	if def.Resolver == nil {
		return fmt.Errorf("%w: missing resolver for %s", ErrInvalidDefinition, def.Type)
	}

	if !s.registry.Has(def.ReturnType) {
		return fmt.Errorf("%w: return type of %s: %w: %s", ErrInvalidDefinition, def.Type, schema.ErrUnknownType, def.ReturnType)
	}

	if def.ParamType != "" && !s.registry.Has(def.ParamType) {
		return fmt.Errorf("%w: param type of %s: %w: %s", ErrInvalidDefinition, def.Type, schema.ErrUnknownType, def.ParamType)
	}

	s.defsMu.Lock()
	defer s.defsMu.Unlock()

	if _, ok := s.defs[def.Type]; ok {
		return fmt.Errorf("%w: %s", ErrQueryAlreadyRegistered, def.Type)
	}

	s.defs[def.Type] = def

	return nil
}

// Definition returns the definition of a query type.
func (s *Service) Definition(queryType em.QueryType) (Definition, bool) {
	s.defsMu.RLock()
	defer s.defsMu.RUnlock()

	def, ok := s.defs[queryType]

	return def, ok
}

// Types returns the registered query types, sorted.
func (s *Service) Types() []em.QueryType {
	s.defsMu.RLock()
	defer s.defsMu.RUnlock()

	types := make([]em.QueryType, 0, len(s.defs))
	for t := range s.defs {
		types = append(types, t)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// Query runs a query and returns its validated result.
//
// Invalid parameters fail with a *schema.Violation, an unknown query type
// with em.ErrUnknownQuery. A result that does not match the return type is
// a bug in the resolver; it is logged and returned as an
// *em.ResultViolationError.
func (s *Service) Query(ctx context.Context, queryType em.QueryType, params em.Payload) (em.Payload, error) {
	return s.handler.HandleQuery(ctx, queryType, params)
}

func (s *Service) query(ctx context.Context, queryType em.QueryType, params em.Payload) (em.Payload, error) {
	def, ok := s.Definition(queryType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", em.ErrUnknownQuery, queryType)
	}

	if def.ParamType != "" {
		if _, err := s.registry.Validate(def.ParamType, params); err != nil {
			return nil, err
		}
	}

	result, err := def.Resolver.Resolve(ctx, params)
	if err != nil {
		if errors.Is(err, em.ErrEventTypeDrift) {
			s.logger.ErrorContext(ctx, "query could not replay aggregate",
				"query", queryType.String(),
				"error", err,
			)
		}

		return nil, err
	}

	if _, err := s.registry.Validate(def.ReturnType, result); err != nil {
		s.logger.ErrorContext(ctx, "query result violates its return type",
			"query", queryType.String(),
			"return_type", def.ReturnType,
			"error", err,
		)

		return nil, &em.ResultViolationError{Query: queryType, Err: err}
	}

	return result, nil
}
