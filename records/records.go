// Package records provides policy-checked access to the school records
// collections (students, staff, after-school projects and the per-student
// sub-collections).
//
// Every operation consults the authorization policy for the identity bound to
// the context before any request is sent.
package records

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/authz"
	"github.com/chimerakang/portal-go/query"
	"github.com/go-playground/validator/v10"
)

// Requester is the subset of the gateway records need.
type Requester interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, in, out any) error
	Put(ctx context.Context, path string, in, out any) error
	Delete(ctx context.Context, path string, out any) error
}

// Resource describes one backend collection.
type Resource struct {
	Name string

	// Nested collections live under /alunos/{studentID}/.
	Nested bool

	// Sensitive collections need authz.ViewSensitive to read.
	Sensitive bool
}

var (
	Students     = Resource{Name: "alunos"}
	Staff        = Resource{Name: "colaboradores"}
	Projects     = Resource{Name: "contraturno"}
	Grades       = Resource{Name: "boletins", Nested: true}
	Attendance   = Resource{Name: "frequencias", Nested: true}
	Health       = Resource{Name: "saude", Nested: true, Sensitive: true}
	Referrals    = Resource{Name: "encaminhamentos", Nested: true}
	Diagnoses    = Resource{Name: "diagnosticos", Nested: true, Sensitive: true}
	Assessments  = Resource{Name: "avaliacoes", Nested: true}
	Hypotheses   = Resource{Name: "hipotese", Nested: true}
	Compensation = Resource{Name: "compensacoesAusencia", Nested: true}
)

// ErrNotConfirmed is returned by DeleteConfirmed when the typed text does
// not match.
var ErrNotConfirmed = errors.New("portal/records: deletion not confirmed")

// Collection reads and writes documents of type T.
type Collection[T any] struct {
	req      Requester
	res      Resource
	parent   string
	authz    portal.Authorizer
	cache    *query.Cache
	mutation *query.Mutation
	validate *validator.Validate
	onChange []func()
}

// Option configures a Collection.
type Option func(*options)

type options struct {
	cache    *query.Cache
	mutation *query.Mutation
	validate *validator.Validate
	onChange []func()
}

// WithCache shares a result cache.
func WithCache(c *query.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithMutation shares an in-flight guard.
func WithMutation(m *query.Mutation) Option {
	return func(o *options) { o.mutation = m }
}

// WithOnChange runs fn after every successful write, together with the
// collection's own invalidation. Use it to drop derived views such as the
// audit log.
func WithOnChange(fn func()) Option {
	return func(o *options) { o.onChange = append(o.onChange, fn) }
}

// WithValidator validates struct documents before create and update.
func WithValidator(v *validator.Validate) Option {
	return func(o *options) { o.validate = v }
}

// New creates a Collection for res. Nested resources must be scoped with Of
// before use.
func New[T any](req Requester, res Resource, a portal.Authorizer, opts ...Option) *Collection[T] {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.cache == nil {
		o.cache = query.NewCache()
	}
	if o.mutation == nil {
		o.mutation = query.NewMutation()
	}
	return &Collection[T]{
		req:      req,
		res:      res,
		authz:    a,
		cache:    o.cache,
		mutation: o.mutation,
		validate: o.validate,
		onChange: o.onChange,
	}
}

// Of scopes a nested collection to one student.
func (c *Collection[T]) Of(studentID string) *Collection[T] {
	cp := *c
	cp.parent = studentID
	return &cp
}

// Resource returns the collection descriptor.
func (c *Collection[T]) Resource() Resource { return c.res }

func (c *Collection[T]) base() (string, error) {
	if !c.res.Nested {
		return "/" + c.res.Name, nil
	}
	if c.parent == "" {
		return "", fmt.Errorf("portal/records: %w: %s requires a student id", portal.ErrInvalidInput, c.res.Name)
	}
	return "/alunos/" + url.PathEscape(c.parent) + "/" + c.res.Name, nil
}

func (c *Collection[T]) item(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("portal/records: %w: empty id", portal.ErrInvalidInput)
	}
	base, err := c.base()
	if err != nil {
		return "", err
	}
	return base + "/" + url.PathEscape(id), nil
}

func (c *Collection[T]) require(ctx context.Context, capability authz.Capability) error {
	ok, err := c.authz.Check(ctx, string(capability))
	if err != nil {
		return fmt.Errorf("portal/records: %w", err)
	}
	if !ok {
		return fmt.Errorf("portal/records: %w: %s on %s", portal.ErrForbidden, capability, c.res.Name)
	}
	return nil
}

func (c *Collection[T]) readCapability() authz.Capability {
	if c.res.Sensitive {
		return authz.ViewSensitive
	}
	return authz.View
}

// List returns every document in the collection.
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	if err := c.require(ctx, c.readCapability()); err != nil {
		return nil, err
	}
	path, err := c.base()
	if err != nil {
		return nil, err
	}
	return query.Load(ctx, c.cache, path+"?list", func(ctx context.Context) ([]T, error) {
		var out []T
		if err := c.req.Get(ctx, path, &out); err != nil {
			return nil, fmt.Errorf("portal/records: list %s: %w", c.res.Name, err)
		}
		return out, nil
	})
}

// Get returns one document.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if err := c.require(ctx, c.readCapability()); err != nil {
		return zero, err
	}
	path, err := c.item(id)
	if err != nil {
		return zero, err
	}
	return query.Load(ctx, c.cache, path, func(ctx context.Context) (T, error) {
		var out T
		if err := c.req.Get(ctx, path, &out); err != nil {
			return zero, fmt.Errorf("portal/records: get %s/%s: %w", c.res.Name, id, err)
		}
		return out, nil
	})
}

// Create adds a document and returns the stored version.
func (c *Collection[T]) Create(ctx context.Context, in T) (T, error) {
	var zero T
	if err := c.require(ctx, authz.Create); err != nil {
		return zero, err
	}
	if err := c.check(in); err != nil {
		return zero, err
	}
	path, err := c.base()
	if err != nil {
		return zero, err
	}
	return c.mutate(ctx, "POST "+path, func(ctx context.Context) (T, error) {
		var out T
		if err := c.req.Post(ctx, path, in, &out); err != nil {
			return zero, fmt.Errorf("portal/records: create %s: %w", c.res.Name, err)
		}
		return out, nil
	})
}

// Update replaces a document and returns the stored version.
func (c *Collection[T]) Update(ctx context.Context, id string, in T) (T, error) {
	var zero T
	if err := c.require(ctx, authz.Edit); err != nil {
		return zero, err
	}
	if err := c.check(in); err != nil {
		return zero, err
	}
	path, err := c.item(id)
	if err != nil {
		return zero, err
	}
	return c.mutate(ctx, "PUT "+path, func(ctx context.Context) (T, error) {
		var out T
		if err := c.req.Put(ctx, path, in, &out); err != nil {
			return zero, fmt.Errorf("portal/records: update %s/%s: %w", c.res.Name, id, err)
		}
		return out, nil
	})
}

// Delete removes a document. A second Delete of the same document while the
// first is pending returns query.ErrInFlight.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	if err := c.require(ctx, authz.Delete); err != nil {
		return err
	}
	path, err := c.item(id)
	if err != nil {
		return err
	}
	_, err = c.mutate(ctx, "DELETE "+path, func(ctx context.Context) (T, error) {
		var zero T
		if err := c.req.Delete(ctx, path, nil); err != nil {
			return zero, fmt.Errorf("portal/records: delete %s/%s: %w", c.res.Name, id, err)
		}
		return zero, nil
	})
	return err
}

// DeleteConfirmed deletes id only when conf is enabled.
func (c *Collection[T]) DeleteConfirmed(ctx context.Context, id string, conf *Confirmation) error {
	if conf == nil || !conf.Enabled() {
		return ErrNotConfirmed
	}
	return c.Delete(ctx, id)
}

// mutate runs fn once per key and on success drops every cached read under
// the collection path, which for students includes their sub-collections.
func (c *Collection[T]) mutate(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, error) {
	base, _ := c.base()
	return query.Do(ctx, c.mutation, key, fn, func() {
		c.cache.Invalidate(base)
		for _, f := range c.onChange {
			f()
		}
	})
}

func (c *Collection[T]) check(in T) error {
	if c.validate == nil {
		return nil
	}
	err := c.validate.Struct(in)
	var invalid *validator.InvalidValidationError
	if err == nil || errors.As(err, &invalid) {
		return nil
	}
	return fmt.Errorf("portal/records: %w: %v", portal.ErrInvalidInput, err)
}
