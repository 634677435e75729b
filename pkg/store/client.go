package store

import (
	"context"
	"slices"

	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

// Client runs operations through a chain of interceptors in front of an Executor.
// A Client is immutable; With and ForTenant return derived clients.
type Client struct {
	exec         Executor
	interceptors []tenant.Interceptor
}

// NewClient creates a client. The first interceptor is the outermost.
func NewClient(exec Executor, interceptors ...tenant.Interceptor) *Client {
	return &Client{exec: exec, interceptors: slices.Clone(interceptors)}
}

// With returns a client that additionally runs interceptors, inside the existing ones.
func (c *Client) With(interceptors ...tenant.Interceptor) *Client {
	return &Client{
		exec:         c.exec,
		interceptors: append(slices.Clone(c.interceptors), interceptors...),
	}
}

// ForTenant returns a client whose operations are restricted to tc.
func (c *Client) ForTenant(tc tenant.Context) *Client {
	return c.With(tenant.NewTenantMiddleware(tc))
}

// Execute runs op through the interceptor chain.
func (c *Client) Execute(ctx context.Context, op tenant.Operation) (tenant.Result, error) {
	return tenant.Chain(c.exec.Execute, c.interceptors...)(ctx, op)
}

// FindUnique returns the record with the given id, or nil.
func (c *Client) FindUnique(ctx context.Context, kind tenant.EntityKind, id any, fields ...string) (tenant.Record, error) {
	res, err := c.Execute(ctx, tenant.Operation{
		Kind:   kind,
		Action: tenant.ActionReadUnique,
		Where:  tenant.Where{FieldID: id},
		Select: fields,
	})
	return res.Record, err
}

// FindFirst returns the first record matching where, or nil.
func (c *Client) FindFirst(ctx context.Context, kind tenant.EntityKind, where tenant.Where) (tenant.Record, error) {
	res, err := c.Execute(ctx, tenant.Operation{Kind: kind, Action: tenant.ActionReadOne, Where: where})
	return res.Record, err
}

// FindMany returns records matching where. Zero take means no limit.
func (c *Client) FindMany(ctx context.Context, kind tenant.EntityKind, where tenant.Where, take, skip int) ([]tenant.Record, error) {
	res, err := c.Execute(ctx, tenant.Operation{
		Kind:   kind,
		Action: tenant.ActionReadMany,
		Where:  where,
		Take:   take,
		Skip:   skip,
	})
	return res.Records, err
}

func (c *Client) Count(ctx context.Context, kind tenant.EntityKind, where tenant.Where) (int64, error) {
	res, err := c.Execute(ctx, tenant.Operation{Kind: kind, Action: tenant.ActionCount, Where: where})
	return res.Count, err
}

// Aggregate returns the record count and the created-at range of matching records.
func (c *Client) Aggregate(ctx context.Context, kind tenant.EntityKind, where tenant.Where) (map[string]any, error) {
	res, err := c.Execute(ctx, tenant.Operation{Kind: kind, Action: tenant.ActionAggregate, Where: where})
	return res.Aggregate, err
}

func (c *Client) Create(ctx context.Context, kind tenant.EntityKind, data map[string]any) (tenant.Record, error) {
	res, err := c.Execute(ctx, tenant.Operation{Kind: kind, Action: tenant.ActionCreate, Data: data})
	return res.Record, err
}

// Update changes the record with the given id and returns it.
func (c *Client) Update(ctx context.Context, kind tenant.EntityKind, id any, data map[string]any, fields ...string) (tenant.Record, error) {
	res, err := c.Execute(ctx, tenant.Operation{
		Kind:   kind,
		Action: tenant.ActionUpdate,
		Where:  tenant.Where{FieldID: id},
		Data:   data,
		Select: fields,
	})
	return res.Record, err
}

// UpdateMany changes every record matching where and returns the affected count.
func (c *Client) UpdateMany(ctx context.Context, kind tenant.EntityKind, where tenant.Where, data map[string]any) (int64, error) {
	res, err := c.Execute(ctx, tenant.Operation{Kind: kind, Action: tenant.ActionUpdateMany, Where: where, Data: data})
	return res.Count, err
}

func (c *Client) Delete(ctx context.Context, kind tenant.EntityKind, id any) error {
	_, err := c.Execute(ctx, tenant.Operation{Kind: kind, Action: tenant.ActionDelete, Where: tenant.Where{FieldID: id}})
	return err
}

func (c *Client) DeleteMany(ctx context.Context, kind tenant.EntityKind, where tenant.Where) (int64, error) {
	res, err := c.Execute(ctx, tenant.Operation{Kind: kind, Action: tenant.ActionDeleteMany, Where: where})
	return res.Count, err
}

// Raw runs a SQL statement unfiltered. Callers are responsible for scoping it.
func (c *Client) Raw(ctx context.Context, sql string, args ...any) (tenant.Result, error) {
	return c.Execute(ctx, tenant.Operation{Action: tenant.ActionRaw, SQL: sql, Args: args})
}
