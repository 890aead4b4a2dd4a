package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ============================================================
// Query building and HTTP helpers for GET, POST, PATCH, DELETE
// ============================================================

// query builds a PostgREST path. Filter values are escaped.
type query struct {
	table  string
	params []string
}

func from(table string) *query {
	return &query{table: table}
}

func (q *query) eq(column, value string) *query {
	return q.op(column, "eq", value)
}

func (q *query) op(column, operator, value string) *query {
	q.params = append(q.params, column+"="+operator+"."+url.QueryEscape(value))
	return q
}

// in adds an "in.(a,b)" filter.
func (q *query) in(column string, values []string) *query {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = url.QueryEscape(v)
	}
	q.params = append(q.params, column+"=in.("+strings.Join(escaped, ",")+")")
	return q
}

func (q *query) raw(param string) *query {
	q.params = append(q.params, param)
	return q
}

func (q *query) String() string {
	if len(q.params) == 0 {
		return q.table
	}
	return q.table + "?" + strings.Join(q.params, "&")
}

func (c *Client) doGet(ctx context.Context, q *query, out any) error {
	body, err := c.doRequest(ctx, http.MethodGet, q.String(), nil, "")
	if err != nil {
		return err
	}
	return decodeRows(q.table, body, out)
}

// doPost inserts data and decodes the representation into out.
// With upsertOn set, conflicting rows on those columns are merged.
func (c *Client) doPost(ctx context.Context, table string, data any, upsertOn string, out any) error {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return err
	}

	path := table
	prefer := "return=representation"
	if upsertOn != "" {
		path = table + "?on_conflict=" + upsertOn
		prefer = "resolution=merge-duplicates,return=representation"
	}

	body, err := c.doRequest(ctx, http.MethodPost, path, bytes.NewReader(jsonBody), prefer)
	if err != nil {
		return err
	}
	return decodeRows(table, body, out)
}

// doPatch applies data to every row matched by q and decodes the updated
// rows into out. Zero matched rows decode as an empty slice.
func (c *Client) doPatch(ctx context.Context, q *query, data any, out any) error {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return err
	}

	prefer := "return=minimal"
	if out != nil {
		prefer = "return=representation"
	}

	body, err := c.doRequest(ctx, http.MethodPatch, q.String(), bytes.NewReader(jsonBody), prefer)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeRows(q.table, body, out)
}

func (c *Client) doDelete(ctx context.Context, q *query) error {
	_, err := c.doRequest(ctx, http.MethodDelete, q.String(), nil, "return=minimal")
	return err
}

func decodeRows(table string, body []byte, out any) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", table, err)
	}
	return nil
}
