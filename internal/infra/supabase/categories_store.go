package supabase

import (
	"context"
	"fmt"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

const tableCategories = "categorias"

// FindCategory looks up a category by exact name and type.
func (c *Client) FindCategory(ctx context.Context, userID, name string, kind domain.TransactionType) (*domain.Category, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindCategory")
	defer span.End()
	span.SetAttributes(attribute.String("category.name", name))

	var rows []domain.Category
	err := c.read(ctx, tableCategories, func() error {
		rows = nil
		q := from(tableCategories).eq("user_id", userID).eq("nome", name).eq("tipo", string(kind)).raw("limit=1")
		if err := c.doGet(ctx, q, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "categoria", ID: name}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rows[0], nil
}

// CreateCategory inserts a category and returns the stored row.
func (c *Client) CreateCategory(ctx context.Context, cat *domain.Category) (*domain.Category, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateCategory")
	defer span.End()

	row := map[string]any{
		"user_id": cat.UserID,
		"nome":    cat.Name,
		"tipo":    cat.Type,
	}

	var rows []domain.Category
	err := c.write(ctx, tableCategories, func() error {
		if err := c.doPost(ctx, tableCategories, row, "", &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("no result from %s insert", tableCategories)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rows[0], nil
}
