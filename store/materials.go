package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Material struct {
	ID           int64           `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	MinStock     decimal.Decimal `json:"min_stock"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	CreatedAt    time.Time       `json:"created_at"`
}

const materialSelectCols = `id, sku, name, unit, min_stock, reorder_point, created_at`

func scanMaterial(row interface{ Scan(...any) error }) (*Material, error) {
	var m Material
	var createdAt any
	err := row.Scan(&m.ID, &m.SKU, &m.Name, &m.Unit, scanQty(&m.MinStock), scanQty(&m.ReorderPoint), &createdAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

func scanMaterials(rows *sql.Rows) ([]*Material, error) {
	var materials []*Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}

func (q *Queries) CreateMaterial(ctx context.Context, m *Material) error {
	if m.Unit == "" {
		m.Unit = "un"
	}
	id, err := q.insertID(ctx, `INSERT INTO materials (sku, name, unit, min_stock, reorder_point) VALUES (?, ?, ?, ?, ?)`,
		m.SKU, m.Name, m.Unit, m.MinStock, m.ReorderPoint)
	if err != nil {
		return fmt.Errorf("create material: %w", err)
	}
	m.ID = id
	return nil
}

func (q *Queries) UpdateMaterial(ctx context.Context, m *Material) error {
	res, err := q.exec(ctx, `UPDATE materials SET sku=?, name=?, unit=?, min_stock=?, reorder_point=? WHERE id=?`,
		m.SKU, m.Name, m.Unit, m.MinStock, m.ReorderPoint, m.ID)
	if err != nil {
		return fmt.Errorf("update material %d: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &notFoundError{what: "material", id: m.ID}
	}
	return nil
}

func (q *Queries) GetMaterial(ctx context.Context, id int64) (*Material, error) {
	row := q.queryRow(ctx, fmt.Sprintf(`SELECT %s FROM materials WHERE id=?`, materialSelectCols), id)
	m, err := scanMaterial(row)
	if err != nil {
		return nil, notFound(err, "material", id)
	}
	return m, nil
}

func (q *Queries) GetMaterialBySKU(ctx context.Context, sku string) (*Material, error) {
	row := q.queryRow(ctx, fmt.Sprintf(`SELECT %s FROM materials WHERE sku=?`, materialSelectCols), sku)
	m, err := scanMaterial(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("material %q: %w", sku, ErrNotFound)
		}
		return nil, err
	}
	return m, nil
}

// MaterialsExist returns the subset of ids that resolve to a material.
func (q *Queries) MaterialsExist(ctx context.Context, ids []int64) (map[int64]bool, error) {
	found := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if _, done := found[id]; done {
			continue
		}
		var n int
		if err := q.queryRow(ctx, `SELECT COUNT(*) FROM materials WHERE id=?`, id).Scan(&n); err != nil {
			return nil, err
		}
		found[id] = n > 0
	}
	return found, nil
}

func (q *Queries) ListMaterials(ctx context.Context) ([]*Material, error) {
	rows, err := q.query(ctx, fmt.Sprintf(`SELECT %s FROM materials ORDER BY sku`, materialSelectCols))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMaterials(rows)
}
