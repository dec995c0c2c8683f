package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Catalog view queries. The views deduplicate and scope the raw equipment
// tables; the DISTINCT clauses match what the form dropdowns expect.
const (
	usersQuery          = `SELECT UserName, Role FROM vw_ActivePM_FSE_Users`
	manufacturersQuery  = `SELECT DISTINCT Manufacturer FROM vw_Manufacturers`
	equipmentTypesQuery = `SELECT DISTINCT Manufacturer, EquipmentType FROM vw_EquipmentTypes`
	modelSpecsQuery     = `SELECT DISTINCT Manufacturer, EquipmentType, Model, Specifications2, Specifications3 FROM vw_ModelSpecifications`
	specLabelsQuery     = `SELECT EquipmentType, Specification2Label, Specification3Label FROM vw_EquipmentTypeSpecLabels`
)

// SQLSource loads the catalog from the five read-only views of the service
// database. It performs no writes and owns no schema.
//
// SQLSource is safe for concurrent use; the underlying [sql.DB] pools
// connections.
type SQLSource struct {
	db *sql.DB
}

// Ensure SQLSource implements Source at compile time.
var _ Source = (*SQLSource)(nil)

// NewSQLSource wraps an open database handle. The caller keeps ownership of
// db and is responsible for closing it.
func NewSQLSource(db *sql.DB) (*SQLSource, error) {
	if db == nil {
		return nil, fmt.Errorf("catalog: db must not be nil")
	}
	return &SQLSource{db: db}, nil
}

// LoadAll fetches the five catalog lists concurrently and assembles them
// into one snapshot. Any single query failure aborts the load.
func (s *SQLSource) LoadAll(ctx context.Context) (*Catalog, error) {
	var (
		users          []User
		manufacturers  []string
		equipmentTypes []EquipmentType
		models         []ModelSpec
		specLabels     []SpecLabels
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		got, err := s.loadUsers(egCtx)
		if err != nil {
			return fmt.Errorf("catalog: load users: %w", err)
		}
		users = got
		return nil
	})

	eg.Go(func() error {
		got, err := s.loadManufacturers(egCtx)
		if err != nil {
			return fmt.Errorf("catalog: load manufacturers: %w", err)
		}
		manufacturers = got
		return nil
	})

	eg.Go(func() error {
		got, err := s.loadEquipmentTypes(egCtx)
		if err != nil {
			return fmt.Errorf("catalog: load equipment types: %w", err)
		}
		equipmentTypes = got
		return nil
	})

	eg.Go(func() error {
		got, err := s.loadModelSpecs(egCtx)
		if err != nil {
			return fmt.Errorf("catalog: load model specifications: %w", err)
		}
		models = got
		return nil
	})

	eg.Go(func() error {
		got, err := s.loadSpecLabels(egCtx)
		if err != nil {
			return fmt.Errorf("catalog: load specification labels: %w", err)
		}
		specLabels = got
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &Catalog{
		Users:          users,
		Manufacturers:  manufacturers,
		EquipmentTypes: equipmentTypes,
		Models:         models,
		SpecLabels:     specLabels,
	}, nil
}

func (s *SQLSource) loadUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, usersQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var name, role sql.NullString
		if err := rows.Scan(&name, &role); err != nil {
			return nil, err
		}
		if name.String == "" {
			continue
		}
		users = append(users, User{Name: name.String, Role: role.String})
	}
	return users, rows.Err()
}

func (s *SQLSource) loadManufacturers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, manufacturersQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var manufacturers []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name.String == "" {
			continue
		}
		manufacturers = append(manufacturers, name.String)
	}
	return manufacturers, rows.Err()
}

func (s *SQLSource) loadEquipmentTypes(ctx context.Context) ([]EquipmentType, error) {
	rows, err := s.db.QueryContext(ctx, equipmentTypesQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []EquipmentType
	for rows.Next() {
		var manufacturer, name sql.NullString
		if err := rows.Scan(&manufacturer, &name); err != nil {
			return nil, err
		}
		if name.String == "" {
			continue
		}
		types = append(types, EquipmentType{Manufacturer: manufacturer.String, Name: name.String})
	}
	return types, rows.Err()
}

func (s *SQLSource) loadModelSpecs(ctx context.Context) ([]ModelSpec, error) {
	rows, err := s.db.QueryContext(ctx, modelSpecsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []ModelSpec
	for rows.Next() {
		var manufacturer, equipmentType, model, spec2, spec3 sql.NullString
		if err := rows.Scan(&manufacturer, &equipmentType, &model, &spec2, &spec3); err != nil {
			return nil, err
		}
		if model.String == "" {
			continue
		}
		models = append(models, ModelSpec{
			Manufacturer:  manufacturer.String,
			EquipmentType: equipmentType.String,
			Model:         model.String,
			Spec2:         spec2.String,
			Spec3:         spec3.String,
		})
	}
	return models, rows.Err()
}

func (s *SQLSource) loadSpecLabels(ctx context.Context) ([]SpecLabels, error) {
	rows, err := s.db.QueryContext(ctx, specLabelsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []SpecLabels
	for rows.Next() {
		var equipmentType, label2, label3 sql.NullString
		if err := rows.Scan(&equipmentType, &label2, &label3); err != nil {
			return nil, err
		}
		if equipmentType.String == "" {
			continue
		}
		labels = append(labels, SpecLabels{
			EquipmentType: equipmentType.String,
			Label2:        label2.String,
			Label3:        label3.String,
		})
	}
	return labels, rows.Err()
}
