package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that the database matches what the stores expect.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"wallets":             "Credit balances",
		"books":               "Generated book records",
		"wallet_transactions": "Credit ledger",
		"schema_migrations":   "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column names and declared types.
func (v *SchemaValidator) ValidateTableStructure() error {
	walletColumns := map[string]string{
		"id":                   "TEXT",
		"user_id":              "TEXT",
		"free_credits":         "INTEGER",
		"subscription_credits": "INTEGER",
		"top_up_credits":       "INTEGER",
		"updated_at":           "DATETIME",
	}
	if err := v.validateColumns("wallets", walletColumns); err != nil {
		return fmt.Errorf("wallets table structure invalid: %w", err)
	}

	bookColumns := map[string]string{
		"id":              "TEXT",
		"owner_id":        "TEXT",
		"author":          "TEXT",
		"title":           "TEXT",
		"topic":           "TEXT",
		"target_audience": "TEXT",
		"num_chapters":    "INTEGER",
		"num_subsections": "INTEGER",
		"cover":           "TEXT",
		"document":        "TEXT",
		"pdf":             "TEXT",
		"credits_charged": "INTEGER",
		"created_at":      "DATETIME",
	}
	if err := v.validateColumns("books", bookColumns); err != nil {
		return fmt.Errorf("books table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that all query indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_books_owner_created":      "Book listing per owner",
		"idx_wallet_transactions_user": "Ledger history per user",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints probes the foreign key and check constraints. It leaves no rows behind.
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO books (id, owner_id, author, title, topic, target_audience, num_chapters, num_subsections)
		VALUES ('constraint-probe', 'no-such-wallet', 'a', 't', 'x', 'y', 1, 1)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM books WHERE id = 'constraint-probe'")
		return fmt.Errorf("foreign key constraint not enforced: books.owner_id")
	}

	_, err = v.db.Exec(`
		INSERT INTO wallets (id, user_id, free_credits) VALUES ('constraint-probe', 'constraint-probe', -1)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM wallets WHERE id = 'constraint-probe'")
		return fmt.Errorf("check constraint not enforced: wallets.free_credits")
	}

	return nil
}

func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	return v.objectExists("table", tableName)
}

func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	return v.objectExists("index", indexName)
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
