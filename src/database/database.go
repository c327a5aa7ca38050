package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/finflow/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

// InitDB opens the sqlite database at databasePath, ensures the schema and
// runs column migrations. It sets the package-level DB handle.
func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if logger.L != nil {
		logger.L.Info("Checking database migrations", "databasePath", databasePath)
	} else {
		stdlog.Println("Checking database migrations for:", databasePath)
	}

	if err := EnsureSchema(DB); err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	migrateTransactionsTable(DB)
	migrateBudgetsTable(DB)

	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}

// EnsureSchema creates the ledger tables if they do not exist. Amount and
// balance columns are TEXT holding exact decimal strings; date columns are
// TEXT holding RFC3339 UTC timestamps so range predicates compare correctly.
func EnsureSchema(db *sql.DB) error {
	createTableStatement := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL UNIQUE,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		date TEXT NOT NULL,
		category TEXT,
		is_recurring INTEGER NOT NULL DEFAULT 0,
		recurring_interval TEXT,
		next_recurring_date TEXT,
		last_processed TEXT,
		FOREIGN KEY(user_id) REFERENCES users(id),
		FOREIGN KEY(account_id) REFERENCES accounts(id)
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_due
		ON transactions(next_recurring_date) WHERE is_recurring = 1;
	CREATE INDEX IF NOT EXISTS idx_transactions_account_date
		ON transactions(account_id, date);

	CREATE TABLE IF NOT EXISTS budgets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		is_account_default_budget INTEGER NOT NULL DEFAULT 0,
		last_alert_sent TEXT,
		FOREIGN KEY(user_id) REFERENCES users(id),
		FOREIGN KEY(account_id) REFERENCES accounts(id),
		UNIQUE(user_id, account_id)
	);
	`

	_, err := db.Exec(createTableStatement)
	return err
}

func migrateTransactionsTable(db *sql.DB) {
	columnExists, ok := tableColumns(db, "transactions")
	if !ok {
		return
	}

	if _, ok := columnExists["last_processed"]; !ok {
		_, err := db.Exec("ALTER TABLE transactions ADD COLUMN last_processed TEXT")
		if err != nil {
			logger.L.Error("Error adding 'last_processed' column to 'transactions' table", "error", err)
		} else {
			logger.L.Info("Added 'last_processed' column to 'transactions' table")
		}
	}
	if _, ok := columnExists["next_recurring_date"]; !ok {
		_, err := db.Exec("ALTER TABLE transactions ADD COLUMN next_recurring_date TEXT")
		if err != nil {
			logger.L.Error("Error adding 'next_recurring_date' column to 'transactions' table", "error", err)
		} else {
			logger.L.Info("Added 'next_recurring_date' column to 'transactions' table")
		}
	}
}

func migrateBudgetsTable(db *sql.DB) {
	columnExists, ok := tableColumns(db, "budgets")
	if !ok {
		return
	}

	if _, ok := columnExists["last_alert_sent"]; !ok {
		_, err := db.Exec("ALTER TABLE budgets ADD COLUMN last_alert_sent TEXT")
		if err != nil {
			logger.L.Error("Error adding 'last_alert_sent' column to 'budgets' table", "error", err)
		} else {
			logger.L.Info("Added 'last_alert_sent' column to 'budgets' table")
		}
	}
	if _, ok := columnExists["is_account_default_budget"]; !ok {
		_, err := db.Exec("ALTER TABLE budgets ADD COLUMN is_account_default_budget INTEGER NOT NULL DEFAULT 0")
		if err != nil {
			logger.L.Error("Error adding 'is_account_default_budget' column to 'budgets' table", "error", err)
		} else {
			logger.L.Info("Added 'is_account_default_budget' column to 'budgets' table")
		}
	}
}

// tableColumns returns the column set of a table, or ok=false when the table
// does not exist yet (nothing to migrate; EnsureSchema creates it complete).
func tableColumns(db *sql.DB, table string) (map[string]bool, bool) {
	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false
		}
		if logger.L != nil {
			logger.L.Error("Error checking for table", "table", table, "error", err)
		} else {
			stdlog.Printf("Error checking for table %s: %v", table, err)
		}
		return nil, false
	}

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema", "table", table, "error", err)
		} else {
			stdlog.Printf("Error querying table schema for %s: %v", table, err)
		}
		return nil, false
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info", "table", table, "error", err)
			} else {
				stdlog.Printf("Error scanning column info for %s: %v", table, err)
			}
			return nil, false
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info", "table", table, "error", err)
		} else {
			stdlog.Printf("Error iterating over column info for %s: %v", table, err)
		}
		return nil, false
	}
	return columnExists, true
}
