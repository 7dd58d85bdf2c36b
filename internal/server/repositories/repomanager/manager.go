package repomanager

import (
	"context"
	"database/sql"

	"github.com/dzintars-a/coldkeeper/internal/dbx"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/files"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/operations"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/rules"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/settings"
)

// RepositoryManager vends repository implementations bound to a DBTX, so
// services can run several repositories inside one transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Files(db dbx.DBTX) files.Repository
	Operations(db dbx.DBTX) operations.Repository
	Rules(db dbx.DBTX) rules.Repository
	Settings(db dbx.DBTX) settings.Repository
}
