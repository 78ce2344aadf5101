// Package all registers every storage backend with the storage factory.
package all

import (
	_ "datagrid/internal/storage/mssql"
	_ "datagrid/internal/storage/postgres"
	_ "datagrid/internal/storage/sqlite"
)
