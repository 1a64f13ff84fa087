package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Postgres exposes the Postgres migration files ordered lexicographically.
func Postgres() fs.FS {
	return mustSub("postgres")
}

// SQLite exposes the SQLite migration files ordered lexicographically.
func SQLite() fs.FS {
	return mustSub("sqlite")
}

// For returns the migration set of a database driver name.
func For(driver string) fs.FS {
	if driver == "sqlite" {
		return SQLite()
	}
	return Postgres()
}

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(files, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
