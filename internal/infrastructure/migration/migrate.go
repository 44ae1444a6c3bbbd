package migration

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	// Blank import required for PostgreSQL and SQLite driver registration for migrations
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// Source набор миграций внутри встроенной ФС
type Source struct {
	FS  fs.FS
	Dir string
}

var (
	// SQLite локальная база клиента: журнал синхронизации и бизнес-таблицы
	SQLite = Source{FS: files, Dir: "sqlite"}
	// Postgres база эталонного сервера
	Postgres = Source{FS: files, Dir: "postgres"}
)

// Migrator - интерфейс для самой библиотеки migrate.Migrate
type Migrator interface {
	Up() error
	Close() (error, error)
}

// MigrationEngine - фабрика для создания мигратора
type MigrationEngine func(src Source, databaseURL string) (Migrator, error)

type Migration struct {
	src         Source
	databaseURL string
	engine      MigrationEngine
}

func NewMigration(src Source, databaseURL string, engine MigrationEngine) *Migration {
	if engine == nil {
		engine = DefaultEngine
	}
	return &Migration{
		src:         src,
		databaseURL: databaseURL,
		engine:      engine,
	}
}

// DefaultEngine - реальная реализация: миграции читаются из встроенной ФС
func DefaultEngine(src Source, databaseURL string) (Migrator, error) {
	d, err := iofs.New(src.FS, src.Dir)
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", d, databaseURL)
}

func (mg *Migration) Up() (err error) {
	m, err := mg.engine(mg.src, mg.databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		serr, dberr := m.Close()
		if serr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration source error: %v", err, serr)
			} else {
				err = serr
			}
		}
		if dberr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration database error: %v", err, dberr)
			} else {
				err = dberr
			}
		}
	}()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w; migration up error", err)
	}
	return nil
}
