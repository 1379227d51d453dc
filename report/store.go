package report

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lucasepe/codename"

	_ "embed"

	"github.com/lsmcp/lsmcp/helpers"
	_ "modernc.org/sqlite"
)

// Timestamp round-trips times through SQLite as RFC3339 text.
type Timestamp struct {
	time.Time
}

func Now() *Timestamp {
	return &Timestamp{Time: time.Now()}
}

// Scan implements the Scanner interface.
func (ts *Timestamp) Scan(value any) error {
	text, ok := value.(string)
	if !ok {
		return fmt.Errorf("cannot scan %T into a timestamp", value)
	}

	parsed, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return err
	}

	ts.Time = parsed
	return nil
}

// Value implements the driver Valuer interface.
func (ts Timestamp) Value() (driver.Value, error) {
	return ts.Format(time.RFC3339Nano), nil
}

//go:embed init.sql
var initScript string

// Store archives tool reports (primarily diagnostics runs) in a SQLite
// database under the data directory. Each database belongs to one archive,
// identified by a codename generated on first open.
type Store struct {
	archiveId string
	db        *sqlx.DB
}

func NewMemoryStore() (*Store, error) {
	return setupStore(":memory:")
}

func NewMemoryStorePanic() *Store {
	store, err := NewMemoryStore()
	if err != nil {
		panic(err)
	}
	return store
}

func NewStore() (*Store, error) {
	// get or initialize directory
	dirPath, err := helpers.GetOrInitializeDataDir()
	if err != nil {
		return nil, err
	}

	return NewStoreFromPath(filepath.Join(dirPath, "reports.db"))
}

func NewStorePanic() *Store {
	store, err := NewStore()
	if err != nil {
		panic(err)
	}
	return store
}

func NewStoreFromPath(path string) (*Store, error) {
	if path != ":memory:" && !filepath.IsAbs(path) {
		rPath, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}

		path = rPath
	}

	return setupStore(path)
}

func setupStore(reportsDbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", reportsDbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(initScript); err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{db: db}
	if err := store.loadArchiveId(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// loadArchiveId reads the archive's codename, minting one on first open.
// The archive table holds a single row.
func (st *Store) loadArchiveId() error {
	err := st.db.QueryRow("SELECT name FROM archive WHERE id = 1").Scan(&st.archiveId)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	seed, err := codename.NewCryptoSeed()
	if err != nil {
		return err
	}
	st.archiveId = codename.Generate(rand.New(rand.NewSource(seed)), 4)

	_, err = st.db.Exec("INSERT INTO archive (id, name) VALUES (1, ?)", st.archiveId)
	return err
}

func (st *Store) ArchiveId() string {
	return st.archiveId
}

type Report struct {
	Id        int        `db:"id,omitempty"`
	ArchiveId string     `db:"archive_id"`
	Root      string     `db:"root"`
	Tool      string     `db:"tool"`
	FilePath  string     `db:"file_path"`
	Language  string     `db:"language"`
	Errors    int        `db:"errors"`
	Warnings  int        `db:"warnings"`
	Content   string     `db:"content"`
	CreatedAt *Timestamp `db:"created_at,omitempty"`
}

func (st *Store) Save(report Report) error {
	if len(report.ArchiveId) == 0 {
		report.ArchiveId = st.archiveId
	}

	if report.CreatedAt == nil || report.CreatedAt.IsZero() {
		report.CreatedAt = Now()
	}

	_, err := st.db.NamedExec(`INSERT INTO reports (
	archive_id, root, tool, file_path, language,
	errors, warnings, content, created_at
) VALUES (
	:archive_id, :root, :tool, :file_path, :language,
	:errors, :warnings, :content, :created_at
)`, &report)
	return err
}

// Filter narrows List results; zero values match everything.
type Filter struct {
	Root     string
	Tool     string
	FilePath string
	Since    time.Time
}

// Implement a streaming iterator for reports, so large archives are not
// loaded into memory at once.
type ReportIterator struct {
	rows *sqlx.Rows
}

func (it *ReportIterator) Next() bool {
	res := it.rows.Next()
	if !res {
		it.rows.Close()
	}
	return res
}

func (it *ReportIterator) Value() (Report, error) {
	var report Report
	if err := it.rows.StructScan(&report); err != nil {
		it.rows.Close()
		return Report{}, err
	}
	return report, nil
}

func (it *ReportIterator) List() ([]Report, error) {
	var reports []Report
	for it.Next() {
		report, err := it.Value()
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (st *Store) List(filter Filter) (*ReportIterator, error) {
	builder := sq.Select("*").From("reports").
		Where(sq.Eq{"archive_id": st.archiveId}).
		OrderBy("created_at DESC")

	if len(filter.Root) != 0 {
		builder = builder.Where(sq.Eq{"root": filter.Root})
	}
	if len(filter.Tool) != 0 {
		builder = builder.Where(sq.Eq{"tool": filter.Tool})
	}
	if len(filter.FilePath) != 0 {
		builder = builder.Where(sq.Eq{"file_path": filter.FilePath})
	}
	if !filter.Since.IsZero() {
		builder = builder.Where(sq.GtOrEq{"created_at": filter.Since.Format(time.RFC3339Nano)})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := st.db.Queryx(query, args...)
	if err != nil {
		return nil, err
	}
	return &ReportIterator{rows: rows}, nil
}

func (st *Store) Get(id int) (Report, error) {
	var report Report
	err := st.db.QueryRowx("SELECT * FROM reports WHERE id = ? AND archive_id = ?", id, st.archiveId).
		StructScan(&report)
	return report, err
}

func (st *Store) Delete(id int) error {
	_, err := st.db.Exec("DELETE FROM reports WHERE id = ? AND archive_id = ?", id, st.archiveId)
	return err
}

func (st *Store) Reset() error {
	_, err := st.db.Exec("DELETE FROM reports WHERE archive_id = ?", st.archiveId)
	return err
}

func (st *Store) Close() error {
	return st.db.Close()
}
