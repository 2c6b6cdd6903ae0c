package npdm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	tableElements    = "e"
	tableAccumulator = "acc"
	tablePositions   = "p"
)

var (
	keyColumns   = keyColumnList()
	keyColumnStr = strings.Join(keyColumns, ", ")
	keyValueStr  = strings.TrimSuffix(strings.Repeat("?, ", MaxRank), ", ")
)

func keyColumnList() []string {
	cols := make([]string, 0, MaxRank)
	for k := range MaxRank {
		cols = append(cols, fmt.Sprintf("k%d", k))
	}
	return cols
}

// sqliteStore keeps sparse per-position results in a sqlite database.
type sqliteStore struct {
	Path string

	db *sql.DB
}

func openSQLite(dbPath string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	// Writes are serialized by sqlite anyway, and a single connection avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, dbPath)
	}
	return &sqliteStore{Path: dbPath, db: db}, nil
}

func (st *sqliteStore) Close() error {
	return st.db.Close()
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	colDefs := make([]string, 0, MaxRank)
	for _, c := range keyColumns {
		colDefs = append(colDefs, c+" INTEGER")
	}
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (rep TEXT, pi INTEGER, pj INTEGER, worker INTEGER, %s, v REAL, PRIMARY KEY (rep, pi, pj, worker, %s)) STRICT`,
		tableElements, strings.Join(colDefs, ", "), keyColumnStr)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	sqlStr = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (rep TEXT, %s, v REAL, PRIMARY KEY (rep, %s)) STRICT`,
		tableAccumulator, strings.Join(colDefs, ", "), keyColumnStr)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	sqlStr = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (rep TEXT, pi INTEGER, pj INTEGER, worker INTEGER, PRIMARY KEY (rep, pi, pj, worker)) STRICT`, tablePositions)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func keyArgs(args []any, k Index) []any {
	for _, i := range k {
		args = append(args, i)
	}
	return args
}

// save replaces the rows of position (i, j) of a worker with the entries of s.
func (st *sqliteStore) save(ctx context.Context, rep Representation, i, j, worker int, s *Sparse) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer tx.Rollback()

	sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE rep=? AND pi=? AND pj=? AND worker=?`, tableElements)
	if _, err := tx.ExecContext(ctx, sqlStr, string(rep), i, j, worker); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %d %d %d", rep, i, j, worker))
	}
	// A position without elements is still saved.
	sqlStr = fmt.Sprintf(`INSERT INTO %s (rep, pi, pj, worker) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`, tablePositions)
	if _, err := tx.ExecContext(ctx, sqlStr, string(rep), i, j, worker); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %d %d %d", rep, i, j, worker))
	}

	sqlStr = fmt.Sprintf(`INSERT INTO %s (rep, pi, pj, worker, %s, v) VALUES (?, ?, ?, ?, %s, ?)`, tableElements, keyColumnStr, keyValueStr)
	stmt, err := tx.PrepareContext(ctx, sqlStr)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer stmt.Close()
	args := make([]any, 0, 4+MaxRank+1)
	for _, k := range s.sortedKeys() {
		args = append(args[:0], string(rep), i, j, worker)
		args = keyArgs(args, k)
		args = append(args, s.m[k])
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// load returns the rows of position (i, j) of a worker.
// It fails if the position was never saved.
func (st *sqliteStore) load(ctx context.Context, rep Representation, i, j, worker, rank int) (*Sparse, error) {
	var saved int
	sqlStr := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE rep=? AND pi=? AND pj=? AND worker=?`, tablePositions)
	if err := st.db.QueryRowContext(ctx, sqlStr, string(rep), i, j, worker).Scan(&saved); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if saved == 0 {
		return nil, errors.Errorf("%s position (%d, %d) of worker %d not saved", rep, i, j, worker)
	}

	sqlStr = fmt.Sprintf(`SELECT %s, v FROM %s WHERE rep=? AND pi=? AND pj=? AND worker=?`, keyColumnStr, tableElements)
	rows, err := st.db.QueryContext(ctx, sqlStr, string(rep), i, j, worker)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	s, err := scanSparse(rows, rank)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("%s %d %d %d", rep, i, j, worker))
	}
	return s, nil
}

// positions returns the saved (i, j, worker) triples of a representation.
func (st *sqliteStore) positions(ctx context.Context, rep Representation) ([][3]int, error) {
	sqlStr := fmt.Sprintf(`SELECT pi, pj, worker FROM %s WHERE rep=? ORDER BY pi, pj, worker`, tablePositions)
	rows, err := st.db.QueryContext(ctx, sqlStr, string(rep))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	ps := make([][3]int, 0)
	for rows.Next() {
		var p [3]int
		if err := rows.Scan(&p[0], &p[1], &p[2]); err != nil {
			return nil, errors.Wrap(err, "")
		}
		ps = append(ps, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return ps, nil
}

// resetAccumulator empties the accumulator of a representation.
func (st *sqliteStore) resetAccumulator(ctx context.Context, rep Representation) error {
	sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE rep=?`, tableAccumulator)
	if _, err := st.db.ExecContext(ctx, sqlStr, string(rep)); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// accumulate adds the entries of s to the accumulator.
func (st *sqliteStore) accumulate(ctx context.Context, rep Representation, s *Sparse) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer tx.Rollback()

	sqlStr := fmt.Sprintf(`INSERT INTO %s (rep, %s, v) VALUES (?, %s, ?) ON CONFLICT (rep, %s) DO UPDATE SET v = v + excluded.v`,
		tableAccumulator, keyColumnStr, keyValueStr, keyColumnStr)
	stmt, err := tx.PrepareContext(ctx, sqlStr)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer stmt.Close()
	args := make([]any, 0, 1+MaxRank+1)
	for k, v := range s.m {
		args = append(args[:0], string(rep))
		args = keyArgs(args, k)
		args = append(args, v)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// accumulated returns the content of the accumulator.
func (st *sqliteStore) accumulated(ctx context.Context, rep Representation, rank int) (*Sparse, error) {
	sqlStr := fmt.Sprintf(`SELECT %s, v FROM %s WHERE rep=?`, keyColumnStr, tableAccumulator)
	rows, err := st.db.QueryContext(ctx, sqlStr, string(rep))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	s, err := scanSparse(rows, rank)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

func scanSparse(rows *sql.Rows, rank int) (*Sparse, error) {
	s := NewSparse(rank)
	var k Index
	var v float64
	dest := make([]any, 0, MaxRank+1)
	for i := range k {
		dest = append(dest, &k[i])
	}
	dest = append(dest, &v)
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "")
		}
		s.m[k] += v
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}
