// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"unsafe"

	"github.com/mattn/go-sqlite3"
)

// This file contains a wrapper sql.Driver over the SQLite driver which
// monitors the creation and closing of prepared statements. Tests use it to
// check that describing a query leaks no statement and reads no rows.

// openedStmts and closedStmts store the pointers to the created/closed
// statements indexed by test name.
var openedStmts = map[string]map[uintptr]string{}
var closedStmts = map[string]map[uintptr]bool{}
var stmtRegistryMutex sync.RWMutex

// stmtQueriesRun and rowsRead count the queries run through a prepared
// statement and the rows stepped through, indexed by test name.
var stmtQueriesRun = map[string]int{}
var rowsRead = map[string]int{}
var queriesRunMutex sync.RWMutex

type trackingDriver struct {
	driver.Driver
}

type trackingConn struct {
	testName string
	*sqlite3.SQLiteConn
}

type trackingStmt struct {
	testName string
	*sqlite3.SQLiteStmt
}

type trackingRows struct {
	testName string
	driver.Rows
}

func (r *trackingRows) Next(dest []driver.Value) error {
	err := r.Rows.Next(dest)
	if err == nil {
		queriesRunMutex.Lock()
		defer queriesRunMutex.Unlock()
		rowsRead[r.testName]++
	}
	return err
}

func (r *trackingRows) ColumnTypeDatabaseTypeName(i int) string {
	return r.Rows.(driver.RowsColumnTypeDatabaseTypeName).ColumnTypeDatabaseTypeName(i)
}

func (s *trackingStmt) Close() error {
	stmtRegistryMutex.Lock()
	defer stmtRegistryMutex.Unlock()
	if _, ok := closedStmts[s.testName]; !ok {
		closedStmts[s.testName] = map[uintptr]bool{}
	}
	closedStmts[s.testName][uintptr(unsafe.Pointer(s))] = true

	return s.SQLiteStmt.Close()
}

func (s *trackingStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	rows, err := s.SQLiteStmt.QueryContext(ctx, args)
	if err != nil {
		return nil, err
	}
	queriesRunMutex.Lock()
	defer queriesRunMutex.Unlock()
	stmtQueriesRun[s.testName]++
	return &trackingRows{testName: s.testName, Rows: rows}, nil
}

func (c *trackingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	s, err := c.SQLiteConn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sm, ok := s.(*sqlite3.SQLiteStmt)
	if !ok {
		panic(fmt.Sprintf("internal error: base driver is not SQLite, got %T", s))
	}
	sPtr := &trackingStmt{SQLiteStmt: sm, testName: c.testName}

	stmtRegistryMutex.Lock()
	defer stmtRegistryMutex.Unlock()
	if _, ok := openedStmts[c.testName]; !ok {
		openedStmts[c.testName] = map[uintptr]string{}
	}
	openedStmts[c.testName][uintptr(unsafe.Pointer(sPtr))] = query
	return sPtr, nil
}

func (c *trackingConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

const TestNameTag = "testName"

// Open expects the DSN to contain the test name using the TestNameTag
// attribute.
func (d *trackingDriver) Open(name string) (driver.Conn, error) {
	var testName string
	if i := strings.IndexByte(name, '?'); i >= 0 {
		params, err := url.ParseQuery(name[i+1:])
		if err != nil {
			return nil, err
		}
		testName = params.Get(TestNameTag)
	}
	if testName == "" {
		panic("internal error: testName is not found in the db DSN")
	}

	baseConn, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	sqliteConn, ok := baseConn.(*sqlite3.SQLiteConn)
	if !ok {
		panic("internal error: base driver is not SQLite")
	}
	return &trackingConn{SQLiteConn: sqliteConn, testName: testName}, nil
}

// LeakedStmts returns the statements opened but not closed in the test.
func LeakedStmts(testName string) []string {
	stmtRegistryMutex.RLock()
	defer stmtRegistryMutex.RUnlock()
	var leaked []string
	for ptr, query := range openedStmts[testName] {
		if !closedStmts[testName][ptr] {
			leaked = append(leaked, query)
		}
	}
	return leaked
}

// OpenedStmts returns the number of statements opened in the test.
func OpenedStmts(testName string) int {
	stmtRegistryMutex.RLock()
	defer stmtRegistryMutex.RUnlock()
	return len(openedStmts[testName])
}

// RowsRead returns the number of rows stepped through in the test.
func RowsRead(testName string) int {
	queriesRunMutex.RLock()
	defer queriesRunMutex.RUnlock()
	return rowsRead[testName]
}

// StmtQueriesRun returns the number of statement queries run in the test.
func StmtQueriesRun(testName string) int {
	queriesRunMutex.RLock()
	defer queriesRunMutex.RUnlock()
	return stmtQueriesRun[testName]
}

func init() {
	sql.Register("sqlite3_stmtChecked", &trackingDriver{
		&sqlite3.SQLiteDriver{},
	})
}
