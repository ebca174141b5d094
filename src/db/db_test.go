package db

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func columnDef(t *testing.T, table, column string) string {
	t.Helper()
	start := strings.Index(Schema, "CREATE TABLE IF NOT EXISTS "+table+" (")
	if !assert.GreaterOrEqual(t, start, 0, "table %s", table) {
		return ""
	}
	body := Schema[start:]
	body = body[:strings.Index(body, ");")]
	m := regexp.MustCompile(`(?m)^\s*` + column + `\s+(.*),?$`).FindStringSubmatch(body)
	if !assert.NotNil(t, m, "column %s.%s", table, column) {
		return ""
	}
	return m[1]
}

func TestSchema_LinksAreOneToOne(t *testing.T) {
	assert.Contains(t, columnDef(t, "ledger_entries", "bank_transaction_id"), "UNIQUE")
	assert.Contains(t, columnDef(t, "bank_transactions", "ledger_entry_id"), "UNIQUE")
	assert.NotContains(t, columnDef(t, "bank_transactions", "suspected_entry_id"), "UNIQUE")
}

func TestSchema_ForeignKeysAreGuarded(t *testing.T) {
	assert.Contains(t, Schema, "IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'ledger_entries_bank_transaction_fk')")
	assert.NotContains(t, Schema, "\nALTER TABLE")
}
