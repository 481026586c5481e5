package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilesAreOrderedAndEmbedded(t *testing.T) {
	names, err := Files()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	require.Equal(t, "0001_init.sql", names[0])

	body, err := files.ReadFile(names[0])
	require.NoError(t, err)
	for _, table := range []string{
		"document_sequences", "idempotency_keys", "audit_logs", "products", "inventory_log",
		"cash_accounts", "cash_transactions", "partner_accounts", "settlements", "settlement_allocations",
		"loyalty_programs", "customer_points", "point_logs", "store_credits", "prize_pools",
		"sales", "sale_items", "sale_payments", "deliveries", "delivery_items",
		"purchases", "purchase_items", "purchase_payments",
	} {
		require.True(t, strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
}
