package conventions

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWildcardAuditPattern(t *testing.T) {
	require.Equal(t, ">", WildcardAudit())
}

func TestLegacyTwoTokenAllPattern(t *testing.T) {
	require.Equal(t, "*.*", LegacyTwoTokenAll())
}

func TestSanitizePatternReplacesSubjectMetacharacters(t *testing.T) {
	require.Equal(t, "account_service-user-deleted", sanitizePattern("account_service.user.deleted"))
	require.Equal(t, "-", sanitizePattern(">"))
	require.Equal(t, "--payment-completed", sanitizePattern("*.payment.completed"))
}
