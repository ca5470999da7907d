package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func TenantKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("tenant:%s", tenantID)
}
