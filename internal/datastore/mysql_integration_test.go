//go:build integration

package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	gormmysql "gorm.io/driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/poachwatch/poachwatch/internal/conf"
	"github.com/poachwatch/poachwatch/internal/logger"
	"github.com/poachwatch/poachwatch/internal/notification"
	"github.com/poachwatch/poachwatch/internal/notification/storetest"
)

func TestMySQLNotificationStoreConformance(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := tcmysql.Run(ctx, "mysql:8.4",
		tcmysql.WithDatabase("poachwatch"),
		tcmysql.WithUsername("poachwatch"),
		tcmysql.WithPassword("poachwatch"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "loc=UTC")
	require.NoError(t, err)

	storetest.Run(t, func(t *testing.T) notification.Store {
		s, err := open(gormmysql.Open(dsn), conf.DriverMySQL, 0, nil, logger.OrDiscard(nil))
		require.NoError(t, err)
		require.NoError(t, s.DB().Exec("DELETE FROM notifications").Error)
		require.NoError(t, s.DB().Exec("UPDATE watermarks SET last_acknowledged_at = NULL").Error)
		t.Cleanup(func() { _ = s.Close() })
		return s.Notifications()
	})
}
