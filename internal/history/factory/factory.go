package factory

import (
	"errors"
	"net/url"
	"strings"

	"github.com/loykin/mcpgate/internal/history"
	"github.com/loykin/mcpgate/internal/history/clickhouse"
)

// NewSinkFromDSN creates a history sink from a DSN.
// Supported:
//   - "clickhouse://host:port?table=table"
func NewSinkFromDSN(dsn string) (history.Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "clickhouse://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, err
		}
		host := u.Host
		if host == "" {
			host = "localhost:9000"
		}
		table := u.Query().Get("table")
		if table == "" {
			table = "gateway_events"
		}
		return clickhouse.New(host, table)
	}
	return nil, errors.New("unsupported history DSN: " + dsn)
}
