package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// S3Secret holds credentials DuckDB uses to read s3:// paths.
type S3Secret struct {
	Name     string
	KeyID    string
	Secret   string
	Endpoint string
	Region   string
	URLStyle string // "path" or "vhost"
}

// CreateS3Secret registers an S3 secret with DuckDB's httpfs extension so
// that views over s3:// files can be queried.
func CreateS3Secret(ctx context.Context, db *sql.DB, s S3Secret) error {
	stmt, err := s3SecretSQL(s)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create S3 secret %q: %w", s.Name, err)
	}
	return nil
}

func s3SecretSQL(s S3Secret) (string, error) {
	if s.Name == "" {
		return "", fmt.Errorf("secret name is required")
	}
	opts := []string{"TYPE S3"}
	add := func(key, value string) {
		if value != "" {
			opts = append(opts, key+" "+quoteLiteral(value))
		}
	}
	add("KEY_ID", s.KeyID)
	add("SECRET", s.Secret)
	add("ENDPOINT", strings.TrimPrefix(strings.TrimPrefix(s.Endpoint, "https://"), "http://"))
	add("REGION", s.Region)
	add("URL_STYLE", s.URLStyle)
	if strings.HasPrefix(s.Endpoint, "http://") {
		opts = append(opts, "USE_SSL false")
	}
	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (\n\t%s\n)", quoteIdentifier(s.Name), strings.Join(opts, ",\n\t")), nil
}

// quoteIdentifier wraps a SQL identifier in double quotes, doubling any
// embedded double quotes.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral wraps a string value in single quotes, doubling any embedded
// single quotes.
func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
