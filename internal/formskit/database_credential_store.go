package formskit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	errSQLiteEmptyPath     = errors.New("credential_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("credential_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("credential_store.unsupported_no_scheme")
)

// DatabaseCredentialStore persists the credential mapping using GORM over
// SQLite or Postgres. Load reads every row; Save replaces the table contents
// in one transaction, keeping the whole-map contract of CredentialStore.
type DatabaseCredentialStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseCredentialStore) Driver() string {
	return store.driverLabel
}

type credentialRow struct {
	UserID        string `gorm:"column:user_id;primaryKey"`
	AccessToken   string `gorm:"column:access_token;not null"`
	RefreshToken  string `gorm:"column:refresh_token;not null;default:''"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (credentialRow) TableName() string {
	return "user_credentials"
}

// NewDatabaseCredentialStore constructs a GORM-backed store.
func NewDatabaseCredentialStore(ctx context.Context, databaseURL string) (*DatabaseCredentialStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("credential_store.open: %w", errEmptyStoreURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("credential_store.open.%s: %w: %v", driverLabel, ErrStoreUnavailable, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&credentialRow{}); migrateErr != nil {
		return nil, fmt.Errorf("credential_store.migrate.%s: %w: %v", driverLabel, ErrStoreUnavailable, migrateErr)
	}
	return &DatabaseCredentialStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Load reads every stored row into the user-to-credential mapping.
func (store *DatabaseCredentialStore) Load(ctx context.Context) (map[string]CredentialRecord, error) {
	var rows []credentialRow
	if err := store.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("credential_store.load.%s: %w: %v", store.driverLabel, ErrStoreUnavailable, err)
	}
	credentials := make(map[string]CredentialRecord, len(rows))
	for _, row := range rows {
		credentials[row.UserID] = CredentialRecord{
			AccessToken:  row.AccessToken,
			RefreshToken: row.RefreshToken,
		}
	}
	return credentials, nil
}

// Save replaces the table contents with the supplied mapping.
func (store *DatabaseCredentialStore) Save(ctx context.Context, credentials map[string]CredentialRecord) error {
	nowUnix := time.Now().UTC().Unix()
	transactionErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if deleteErr := tx.Where("user_id IS NOT NULL").Delete(&credentialRow{}).Error; deleteErr != nil {
			return deleteErr
		}
		for userID, record := range credentials {
			row := credentialRow{
				UserID:        userID,
				AccessToken:   record.AccessToken,
				RefreshToken:  record.RefreshToken,
				UpdatedAtUnix: nowUnix,
			}
			if createErr := tx.Create(&row).Error; createErr != nil {
				return createErr
			}
		}
		return nil
	})
	if transactionErr != nil {
		return fmt.Errorf("credential_store.save.%s: %w: %v", store.driverLabel, ErrStoreUnavailable, transactionErr)
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("credential_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("credential_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("credential_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("credential_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
