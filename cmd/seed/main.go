// Command seed provisions a user account. The service never creates users
// itself, so administrators and collaborators are added with this tool:
//
//	seed -email ada@example.com -name "Ada" -role administrator
//
// The password is read from SEED_PASSWORD.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/logging"
	"taskflow/pkg/identity"
	"taskflow/pkg/user"
)

// account maps the users table for inserts.
type account struct {
	ID           int64  `gorm:"column:id;primaryKey"`
	Email        string `gorm:"column:email"`
	PasswordHash string `gorm:"column:password_hash"`
	Name         string `gorm:"column:name"`
	Role         string `gorm:"column:role"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (account) TableName() string { return "users" }

func main() {
	var (
		email  = flag.String("email", "", "account email")
		name   = flag.String("name", "", "display name")
		role   = flag.String("role", string(user.Collaborator), "administrator or collaborator")
		update = flag.Bool("update", false, "overwrite name, role and password of an existing account")
	)
	flag.Parse()

	logger := logging.New(os.Stderr, os.Getenv("LOG_LEVEL"))
	if err := run(*email, *name, user.Role(*role), os.Getenv("SEED_PASSWORD"), *update); err != nil {
		level.Error(logger).Log("msg", "seed failed", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "account ready", "email", *email, "role", *role)
}

func run(email, name string, role user.Role, password string, update bool) error {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	switch {
	case email == "" || name == "":
		return errors.New("-email and -name are required")
	case !role.Valid():
		return fmt.Errorf("unknown role %q", role)
	case password == "":
		return errors.New("SEED_PASSWORD is not set")
	}

	dsn, err := config.DatabaseURL()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, user.NewPgStore(pool)); err != nil {
		return err
	}

	hash, err := identity.HashPassword(password)
	if err != nil {
		return err
	}

	gdb, err := db.OpenGorm(dsn)
	if err != nil {
		return err
	}
	gdb = gdb.WithContext(ctx)

	acct := account{Email: email, PasswordHash: hash, Name: name, Role: string(role)}
	res := gdb.Clauses(clause.OnConflict{DoNothing: true}).Create(&acct)
	if res.Error != nil {
		return fmt.Errorf("insert account: %w", res.Error)
	}
	if res.RowsAffected == 1 || !update {
		return nil
	}
	return updateAccount(gdb, acct)
}

func updateAccount(gdb *gorm.DB, acct account) error {
	res := gdb.Model(&account{}).
		Where("lower(email) = lower(?)", acct.Email).
		Updates(map[string]any{
			"password_hash": acct.PasswordHash,
			"name":          acct.Name,
			"role":          acct.Role,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("update account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %s vanished during update", acct.Email)
	}
	return nil
}
