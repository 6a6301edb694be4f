package main

import (
	"errors"
	stdlog "log"

	"github.com/cnc5/glacier/pkg/auth"
	"github.com/cnc5/glacier/pkg/config"
	"github.com/cnc5/glacier/pkg/log"
	"github.com/cnc5/glacier/pkg/storage"
	"github.com/cnc5/glacier/pkg/types"
)

// One-shot user provisioning: reads GLACIER_USER / GLACIER_PASSWORD from the
// environment and inserts the account. Run once per tenant, outside the
// server process.
func main() {
	log.Init(log.Config{Level: log.InfoLevel})

	userCfg, err := config.LoadUserAdd()
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v", err)
	}
	dbCfg, err := config.LoadDatabase()
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v", err)
	}

	store, err := storage.NewPostgresStore(dbCfg)
	if err != nil {
		stdlog.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	if _, err := store.GetUserByUsername(userCfg.User); err == nil {
		stdlog.Fatalf("User %s already exists", userCfg.User)
	} else if !errors.Is(err, storage.ErrNotFound) {
		stdlog.Fatalf("Failed to check user: %v", err)
	}

	hash, err := auth.HashPassword(userCfg.Password)
	if err != nil {
		stdlog.Fatalf("Failed to hash password: %v", err)
	}

	if err := store.AddUser(&types.User{
		Username:     userCfg.User,
		PasswordHash: hash,
	}); err != nil {
		stdlog.Fatalf("Failed to add user: %v", err)
	}

	stdlog.Printf("User %s provisioned", userCfg.User)
}
