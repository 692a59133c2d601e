package common

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds everything read from the environment at startup.
type Config struct {
	// Firebase backend. All three must be set together.
	FirebaseDatabaseURL string
	FirebaseProjectID   string
	CredentialsFile     string

	// Local sqlite backend, used when no Firebase URL is configured.
	SqliteDB string

	// AdminUsername, when set, grants admin to that one username even if the
	// stored record says role=user. Lets a fresh database bootstrap an admin.
	AdminUsername string

	Port string
}

// LoadConfig reads .env (if present) and the process environment. It fails
// hard when no store backend is configured; everything else has a default.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}

	cfg := Config{
		FirebaseDatabaseURL: os.Getenv("FIREBASE_DATABASE_URL"),
		FirebaseProjectID:   os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile:     os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		SqliteDB:            os.Getenv("SQLITE_DB"),
		AdminUsername:       os.Getenv("ADMIN_USERNAME"),
		Port:                os.Getenv("PORT"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if cfg.FirebaseDatabaseURL != "" {
		if cfg.FirebaseProjectID == "" || cfg.CredentialsFile == "" {
			log.Fatal("FIREBASE_DATABASE_URL is set but FIREBASE_PROJECT_ID or GOOGLE_APPLICATION_CREDENTIALS is missing")
		}
	} else if cfg.SqliteDB == "" {
		log.Fatal("no store configured: set FIREBASE_DATABASE_URL (with FIREBASE_PROJECT_ID and GOOGLE_APPLICATION_CREDENTIALS) or SQLITE_DB")
	}

	return cfg
}
