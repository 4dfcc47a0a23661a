package main

import (
	devenv "evetrade/dev/env"
	"evetrade/internal/components/db"
	"fmt"
	"os"
)

const devDBPath = "<dev_state>/evetrade.db"

func CreateDevDB() error {
	path, err := devenv.ResolvePath(devDBPath)
	if err != nil {
		return err
	}

	_, err = os.Stat(path)
	if err == nil {
		fmt.Println("database already created at", path)
		return nil
	}

	fmt.Println("creating database at", path)
	database, err := db.Config{File: devDBPath}.OpenDB(db.Schema)
	if err != nil {
		return err
	}
	return database.Close()
}

// CreateConfig copies the example config into place unless a config already exists.
func CreateConfig() error {
	_, err := os.Stat("config.json5")
	if err == nil {
		fmt.Println("config already exists at config.json5")
		return nil
	}

	example, err := os.ReadFile("config.example.json5")
	if err != nil {
		return err
	}
	fmt.Println("creating config.json5 from config.example.json5")
	return os.WriteFile("config.json5", example, 0600)
}

func PrintConfigLocations() {
	fmt.Println("\n==== CONFIGURATION ====")
	fmt.Println("config.json5          non-secret settings, identity and schedule")
	fmt.Println("config.local.json5    secrets merged on top, ex. { esi: { access_token: \"...\" } }")
	fmt.Println("dev/.state/           the dev database and token file")
	fmt.Println("\nthen run: go run ./cmd/evetrade run-all")
}
