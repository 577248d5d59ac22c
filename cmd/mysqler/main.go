package main

import (
	_ "embed"
	"os"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tigerroll/mysqler/internal/app"
)

// embeddedConfig is layered over the built-in defaults at startup.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}
	app.Run(envFilePath, embeddedConfig)
}
