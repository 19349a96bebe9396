package version

import "fmt"

// Значения подставляются при сборке через -ldflags:
//
//	-X github.com/dkorolev/commerce/internal/version.version=v1.2.3
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// GetCommit возвращает git-коммит сборки.
func GetCommit() string { return commit }

// GetDate возвращает дату сборки.
func GetDate() string { return date }

// Info возвращает все три компонента разом.
func Info() (v, c, d string) { return version, commit, date }

// String — человекочитаемая строка версии для логов и CLI.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
