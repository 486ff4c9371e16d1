package migrate

import (
	"embed"
	"io/fs"
	"os"
	"strings"
)

// DefaultDir is where new migrations are written; it is also the directory embedded below.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source is a migration directory inside a filesystem. Binaries use the embedded copy so they
// do not depend on the working directory.
type Source struct {
	FS  fs.FS
	Dir string
}

func Embedded() Source {
	return Source{FS: embedded, Dir: "migrations"}
}

func Disk(dir string) Source {
	return Source{FS: os.DirFS(dir), Dir: "."}
}

// Resolve picks the on-disk directory when one is given and the embedded set otherwise.
func Resolve(dir string) Source {
	if strings.TrimSpace(dir) == "" {
		return Embedded()
	}
	return Disk(dir)
}

func (s Source) String() string {
	if s.Dir == "migrations" {
		if _, ok := s.FS.(embed.FS); ok {
			return "embedded:" + DefaultDir
		}
	}
	return s.Dir
}
