package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Path names where the graph snapshot comes from: a file or a mongo collection.
type Path struct {
	File string
	DB   string
	Coll string
}

func NewPath(filePathOrColl string) (*Path, error) {
	// 检查filePathOrColl是否作为文件存在
	if _, err := os.Stat(filePathOrColl); err == nil {
		return &Path{
			File: filePathOrColl,
		}, nil
	}
	dbDotColl := strings.TrimSpace(filePathOrColl)
	if dbDotColl == "" {
		return nil, nil
	}
	splitted := strings.Split(dbDotColl, ".")
	if len(splitted) != 2 || splitted[0] == "" || splitted[1] == "" {
		return nil, fmt.Errorf("dbDotColl is invalid: %s", dbDotColl)
	}
	return &Path{
		DB:   splitted[0],
		Coll: splitted[1],
	}, nil
}

func (p *Path) IsFile() bool {
	return p.File != ""
}

func (p *Path) String() string {
	if p.IsFile() {
		return p.File
	}
	return p.DB + "." + p.Coll
}

// CacheName is the file name of the cached snapshot inside the cache dir.
func (p *Path) CacheName() string {
	if p.IsFile() {
		// 使用绝对路径，避免不同目录下同名文件冲突
		path, err := filepath.Abs(p.File)
		if err != nil {
			log.Panicf("failed to get absolute path of %s: %v", p.File, err)
		}
		return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(strings.TrimLeft(path, "/")) + ".yaml.zst"
	}
	return p.DB + "." + p.Coll + ".yaml.zst"
}
