package storage

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// LinkTimeFormat renders listing timestamps as DD/MM/YYYY - HH:mm:ss.
const LinkTimeFormat = "02/01/2006 - 15:04:05"

// Object is one stored object as returned by List.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Link is the user-facing view of a published object.
type Link struct {
	Key          string `json:"key"`
	Size         string `json:"size"`
	LastModified string `json:"lastModified"`
}

// Links converts a listing of the user's prefix into display rows. The prefix
// placeholder object ("<user>/") is skipped.
func Links(user string, objects []Object) []Link {
	links := make([]Link, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == user+"/" || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		size := obj.Size
		if size < 0 {
			size = 0
		}
		links = append(links, Link{
			Key:          obj.Key,
			Size:         humanize.Bytes(uint64(size)),
			LastModified: obj.LastModified.Local().Format(LinkTimeFormat),
		})
	}
	return links
}
