package storage

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

const defaultRegion = "us-east-1"

// Key returns the remote key for a user's archive: "<user>/<file>".
func Key(user, fileName string) string {
	return user + "/" + fileName
}

// PublicURL builds the anonymous URL of an object. With no custom endpoint it
// uses the virtual-hosted AWS form; us-east-1 has no region in the host.
func PublicURL(bucket, region, endpoint, key string) string {
	escaped := escapeKey(key)

	if endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(endpoint, "/"), bucket, escaped)
	}

	host := "s3.amazonaws.com"
	if region != "" && region != defaultRegion {
		host = fmt.Sprintf("s3.%s.amazonaws.com", region)
	}
	return fmt.Sprintf("https://%s.%s/%s", bucket, host, escaped)
}

func escapeKey(key string) string {
	parts := strings.Split(path.Clean("/"+key)[1:], "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
