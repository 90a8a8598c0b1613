package database

import (
	"net/url"
	"strings"
)

// ConstructDatabaseURL joins a server URL and a database name into a DSN.
// An empty database name returns baseURL unchanged. sslmode=disable is added
// when the URL does not already choose an sslmode.
func ConstructDatabaseURL(baseURL, databaseName string) string {
	if databaseName == "" {
		return baseURL
	}

	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" {
		// Not a URL we can reason about (e.g. key=value DSN), leave it alone
		return baseURL
	}

	u.Path = "/" + databaseName

	q := u.Query()
	if q.Get("sslmode") == "" {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()

	return u.String()
}
