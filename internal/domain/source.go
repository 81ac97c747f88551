package domain

import "fmt"

// Source identifies which ingestion path produced a row. Each source has its
// own raw-data grammar.
type Source string

const (
	SourceScrape Source = "scrape"
	SourceAPI    Source = "api"
	SourceUpload Source = "upload"
)

// ParseSource validates a source tag.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceScrape, SourceAPI, SourceUpload:
		return Source(s), nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}
