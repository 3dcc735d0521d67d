// Package config holds the typed configuration for the h2hdb binaries and
// loads it from a JSON file.
package config

import (
	"encoding/json"
	"os"
	"runtime"
	"strconv"
	"strings"

	"go.h2hdb.org/infra/go/skerr"
	"go.h2hdb.org/infra/go/util"
)

// CBZ grouping modes: how archives are laid out under cbz_path.
const (
	GroupingFlat       = "flat"
	GroupingYear       = "date-yyyy"
	GroupingYearMonth  = "date-yyyy-mm"
	GroupingYearMonDay = "date-yyyy-mm-dd"
)

// Sort keys for the ingest work list.
const (
	SortUploadTime   = "upload_time"
	SortDownloadTime = "download_time"
	SortGID          = "gid"
	SortTitle        = "title"
	SortNone         = "no"
	SortPages        = "pages"
	// "pages+N" sorts by |pages - N| ascending; see ParsePagesSort.
)

// DefaultPagesPivot is the pivot used when a "pages+" key omits N.
const DefaultPagesPivot = 20

var groupings = []string{GroupingFlat, GroupingYear, GroupingYearMonth, GroupingYearMonDay}

// H2HConfig describes the on-disk gallery tree and the CBZ output.
type H2HConfig struct {
	DownloadPath    string `json:"download_path"`
	CBZPath         string `json:"cbz_path"`
	CBZTmpDirectory string `json:"cbz_tmp_directory"`
	CBZMaxSize      int    `json:"cbz_max_size"`
	CBZGrouping     string `json:"cbz_grouping"`
	CBZSort         string `json:"cbz_sort"`
}

// DatabaseConfig points at the MySQL backend.
type DatabaseConfig struct {
	SQLType  string `json:"sql_type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// LoggerConfig controls the sklog sinks.
type LoggerConfig struct {
	Level             string `json:"level"`
	DisplayOnScreen   bool   `json:"display_on_screen"`
	WriteToFile       string `json:"write_to_file"`
	MaxLogEntryLength int    `json:"max_log_entry_length"`
	SynoChatWebhook   string `json:"synochat_webhook"`
}

// MediaServerConfig points at the Komga instance, if any.
type MediaServerConfig struct {
	ServerType  string `json:"server_type"`
	BaseURL     string `json:"base_url"`
	APIUsername string `json:"api_username"`
	APIPassword string `json:"api_password"`
	LibraryID   string `json:"library_id"`
}

// Config is the root configuration object.
type Config struct {
	H2H         H2HConfig         `json:"h2h"`
	Database    DatabaseConfig    `json:"database"`
	Logger      LoggerConfig      `json:"logger"`
	MediaServer MediaServerConfig `json:"media_server"`
}

// Load reads and validates a Config from the given JSON file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, skerr.Wrapf(err, "reading config %s", path)
	}
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, skerr.Wrapf(err, "parsing config %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate returns an error describing the first invalid field, if any.
// Zero values get the documented defaults filled in.
func (c *Config) Validate() error {
	if c.H2H.DownloadPath == "" {
		return skerr.Fmt("config: h2h.download_path is required")
	}
	if c.H2H.CBZGrouping == "" {
		c.H2H.CBZGrouping = GroupingFlat
	}
	if !util.In(c.H2H.CBZGrouping, groupings) {
		return skerr.Fmt("config: unknown h2h.cbz_grouping %q", c.H2H.CBZGrouping)
	}
	if c.H2H.CBZSort == "" {
		c.H2H.CBZSort = SortPages
	}
	if _, ok := ParsePagesSort(c.H2H.CBZSort); !ok &&
		!util.In(c.H2H.CBZSort, []string{SortUploadTime, SortDownloadTime, SortGID, SortTitle, SortNone}) {
		return skerr.Fmt("config: unknown h2h.cbz_sort %q", c.H2H.CBZSort)
	}
	if c.H2H.CBZPath != "" && c.H2H.CBZTmpDirectory == "" {
		return skerr.Fmt("config: h2h.cbz_tmp_directory is required when h2h.cbz_path is set")
	}
	if c.Database.SQLType != "" && c.Database.SQLType != "mysql" {
		return skerr.Fmt("config: unsupported database.sql_type %q", c.Database.SQLType)
	}
	if c.Database.Host == "" || c.Database.Database == "" {
		return skerr.Fmt("config: database.host and database.database are required")
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.MediaServer.ServerType != "" && c.MediaServer.ServerType != "komga" {
		return skerr.Fmt("config: unsupported media_server.server_type %q", c.MediaServer.ServerType)
	}
	return nil
}

// ParsePagesSort splits a "pages+N" sort key into its pivot. For plain
// "pages" the pivot is 0; a bare "pages+" means DefaultPagesPivot. ok is
// false for any other key.
func ParsePagesSort(sort string) (pivot int, ok bool) {
	if sort == SortPages {
		return 0, true
	}
	rest, found := strings.CutPrefix(sort, SortPages+"+")
	if !found {
		return 0, false
	}
	if rest == "" {
		return DefaultPagesPivot, true
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// WorkerLimit is the size of the ingest worker pool.
func WorkerLimit() int {
	return util.MaxInt(1, runtime.NumCPU()-2)
}
