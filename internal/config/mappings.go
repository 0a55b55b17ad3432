package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/store"
)

// mappingsFile is the on-disk shape of the IR mappings seed file.
type mappingsFile struct {
	Companies []mappingEntry `json:"companies"`
}

type mappingEntry struct {
	Ticker       string `json:"ticker"`
	CompanyName  string `json:"company_name"`
	IRBaseURL    string `json:"ir_base_url"`
	URLPattern   string `json:"concall_url_pattern"`
	SectionXPath string `json:"concall_section_xpath"`
	SectionCSS   string `json:"concall_section_css"`
	Market       string `json:"market"`
	Country      string `json:"country"`
	IsActive     bool   `json:"is_active"`
	Notes        string `json:"notes"`
}

// LoadMappings parses the IR mappings seed file.
func LoadMappings(path string) ([]store.IRMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mappings file: %w", err)
	}
	var f mappingsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing mappings file: %w", err)
	}

	out := make([]store.IRMapping, 0, len(f.Companies))
	for i, e := range f.Companies {
		ticker := strings.ToUpper(strings.TrimSpace(e.Ticker))
		if ticker == "" {
			return nil, fmt.Errorf("mappings entry %d: ticker is empty", i)
		}
		if e.URLPattern == "" && e.IRBaseURL == "" {
			return nil, fmt.Errorf("mappings entry %s: needs ir_base_url or concall_url_pattern", ticker)
		}
		if e.SectionCSS == "" && e.SectionXPath == "" {
			return nil, fmt.Errorf("mappings entry %s: needs a css or xpath selector", ticker)
		}
		out = append(out, store.IRMapping{
			Ticker:      ticker,
			CompanyName: e.CompanyName,
			BaseURL:     e.IRBaseURL,
			URLTemplate: e.URLPattern,
			CSSSelector: e.SectionCSS,
			XPath:       e.SectionXPath,
			Market:      e.Market,
			Country:     e.Country,
			Active:      e.IsActive,
			Notes:       e.Notes,
		})
	}
	return out, nil
}

// SyncMappings upserts the seed file into the store. Safe to run on
// every boot: rows are keyed by ticker and unchanged entries are
// rewritten in place.
func SyncMappings(ctx context.Context, path string, repo *store.IRMappingsRepo, log zerolog.Logger) error {
	if path == "" {
		return nil
	}
	mappings, err := LoadMappings(path)
	if err != nil {
		return err
	}
	for i := range mappings {
		if err := repo.Upsert(ctx, &mappings[i]); err != nil {
			return fmt.Errorf("upserting mapping %s: %w", mappings[i].Ticker, err)
		}
	}
	log.Info().Int("count", len(mappings)).Str("path", path).Msg("IR mappings synced")
	return nil
}
