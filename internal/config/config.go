package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults for the field-inclusion lists; chosen to carry everything the
// reconciliation and download steps depend on plus the usual audit fields.
var (
	DefaultMediaFields = []string{
		"id", "key", "timestamp_start", "path_best", "path_best_thm",
		"deployment.id", "deployment.key",
		"deployment.campaign.id", "deployment.campaign.key",
		"pose.lat", "pose.lon", "pose.dep",
	}
	DefaultAnnotationFields = []string{
		"id", "type",
		"annotation_set_id", "point.annotation_set_id",
		"label.id", "label.name", "label_scheme.id", "label_scheme.name",
		"point.x", "point.y", "point.media.id",
		"created_at", "user.username",
	}
)

// Config holds the application's configuration. It is passed explicitly into
// every pipeline entry point; no component reads ambient state.
type Config struct {
	Host     string `yaml:"host"`
	APIToken string `yaml:"api_token"`

	CollectionID    int64 `yaml:"collection_id"`
	AnnotationSetID int64 `yaml:"annotation_set_id"`

	// Single-media scope. An empty AnnotationIDs list means "all annotations
	// on this media"; a non-empty list selects the per-id retrieval path.
	MediaID              int64   `yaml:"media_id"`
	AnnotationIDs        []int64 `yaml:"annotation_ids"`
	EnforceAnnotationSet bool    `yaml:"enforce_annotation_set"`

	DownloadImages bool   `yaml:"download_images"`
	DrawOverlay    bool   `yaml:"draw_overlay"`
	MaxWorkers     int    `yaml:"max_workers"`
	OutDir         string `yaml:"out_dir"`
	ManifestPath   string `yaml:"manifest_path"`

	MediaFields      []string `yaml:"media_fields"`
	AnnotationFields []string `yaml:"annotation_fields"`
}

// LoadConfig reads configuration from the specified YAML file and applies
// defaults for unset options.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 8
	}
	if c.OutDir == "" {
		c.OutDir = "out_bundle"
	}
	if len(c.MediaFields) == 0 {
		c.MediaFields = append([]string(nil), DefaultMediaFields...)
	}
	if len(c.AnnotationFields) == 0 {
		c.AnnotationFields = append([]string(nil), DefaultAnnotationFields...)
	}
}

// ValidateCollection checks the options the collection-bundle pipeline
// needs.
func (c *Config) ValidateCollection() error {
	if c.APIToken == "" {
		return fmt.Errorf("api_token is required")
	}
	if c.CollectionID == 0 {
		return fmt.Errorf("collection_id is required")
	}
	if c.AnnotationSetID == 0 {
		return fmt.Errorf("annotation_set_id is required")
	}
	return nil
}

// ValidateSingleMedia checks the options the single-media pipeline needs.
func (c *Config) ValidateSingleMedia() error {
	if c.APIToken == "" {
		return fmt.Errorf("api_token is required")
	}
	if c.MediaID == 0 {
		return fmt.Errorf("media_id is required")
	}
	return nil
}
