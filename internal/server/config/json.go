package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dzintars-a/coldkeeper/internal/flagx"
	"github.com/dzintars-a/coldkeeper/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "10s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP     string         `json:"endpoint_addr_http"`
	DatabaseDSN          string         `json:"database_dsn"`
	S3AccessKey          string         `json:"s3_access_key"`
	S3SecretKey          string         `json:"s3_secret_key"`
	S3Bucket             string         `json:"s3_bucket"`
	S3Region             string         `json:"s3_region"`
	S3BaseEndpoint       string         `json:"s3_base_endpoint"`
	WebhookURL           string         `json:"webhook_url"`
	DocStoreBaseURL      string         `json:"docstore_base_url"`
	WebhookTimeout       timex.Duration `json:"webhook_timeout"`
	EvaluationFileCap    int            `json:"evaluation_file_cap"`
	ReferenceCostGBMonth float64        `json:"reference_cost_gb_month"`
	CoolCostGBMonth      float64        `json:"cool_cost_gb_month"`
	ColdCostGBMonth      float64        `json:"cold_cost_gb_month"`
	ArchiveCostGBMonth   float64        `json:"archive_cost_gb_month"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The JSON file path is taken from the -c or -config command-line flags; if
// neither is set, no file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.S3AccessKey = c.S3AccessKey
	config.S3SecretKey = c.S3SecretKey
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.WebhookURL = c.WebhookURL
	config.DocStoreBaseURL = c.DocStoreBaseURL
	config.WebhookTimeout = time.Duration(c.WebhookTimeout.Duration)
	config.EvaluationFileCap = c.EvaluationFileCap
	config.ReferenceCostGBMonth = c.ReferenceCostGBMonth
	config.CoolCostGBMonth = c.CoolCostGBMonth
	config.ColdCostGBMonth = c.ColdCostGBMonth
	config.ArchiveCostGBMonth = c.ArchiveCostGBMonth
}
