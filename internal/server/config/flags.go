package config

import (
	"flag"
	"os"
	"time"

	"github.com/dzintars-a/coldkeeper/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-u string   S3 access key
//	-p string   S3 secret key
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-w string   notification webhook URL
//	-m string   document-store gateway URL
//	-t int      webhook request timeout, seconds
//	-n int      evaluation file cap
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. The webhook
// timeout is accepted as an integer in seconds and converted to a
// time.Duration value.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-u", "-p", "-b", "-g", "-e", "-w", "-m", "-t", "-n"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.S3AccessKey, "u", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "p", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.WebhookURL, "w", config.WebhookURL, "notification webhook URL")
	fs.StringVar(&config.DocStoreBaseURL, "m", config.DocStoreBaseURL, "document-store gateway URL")

	webhookTimeout := fs.Int("t", int(config.WebhookTimeout.Seconds()), "webhook timeout (in seconds)")
	fs.IntVar(&config.EvaluationFileCap, "n", config.EvaluationFileCap, "evaluation file cap")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.WebhookTimeout = time.Duration(*webhookTimeout) * time.Second
}
