package serial

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// StoreCredentialsEnv is the environment variable that may supply
// default credentials for any Store. For s3_store, when its description
// carries no "access_key_id"/"secret_access_key" fields, its value is
// parsed as a JSON object
// {"access_key_id", "secret_access_key", "session_token", "region"} and
// used ahead of the aws-sdk-go-v2 default credential chain. Stores with no
// notion of remote credentials (memory/file/sqlite) ignore it entirely.
const StoreCredentialsEnv = "MAGGMA_STORE_CREDENTIALS"

type envCredentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
	Region          string `json:"region"`
}

func newS3Client(region string, desc Description) (*s3.Client, error) {
	ctx := context.Background()

	accessKey, err := desc.str("access_key_id", "")
	if err != nil {
		return nil, err
	}
	secretKey, err := desc.str("secret_access_key", "")
	if err != nil {
		return nil, err
	}

	var env envCredentials
	if accessKey == "" || secretKey == "" {
		if raw := os.Getenv(StoreCredentialsEnv); raw != "" {
			if err := json.Unmarshal([]byte(raw), &env); err != nil {
				return nil, fmt.Errorf("%s: invalid JSON: %w", StoreCredentialsEnv, err)
			}
		}
	}
	if accessKey == "" {
		accessKey = env.AccessKeyID
	}
	if secretKey == "" {
		secretKey = env.SecretAccessKey
	}
	if region == "" {
		region = env.Region
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, env.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}
